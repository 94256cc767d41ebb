package entities

import "time"

// SessionStatus is the lifecycle state of a channel session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// GuestProfile is the durable per-business identity of a contact.
// Created on first contact from any channel and never deleted automatically.
type GuestProfile struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	Language   string    `json:"language,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Conversation is a bounded message thread belonging to a guest.
type Conversation struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	GuestID    string    `json:"guest_id"`
	Channel    Channel   `json:"channel"`
	Language   string    `json:"language,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChannelSession binds (business, channel, recipient) to a guest and a
// conversation. At most one active session exists per tuple; the store
// enforces this with a partial unique index.
type ChannelSession struct {
	ID             string        `json:"id"`
	BusinessID     string        `json:"business_id"`
	Channel        Channel       `json:"channel"`
	Recipient      string        `json:"recipient"`
	GuestID        string        `json:"guest_id"`
	ConversationID string        `json:"conversation_id"`
	Status         SessionStatus `json:"status"`
	LastMessageAt  time.Time     `json:"last_message_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Business is a tenant. API keys are stored bcrypt-hashed.
type Business struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyHash   string    `json:"-"`
	ReplyEnabled bool      `json:"reply_enabled"`
	CreatedAt    time.Time `json:"created_at"`
}
