package entities

import "time"

// Channel identifies a messaging provider.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
)

// Valid reports whether the channel is one we have an adapter for.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelTelegram:
		return true
	}
	return false
}

// MessageKind classifies the content of a message.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindButton      MessageKind = "button"
	KindInteractive MessageKind = "interactive"
	KindMedia       MessageKind = "media"
)

// Role of a stored conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// NormalizedMessage is the provider-agnostic form of one inbound event.
// Produced by a channel adapter; never persisted directly.
type NormalizedMessage struct {
	Channel      Channel     `json:"channel"`
	ExternalID   string      `json:"external_id"`
	Sender       string      `json:"sender"`
	SenderName   string      `json:"sender_name,omitempty"`
	Recipient    string      `json:"recipient"`
	Kind         MessageKind `json:"kind"`
	Body         string      `json:"body"`
	MediaRef     string      `json:"media_ref,omitempty"`
	RawTimestamp string      `json:"raw_timestamp,omitempty"`
}

// Message is one immutable entry in a conversation. Ordered by CreatedAt
// within its conversation; appends only, never updated.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           Role              `json:"role"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
