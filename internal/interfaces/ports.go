package interfaces

import (
	"context"
	"time"

	"stayline/internal/entities"
)

// SendOptions carries optional provider parameters for a send.
type SendOptions struct {
	MediaRef     string   // URL or provider media id
	MediaCaption string
	ReplyToID    string   // provider message id to thread under
	Buttons      []Button // for interactive sends
	TemplateName string
	TemplateLang string
	TemplateArgs []string
}

// Button is one quick-reply option on an interactive message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ChannelAdapter translates between a provider's wire format and the
// normalized message model, and performs the provider's outbound calls.
// One implementation per provider.
type ChannelAdapter interface {
	Channel() entities.Channel

	// VerifyWebhook handles a challenge/subscribe handshake. Providers
	// without one return an unsupported-kind error.
	VerifyWebhook(mode, token, challenge string) (string, error)

	// Normalize extracts inbound messages from one webhook delivery.
	// Malformed or partial payloads yield zero events, never an error.
	Normalize(raw []byte, contentType string) []entities.NormalizedMessage

	// NormalizeReceipts extracts delivery-status updates from a delivery.
	NormalizeReceipts(raw []byte, contentType string) []entities.DeliveryReceipt

	// Send performs the authenticated provider call and returns the
	// provider's message id.
	Send(ctx context.Context, recipient, body string, kind entities.MessageKind, opts SendOptions) (string, error)

	// Capability extensions. Providers that lack one return an error of
	// kind unsupported; callers must not treat that as a crash.
	SendTemplate(ctx context.Context, recipient, name, lang string, args []string) (string, error)
	SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error)
	SendButtons(ctx context.Context, recipient, body string, buttons []Button) (string, error)
	MarkRead(ctx context.Context, providerMessageID string) error
}

// ReplyGenerator is the black-box AI collaborator. The gateway only ever
// calls it with conversation history plus business context and sends back
// whatever text it returns.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, history []entities.Message, businessContext string) (string, error)
}

// SessionStore persists guests, conversations and channel sessions.
// ResolveSession is the atomic find-or-create: concurrent calls for the same
// (business, channel, recipient) must converge on a single active session.
type SessionStore interface {
	ResolveSession(ctx context.Context, businessID string, channel entities.Channel, recipient string, idleWindow time.Duration) (*entities.GuestProfile, *entities.Conversation, *entities.ChannelSession, error)
	GetSession(ctx context.Context, businessID string, channel entities.Channel, recipient string) (*entities.ChannelSession, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	CloseSession(ctx context.Context, sessionID string) error
	GetGuest(ctx context.Context, guestID string) (*entities.GuestProfile, error)
	UpdateGuest(ctx context.Context, guest *entities.GuestProfile) error
	GetConversation(ctx context.Context, conversationID string) (*entities.Conversation, error)
}

// MessageStore is the append-only conversation log.
type MessageStore interface {
	Append(ctx context.Context, conversationID string, role entities.Role, content string, metadata map[string]string) (*entities.Message, error)
	History(ctx context.Context, conversationID string, limit int) ([]entities.Message, error)
}

// QueueStore is the durable outbound queue.
type QueueStore interface {
	Enqueue(ctx context.Context, msg *entities.QueuedMessage) error
	// ClaimDue atomically claims up to limit pending messages with
	// scheduledFor <= now, ordered by priority DESC, scheduledFor ASC.
	// Claimed rows are not visible to a concurrent claim.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]entities.QueuedMessage, error)
	// ClaimByID claims a single pending message for an immediate send
	// attempt. It reports false when the row is no longer pending, which
	// means a concurrent drain already owns it.
	ClaimByID(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id, providerMessageID string) error
	// RequeueStuck returns messages abandoned mid-attempt by a crashed
	// worker to pending.
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	MarkFailed(ctx context.Context, id, reason string, status entities.QueueStatus) error
	Reschedule(ctx context.Context, id string, at time.Time, reason string) error
	// ApplyReceipt advances the status of the row matching the provider
	// message id. Unknown ids and backwards transitions are no-ops; it
	// reports whether a row changed.
	ApplyReceipt(ctx context.Context, receipt entities.DeliveryReceipt) (bool, error)
	Get(ctx context.Context, id string) (*entities.QueuedMessage, error)
	ListByStatus(ctx context.Context, businessID string, status entities.QueueStatus, limit int) ([]entities.QueuedMessage, error)
}

// ConfigStore loads validated typed channel configs and tenants.
type ConfigStore interface {
	GetChannelConfig(ctx context.Context, businessID string, channel entities.Channel) (*entities.ChannelConfig, error)
	ListChannelConfigs(ctx context.Context) ([]entities.ChannelConfig, error)
	SetChannelConfig(ctx context.Context, cfg *entities.ChannelConfig) error
	GetBusiness(ctx context.Context, id string) (*entities.Business, error)
}

// EventPublisher pushes gateway events to the external dashboard/AI
// consumers. Implementations must be safe for concurrent use.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Deduper suppresses redelivered webhook events. Seen returns true if the
// key was already recorded within the TTL window.
type Deduper interface {
	Seen(ctx context.Context, key string, ttl time.Duration) bool
}
