package entities

import "time"

// QueueStatus is the delivery state of a queued outbound message.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusSending    QueueStatus = "sending" // claimed by a worker, attempt in flight
	StatusSent       QueueStatus = "sent"
	StatusDelivered  QueueStatus = "delivered"
	StatusRead       QueueStatus = "read"
	StatusFailed     QueueStatus = "failed"
	StatusDeadLetter QueueStatus = "dead_letter"
)

// statusRank orders the happy-path states so receipts can never move a
// message backwards. failed and dead_letter are terminal.
var statusRank = map[QueueStatus]int{
	StatusPending:   0,
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Terminal reports whether no further transition is allowed from s.
func (s QueueStatus) Terminal() bool {
	return s == StatusFailed || s == StatusDeadLetter
}

// CanAdvanceTo reports whether a transition from s to next is a forward
// move on the delivery ladder.
func (s QueueStatus) CanAdvanceTo(next QueueStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed || next == StatusDeadLetter {
		// Failure callbacks may arrive at any non-terminal point.
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// QueuedMessage is a durable outbound send request. Rows are retained as an
// audit record and never deleted.
type QueuedMessage struct {
	ID                string      `json:"id"`
	BusinessID        string      `json:"business_id"`
	Channel           Channel     `json:"channel"`
	Recipient         string      `json:"recipient"`
	Body              string      `json:"body"`
	MediaRef          string      `json:"media_ref,omitempty"`
	Kind              MessageKind `json:"kind"`
	Status            QueueStatus `json:"status"`
	ScheduledFor      time.Time   `json:"scheduled_for"`
	Priority          int         `json:"priority"`
	Retries           int         `json:"retries"`
	LastError         string      `json:"last_error,omitempty"`
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// DeliveryReceipt is a provider callback reporting the fate of a previously
// sent message.
type DeliveryReceipt struct {
	ProviderMessageID string      `json:"provider_message_id"`
	Status            QueueStatus `json:"status"`
	Timestamp         time.Time   `json:"timestamp"`
	ErrorCode         string      `json:"error_code,omitempty"`
	ErrorMessage      string      `json:"error_message,omitempty"`
}
