package usecases

import (
	"context"
	"log"
	"time"

	"stayline/internal/entities"
	"stayline/internal/infrastructure"
	"stayline/internal/interfaces"
)

// QueueWorker drains the outbound queue on a fixed interval and applies
// delivery receipts. Claiming is atomic in the store, so several workers can
// run concurrently without double-sending.
type QueueWorker struct {
	queue    interfaces.QueueStore
	registry *infrastructure.ChannelRegistry
	events   interfaces.EventPublisher

	MaxAttempts  int           // attempts before a retryable failure goes to dead_letter
	BaseBackoff  time.Duration // first retry delay, doubles per attempt
	BatchSize    int           // max messages claimed per drain
	StuckTimeout time.Duration // sending-state age treated as a crashed worker
}

func NewQueueWorker(queue interfaces.QueueStore, registry *infrastructure.ChannelRegistry, events interfaces.EventPublisher) *QueueWorker {
	return &QueueWorker{
		queue:        queue,
		registry:     registry,
		events:       events,
		MaxAttempts:  5,
		BaseBackoff:  30 * time.Second,
		BatchSize:    25,
		StuckTimeout: 5 * time.Minute,
	}
}

// Run polls until the context is cancelled.
func (w *QueueWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.queue.RequeueStuck(ctx, w.StuckTimeout); err != nil {
				log.Printf("[QUEUE] requeue stuck failed: %v", err)
			} else if n > 0 {
				log.Printf("[QUEUE] requeued %d stuck messages", n)
			}
			if _, err := w.ProcessDue(ctx, time.Now(), w.BatchSize); err != nil {
				log.Printf("[QUEUE] drain failed: %v", err)
			}
		}
	}
}

// ProcessDue claims due pending messages and attempts each send. Per-message
// failures are recorded on the row and never abort the batch.
func (w *QueueWorker) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	claimed, err := w.queue.ClaimDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	for i := range claimed {
		w.attempt(ctx, &claimed[i])
	}
	return len(claimed), nil
}

func (w *QueueWorker) attempt(ctx context.Context, msg *entities.QueuedMessage) {
	adapter, err := w.registry.Get(msg.BusinessID, msg.Channel)
	if err != nil {
		// Channel was unconfigured after enqueue; nothing to retry.
		w.fail(ctx, msg, err, entities.StatusFailed)
		return
	}

	opts := interfaces.SendOptions{MediaRef: msg.MediaRef}
	providerID, err := adapter.Send(ctx, msg.Recipient, msg.Body, msg.Kind, opts)
	if err == nil {
		if markErr := w.queue.MarkSent(ctx, msg.ID, providerID); markErr != nil {
			log.Printf("[QUEUE] mark sent %s: %v", msg.ID, markErr)
			return
		}
		msg.Status = entities.StatusSent
		msg.ProviderMessageID = providerID
		w.publishStatus(ctx, msg, "")
		return
	}

	attempts := msg.Retries + 1
	if entities.Retryable(err) && attempts < w.MaxAttempts {
		delay := w.BaseBackoff << uint(msg.Retries)
		if rescheduleErr := w.queue.Reschedule(ctx, msg.ID, time.Now().Add(delay), err.Error()); rescheduleErr != nil {
			log.Printf("[QUEUE] reschedule %s: %v", msg.ID, rescheduleErr)
		}
		log.Printf("[QUEUE] send %s failed (attempt %d/%d), retrying in %s: %v",
			msg.ID, attempts, w.MaxAttempts, delay, err)
		return
	}

	status := entities.StatusFailed
	if entities.Retryable(err) {
		// Retryable but out of attempts: park it where an operator will
		// find it instead of leaving a silent failure.
		status = entities.StatusDeadLetter
	}
	w.fail(ctx, msg, err, status)
}

func (w *QueueWorker) fail(ctx context.Context, msg *entities.QueuedMessage, cause error, status entities.QueueStatus) {
	if err := w.queue.MarkFailed(ctx, msg.ID, cause.Error(), status); err != nil {
		log.Printf("[QUEUE] mark failed %s: %v", msg.ID, err)
		return
	}
	msg.Status = status
	msg.LastError = cause.Error()
	log.Printf("[QUEUE] send %s -> %s: %v", msg.ID, status, cause)
	w.publishStatus(ctx, msg, cause.Error())
}

// ApplyDeliveryReceipt advances the matching queued message. Receipts for
// unknown provider ids are ignored: providers replay status callbacks and
// also report messages sent outside this system.
func (w *QueueWorker) ApplyDeliveryReceipt(ctx context.Context, receipt entities.DeliveryReceipt) error {
	changed, err := w.queue.ApplyReceipt(ctx, receipt)
	if err != nil {
		return err
	}
	if !changed {
		log.Printf("[QUEUE] ignoring receipt for unknown or settled message %s", receipt.ProviderMessageID)
		return nil
	}
	if w.events != nil {
		_ = w.events.Publish(ctx, infrastructure.EventMessageStatus, map[string]any{
			"provider_message_id": receipt.ProviderMessageID,
			"status":              receipt.Status,
			"error_code":          receipt.ErrorCode,
			"timestamp":           receipt.Timestamp,
		})
	}
	return nil
}

func (w *QueueWorker) publishStatus(ctx context.Context, msg *entities.QueuedMessage, errMsg string) {
	if w.events == nil {
		return
	}
	_ = w.events.Publish(ctx, infrastructure.EventMessageStatus, map[string]any{
		"queued_message_id":   msg.ID,
		"business_id":         msg.BusinessID,
		"channel":             msg.Channel,
		"status":              msg.Status,
		"provider_message_id": msg.ProviderMessageID,
		"error":               errMsg,
	})
}
