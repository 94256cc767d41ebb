package usecases

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"stayline/internal/entities"
	"stayline/internal/infrastructure"
	"stayline/internal/interfaces"
)

// Batch sizes are a conservative hedge against provider rate limits:
// WhatsApp-class channels throttle hard, SMS providers queue internally.
const (
	whatsappBatchSize = 10
	defaultBatchSize  = 50
	defaultBatchDelay = time.Second
)

// RecipientResult is the per-recipient outcome of a broadcast.
type RecipientResult struct {
	Recipient       string `json:"recipient"`
	QueuedMessageID string `json:"queued_message_id,omitempty"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
}

// BroadcastResult summarizes one fan-out.
type BroadcastResult struct {
	BroadcastID string            `json:"broadcast_id"`
	Total       int               `json:"total"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Recipients  []RecipientResult `json:"recipients"`
}

// Broadcaster fans one message out to many recipients through the gateway's
// send path: batched, rate limited per channel, best effort.
type Broadcaster struct {
	gateway *UnifiedGateway
	events  interfaces.EventPublisher

	BatchDelay time.Duration

	mu       sync.Mutex
	limiters map[entities.Channel]*rate.Limiter
}

func NewBroadcaster(gateway *UnifiedGateway, events interfaces.EventPublisher) *Broadcaster {
	return &Broadcaster{
		gateway:    gateway,
		events:     events,
		BatchDelay: defaultBatchDelay,
		limiters:   make(map[entities.Channel]*rate.Limiter),
	}
}

// limiter returns the per-channel rate limiter, sized to the channel's
// batch appetite.
func (b *Broadcaster) limiter(channel entities.Channel) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[channel]
	if !ok {
		size := batchSizeFor(channel)
		l = rate.NewLimiter(rate.Limit(size), size)
		b.limiters[channel] = l
	}
	return l
}

func batchSizeFor(channel entities.Channel) int {
	if channel == entities.ChannelWhatsApp {
		return whatsappBatchSize
	}
	return defaultBatchSize
}

// Broadcast sends body to every recipient. Recipients are split into
// channel-sized batches; each batch is sent concurrently, and batches are
// separated by BatchDelay. One recipient failing never stops the rest.
func (b *Broadcaster) Broadcast(ctx context.Context, businessID string, channel entities.Channel, recipients []string, body string) (*BroadcastResult, error) {
	if len(recipients) == 0 {
		return nil, entities.NewError(entities.ErrKindValidation, "broadcast", "no recipients", nil)
	}
	// Fail fast before any fan-out work if the channel is unconfigured.
	if _, err := b.gateway.registry.Get(businessID, channel); err != nil {
		return nil, err
	}

	result := &BroadcastResult{
		BroadcastID: newBroadcastID(),
		Total:       len(recipients),
		Recipients:  make([]RecipientResult, len(recipients)),
	}

	batchSize := batchSizeFor(channel)
	limiter := b.limiter(channel)

	for start := 0; start < len(recipients); start += batchSize {
		end := start + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				result.Recipients[idx] = b.sendOne(ctx, limiter, businessID, channel, recipients[idx], body)
			}(i)
		}
		wg.Wait()

		if end < len(recipients) {
			select {
			case <-ctx.Done():
				b.finish(ctx, businessID, channel, result)
				return result, ctx.Err()
			case <-time.After(b.BatchDelay):
			}
		}
	}

	b.finish(ctx, businessID, channel, result)
	return result, nil
}

func newBroadcastID() string { return uuid.NewString() }

func (b *Broadcaster) sendOne(ctx context.Context, limiter *rate.Limiter, businessID string, channel entities.Channel, recipient, body string) RecipientResult {
	if err := limiter.Wait(ctx); err != nil {
		return RecipientResult{Recipient: recipient, Error: err.Error()}
	}

	msg, err := b.gateway.SendMessage(ctx, SendRequest{
		BusinessID: businessID,
		Channel:    channel,
		Recipient:  recipient,
		Body:       body,
		Kind:       entities.KindText,
	})
	res := RecipientResult{Recipient: recipient}
	if msg != nil {
		res.QueuedMessageID = msg.ID
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

func (b *Broadcaster) finish(ctx context.Context, businessID string, channel entities.Channel, result *BroadcastResult) {
	for _, r := range result.Recipients {
		if r.Success {
			result.Succeeded++
		} else if r.Error != "" {
			result.Failed++
		}
	}
	if b.events != nil {
		_ = b.events.Publish(ctx, infrastructure.EventBroadcastCompleted, map[string]any{
			"broadcast_id": result.BroadcastID,
			"business_id":  businessID,
			"channel":      channel,
			"total":        result.Total,
			"succeeded":    result.Succeeded,
			"failed":       result.Failed,
		})
	}
}
