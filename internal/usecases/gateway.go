package usecases

import (
	"context"
	"fmt"
	"log"
	"time"

	"stayline/internal/entities"
	"stayline/internal/infrastructure"
	"stayline/internal/interfaces"
)

// DefaultFallbackReply is sent when reply generation fails; the guest is
// never left without a response.
const DefaultFallbackReply = "Thanks for your message! A member of our team will get back to you shortly."

// SendRequest is one outbound send through the gateway.
type SendRequest struct {
	BusinessID   string
	Channel      entities.Channel
	Recipient    string
	Body         string
	Kind         entities.MessageKind
	MediaRef     string
	ScheduledFor time.Time // zero means now
	Priority     int
}

// UnifiedGateway is the facade in front of the channel adapters: it routes
// sends to the right adapter and turns raw webhooks into resolved, persisted
// conversation traffic.
type UnifiedGateway struct {
	registry *infrastructure.ChannelRegistry
	resolver *SessionResolver
	messages interfaces.MessageStore
	queue    interfaces.QueueStore
	configs  interfaces.ConfigStore
	replies  interfaces.ReplyGenerator
	events   interfaces.EventPublisher
	dedup    interfaces.Deduper

	FallbackReply string
	HistoryLimit  int
	DedupTTL      time.Duration
}

func NewUnifiedGateway(
	registry *infrastructure.ChannelRegistry,
	resolver *SessionResolver,
	messages interfaces.MessageStore,
	queue interfaces.QueueStore,
	configs interfaces.ConfigStore,
	replies interfaces.ReplyGenerator,
	events interfaces.EventPublisher,
	dedup interfaces.Deduper,
) *UnifiedGateway {
	return &UnifiedGateway{
		registry:      registry,
		resolver:      resolver,
		messages:      messages,
		queue:         queue,
		configs:       configs,
		replies:       replies,
		events:        events,
		dedup:         dedup,
		FallbackReply: DefaultFallbackReply,
		HistoryLimit:  20,
		DedupTTL:      24 * time.Hour,
	}
}

// SendMessage routes a send to the configured adapter. An unconfigured
// channel is rejected before anything is enqueued. Messages scheduled for
// the future are left to the queue worker; immediate sends are attempted
// right away and the outcome is recorded on the queue row and returned.
func (g *UnifiedGateway) SendMessage(ctx context.Context, req SendRequest) (*entities.QueuedMessage, error) {
	adapter, err := g.registry.Get(req.BusinessID, req.Channel)
	if err != nil {
		return nil, err
	}

	msg := &entities.QueuedMessage{
		BusinessID:   req.BusinessID,
		Channel:      req.Channel,
		Recipient:    req.Recipient,
		Body:         req.Body,
		MediaRef:     req.MediaRef,
		Kind:         req.Kind,
		ScheduledFor: req.ScheduledFor,
		Priority:     req.Priority,
	}
	if err := g.queue.Enqueue(ctx, msg); err != nil {
		return nil, err
	}

	if !msg.ScheduledFor.After(time.Now()) {
		claimed, claimErr := g.queue.ClaimByID(ctx, msg.ID)
		if claimErr != nil {
			log.Printf("[GATEWAY] claim %s: %v", msg.ID, claimErr)
			return msg, nil
		}
		if !claimed {
			// A worker drain got there first; it owns the attempt now.
			return msg, nil
		}
		if err := g.deliver(ctx, adapter, msg); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// deliver sends a message the caller has already claimed and records the
// outcome, mirroring the queue worker's policy.
func (g *UnifiedGateway) deliver(ctx context.Context, adapter interfaces.ChannelAdapter, msg *entities.QueuedMessage) error {
	providerID, err := adapter.Send(ctx, msg.Recipient, msg.Body, msg.Kind, interfaces.SendOptions{MediaRef: msg.MediaRef})
	if err == nil {
		if markErr := g.queue.MarkSent(ctx, msg.ID, providerID); markErr != nil {
			return markErr
		}
		msg.Status = entities.StatusSent
		msg.ProviderMessageID = providerID
		g.publish(ctx, infrastructure.EventMessageQueued, map[string]any{
			"queued_message_id": msg.ID,
			"business_id":       msg.BusinessID,
			"channel":           msg.Channel,
			"status":            msg.Status,
		})
		return nil
	}

	if entities.Retryable(err) {
		// Hand transient failures to the queue worker's backoff policy.
		if rErr := g.queue.Reschedule(ctx, msg.ID, time.Now().Add(30*time.Second), err.Error()); rErr != nil {
			log.Printf("[GATEWAY] reschedule %s: %v", msg.ID, rErr)
		}
		msg.Status = entities.StatusPending
		msg.LastError = err.Error()
		return err
	}

	if mErr := g.queue.MarkFailed(ctx, msg.ID, err.Error(), entities.StatusFailed); mErr != nil {
		log.Printf("[GATEWAY] mark failed %s: %v", msg.ID, mErr)
	}
	msg.Status = entities.StatusFailed
	msg.LastError = err.Error()
	return err
}

// ReceiveWebhook runs one provider delivery through normalize → dedup →
// resolve → persist → (optional) reply. It returns the number of inbound
// messages processed. Malformed payloads normalize to zero events and are
// not an error; providers retry hard 5xx responses forever.
func (g *UnifiedGateway) ReceiveWebhook(ctx context.Context, businessID string, channel entities.Channel, raw []byte, contentType string) (int, error) {
	adapter, err := g.registry.Get(businessID, channel)
	if err != nil {
		return 0, err
	}

	g.applyReceipts(ctx, adapter, raw, contentType)

	events := adapter.Normalize(raw, contentType)
	if len(events) == 0 {
		return 0, nil
	}

	processed := 0
	for _, ev := range events {
		if g.dedup != nil && ev.ExternalID != "" {
			key := fmt.Sprintf("%s:%s:%s", businessID, ev.Channel, ev.ExternalID)
			if g.dedup.Seen(ctx, key, g.DedupTTL) {
				log.Printf("[GATEWAY] duplicate delivery %s, skipping", key)
				continue
			}
		}
		if err := g.handleInbound(ctx, businessID, adapter, ev); err != nil {
			// Local to this event; the delivery's other events still run.
			log.Printf("[GATEWAY] inbound %s/%s: %v", ev.Channel, ev.ExternalID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

// ReceiveStatusCallback runs a provider delivery-status callback. Unlike
// ReceiveWebhook it only applies receipts; nothing on this path may create
// guests, sessions or conversation entries.
func (g *UnifiedGateway) ReceiveStatusCallback(ctx context.Context, businessID string, channel entities.Channel, raw []byte, contentType string) (int, error) {
	adapter, err := g.registry.Get(businessID, channel)
	if err != nil {
		return 0, err
	}
	return g.applyReceipts(ctx, adapter, raw, contentType), nil
}

func (g *UnifiedGateway) applyReceipts(ctx context.Context, adapter interfaces.ChannelAdapter, raw []byte, contentType string) int {
	applied := 0
	for _, receipt := range adapter.NormalizeReceipts(raw, contentType) {
		changed, err := g.queue.ApplyReceipt(ctx, receipt)
		if err != nil {
			log.Printf("[GATEWAY] receipt %s: %v", receipt.ProviderMessageID, err)
			continue
		}
		if changed {
			applied++
			g.publish(ctx, infrastructure.EventMessageStatus, map[string]any{
				"provider_message_id": receipt.ProviderMessageID,
				"status":              receipt.Status,
			})
		}
	}
	return applied
}

func (g *UnifiedGateway) handleInbound(ctx context.Context, businessID string, adapter interfaces.ChannelAdapter, ev entities.NormalizedMessage) error {
	guest, conv, sess, err := g.resolver.Resolve(ctx, businessID, ev.Channel, ev.Sender)
	if err != nil {
		return err
	}

	if ev.SenderName != "" && guest.Name != ev.SenderName {
		if err := g.resolver.RenameGuest(ctx, guest.ID, ev.SenderName); err != nil {
			log.Printf("[GATEWAY] guest rename %s: %v", guest.ID, err)
		}
	}

	meta := map[string]string{"external_id": ev.ExternalID, "kind": string(ev.Kind)}
	if ev.MediaRef != "" {
		meta["media_ref"] = ev.MediaRef
	}
	if _, err := g.messages.Append(ctx, conv.ID, entities.RoleUser, ev.Body, meta); err != nil {
		return err
	}

	g.publish(ctx, infrastructure.EventMessageReceived, map[string]any{
		"business_id":     businessID,
		"channel":         ev.Channel,
		"conversation_id": conv.ID,
		"session_id":      sess.ID,
		"external_id":     ev.ExternalID,
		"kind":            ev.Kind,
	})

	// Best effort; several channels have no read receipts.
	if err := adapter.MarkRead(ctx, ev.ExternalID); err != nil && entities.KindOf(err) != entities.ErrKindUnsupported {
		log.Printf("[GATEWAY] mark read %s: %v", ev.ExternalID, err)
	}

	if !g.replyEnabled(ctx, businessID) {
		return nil
	}

	reply := g.generateReply(ctx, conv.ID)
	msg := &entities.QueuedMessage{
		BusinessID: businessID,
		Channel:    ev.Channel,
		Recipient:  ev.Sender,
		Body:       reply,
		Kind:       entities.KindText,
	}
	if err := g.queue.Enqueue(ctx, msg); err != nil {
		return err
	}
	claimed, claimErr := g.queue.ClaimByID(ctx, msg.ID)
	if claimErr != nil || !claimed {
		if claimErr != nil {
			log.Printf("[GATEWAY] claim reply %s: %v", msg.ID, claimErr)
		}
		// A worker drain owns the send; the transcript still gets the reply.
		_, err = g.messages.Append(ctx, conv.ID, entities.RoleAssistant, reply, map[string]string{
			"queued_message_id": msg.ID,
		})
		return err
	}
	if err := g.deliver(ctx, adapter, msg); err != nil {
		// The inbound message is already persisted; the reply rides the
		// queue's retry policy from here.
		log.Printf("[GATEWAY] reply to %s: %v", ev.Sender, err)
		return nil
	}
	_, err = g.messages.Append(ctx, conv.ID, entities.RoleAssistant, reply, map[string]string{
		"queued_message_id": msg.ID,
	})
	return err
}

// generateReply asks the collaborator for a reply and falls back to the
// static message on any failure.
func (g *UnifiedGateway) generateReply(ctx context.Context, conversationID string) string {
	history, err := g.messages.History(ctx, conversationID, g.HistoryLimit)
	if err != nil {
		log.Printf("[GATEWAY] history %s: %v", conversationID, err)
		return g.FallbackReply
	}
	reply, err := g.replies.GenerateReply(ctx, history, "")
	if err != nil || reply == "" {
		log.Printf("[GATEWAY] reply generation failed, using fallback: %v", err)
		return g.FallbackReply
	}
	return reply
}

func (g *UnifiedGateway) replyEnabled(ctx context.Context, businessID string) bool {
	if g.replies == nil {
		return false
	}
	if g.configs == nil {
		return true
	}
	business, err := g.configs.GetBusiness(ctx, businessID)
	if err != nil {
		log.Printf("[GATEWAY] business lookup %s: %v", businessID, err)
		return false
	}
	if business == nil {
		return false
	}
	return business.ReplyEnabled
}

func (g *UnifiedGateway) publish(ctx context.Context, key string, event map[string]any) {
	if g.events == nil {
		return
	}
	if err := g.events.Publish(ctx, key, event); err != nil {
		log.Printf("[GATEWAY] publish %s: %v", key, err)
	}
}
