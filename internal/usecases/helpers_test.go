package usecases

import (
	"context"
	"sync"
	"time"

	"stayline/internal/entities"
	"stayline/internal/interfaces"
)

// fakeAdapter is a scriptable ChannelAdapter for usecase tests.
type fakeAdapter struct {
	mu      sync.Mutex
	channel entities.Channel

	sendErrs   []error // consumed one per Send call; nil entry means success
	sent       []fakeSend
	nextID     int
	inbound    []entities.NormalizedMessage
	receipts   []entities.DeliveryReceipt
	markedRead []string

	// When set, Send signals sendEntered and then parks on sendGate. Both
	// must be assigned before the first Send call.
	sendEntered chan struct{}
	sendGate    chan struct{}
}

type fakeSend struct {
	Recipient string
	Body      string
	Kind      entities.MessageKind
	At        time.Time
}

func newFakeAdapter(channel entities.Channel) *fakeAdapter {
	return &fakeAdapter{channel: channel}
}

func (f *fakeAdapter) Channel() entities.Channel { return f.channel }

func (f *fakeAdapter) failNextWith(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErrs = append(f.sendErrs, errs...)
}

func (f *fakeAdapter) sentMessages() []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeSend, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeAdapter) VerifyWebhook(mode, token, challenge string) (string, error) {
	return challenge, nil
}

func (f *fakeAdapter) Normalize(raw []byte, contentType string) []entities.NormalizedMessage {
	return f.inbound
}

func (f *fakeAdapter) NormalizeReceipts(raw []byte, contentType string) []entities.DeliveryReceipt {
	return f.receipts
}

func (f *fakeAdapter) Send(ctx context.Context, recipient, body string, kind entities.MessageKind, opts interfaces.SendOptions) (string, error) {
	if f.sendEntered != nil {
		f.sendEntered <- struct{}{}
		<-f.sendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.nextID++
	f.sent = append(f.sent, fakeSend{Recipient: recipient, Body: body, Kind: kind, At: time.Now()})
	return "prov-" + string(rune('0'+f.nextID%10)) + recipient, nil
}

func (f *fakeAdapter) SendTemplate(ctx context.Context, recipient, name, lang string, args []string) (string, error) {
	return f.Send(ctx, recipient, name, entities.KindText, interfaces.SendOptions{})
}

func (f *fakeAdapter) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	return f.Send(ctx, recipient, caption, entities.KindMedia, interfaces.SendOptions{MediaRef: mediaRef})
}

func (f *fakeAdapter) SendButtons(ctx context.Context, recipient, body string, buttons []interfaces.Button) (string, error) {
	return f.Send(ctx, recipient, body, entities.KindButton, interfaces.SendOptions{Buttons: buttons})
}

func (f *fakeAdapter) MarkRead(ctx context.Context, providerMessageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, providerMessageID)
	return nil
}

// fakeReplier is a scriptable ReplyGenerator.
type fakeReplier struct {
	reply string
	err   error
	calls int
}

func (f *fakeReplier) GenerateReply(ctx context.Context, history []entities.Message, businessContext string) (string, error) {
	f.calls++
	return f.reply, f.err
}

// fakeEvents records published events.
type fakeEvents struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Key   string
	Event any
}

func (f *fakeEvents) Publish(ctx context.Context, routingKey string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{Key: routingKey, Event: event})
	return nil
}

func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Key)
	}
	return out
}

// fakeDeduper is a map-backed Deduper.
type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (f *fakeDeduper) Seen(ctx context.Context, key string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return true
	}
	f.seen[key] = true
	return false
}
