package usecases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"stayline/internal/entities"
	"stayline/internal/infrastructure"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *gatewayFixture) {
	t.Helper()
	f := newGatewayFixture(t)
	b := NewBroadcaster(f.gateway, f.events)
	b.BatchDelay = 10 * time.Millisecond
	// Tests drive batching, not provider throttling.
	b.limiters[entities.ChannelWhatsApp] = rate.NewLimiter(rate.Inf, 0)
	return b, f
}

func recipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("49155512%03d", i)
	}
	return out
}

func TestBroadcastNoRecipients(t *testing.T) {
	b, _ := newTestBroadcaster(t)

	_, err := b.Broadcast(context.Background(), "biz-1", entities.ChannelWhatsApp, nil, "hi")
	require.Error(t, err)
	assert.Equal(t, entities.ErrKindValidation, entities.KindOf(err))
}

func TestBroadcastUnconfiguredChannelFailsFast(t *testing.T) {
	b, f := newTestBroadcaster(t)

	_, err := b.Broadcast(context.Background(), "biz-1", entities.ChannelSMS, recipients(3), "hi")
	require.Error(t, err)
	assert.Equal(t, entities.ErrKindConfig, entities.KindOf(err))
	assert.Empty(t, f.adapter.sentMessages())
}

func TestBroadcastReachesEveryRecipient(t *testing.T) {
	b, f := newTestBroadcaster(t)

	result, err := b.Broadcast(context.Background(), "biz-1", entities.ChannelWhatsApp, recipients(25), "Happy hour at 6pm!")
	require.NoError(t, err)

	assert.NotEmpty(t, result.BroadcastID)
	assert.Equal(t, 25, result.Total)
	assert.Equal(t, 25, result.Succeeded)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Recipients, 25)
	for _, r := range result.Recipients {
		assert.True(t, r.Success, r.Recipient)
		assert.NotEmpty(t, r.QueuedMessageID, r.Recipient)
	}

	assert.Len(t, f.adapter.sentMessages(), 25)
	assert.Contains(t, f.events.keys(), infrastructure.EventBroadcastCompleted)
}

func TestBroadcastBatchesWithDelay(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	b.BatchDelay = 50 * time.Millisecond

	start := time.Now()
	// 25 whatsapp recipients split into batches of 10, 10 and 5.
	result, err := b.Broadcast(context.Background(), "biz-1", entities.ChannelWhatsApp, recipients(25), "hi")
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, 25, result.Succeeded)
	// Two inter-batch pauses.
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestBroadcastPartialFailure(t *testing.T) {
	b, f := newTestBroadcaster(t)

	perm := entities.NewError(entities.ErrKindProvider, "whatsapp.send", "status 400", nil)
	perm.Permanent = true
	f.adapter.failNextWith(perm, perm, perm)

	result, err := b.Broadcast(context.Background(), "biz-1", entities.ChannelWhatsApp, recipients(10), "hi")
	require.NoError(t, err)

	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 7, result.Succeeded)
	assert.Equal(t, 3, result.Failed)

	failures := 0
	for _, r := range result.Recipients {
		if !r.Success {
			failures++
			assert.Contains(t, r.Error, "status 400")
		}
	}
	assert.Equal(t, 3, failures)
}

func TestBroadcastCancelledContext(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	b.BatchDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := b.Broadcast(ctx, "biz-1", entities.ChannelWhatsApp, recipients(25), "hi")
	require.Error(t, err)
	require.NotNil(t, result)
	// The first batch finished before cancellation.
	assert.GreaterOrEqual(t, result.Succeeded, 10)
	assert.Less(t, result.Succeeded, 25)
}
