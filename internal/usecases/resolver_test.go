package usecases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayline/internal/entities"
	"stayline/internal/repository"
)

func TestResolveCreatesGuestConversationSession(t *testing.T) {
	store := repository.NewMemorySessionStore()
	r := NewSessionResolver(store)

	guest, conv, sess, err := r.Resolve(context.Background(), "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)
	require.NotNil(t, guest)
	require.NotNil(t, conv)
	require.NotNil(t, sess)

	assert.Equal(t, "biz-1", guest.BusinessID)
	assert.Equal(t, "4915551234", guest.Phone)
	assert.Equal(t, guest.ID, sess.GuestID)
	assert.Equal(t, conv.ID, sess.ConversationID)
	assert.Equal(t, entities.SessionActive, sess.Status)
}

func TestResolveReusesActiveSession(t *testing.T) {
	store := repository.NewMemorySessionStore()
	r := NewSessionResolver(store)
	ctx := context.Background()

	_, conv1, sess1, err := r.Resolve(ctx, "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)

	_, conv2, sess2, err := r.Resolve(ctx, "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)

	assert.Equal(t, sess1.ID, sess2.ID)
	assert.Equal(t, conv1.ID, conv2.ID)
	assert.Equal(t, 1, store.ActiveSessionCount("biz-1", entities.ChannelWhatsApp, "4915551234"))
}

func TestRenameGuest(t *testing.T) {
	store := repository.NewMemorySessionStore()
	r := NewSessionResolver(store)
	ctx := context.Background()

	guest, _, _, err := r.Resolve(ctx, "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)
	assert.Empty(t, guest.Name)

	require.NoError(t, r.RenameGuest(ctx, guest.ID, "Ada Lovelace"))

	got, err := store.GetGuest(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)

	// Empty and unknown ids are quiet no-ops.
	require.NoError(t, r.RenameGuest(ctx, guest.ID, ""))
	require.NoError(t, r.RenameGuest(ctx, "nonexistent", "Anyone"))

	got, err = store.GetGuest(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)
}

func TestResolveSeparatesChannelsAndBusinesses(t *testing.T) {
	store := repository.NewMemorySessionStore()
	r := NewSessionResolver(store)
	ctx := context.Background()

	_, _, waSess, err := r.Resolve(ctx, "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)
	_, _, smsSess, err := r.Resolve(ctx, "biz-1", entities.ChannelSMS, "4915551234")
	require.NoError(t, err)
	_, _, otherBiz, err := r.Resolve(ctx, "biz-2", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)

	assert.NotEqual(t, waSess.ID, smsSess.ID)
	assert.NotEqual(t, waSess.ID, otherBiz.ID)
}

func TestResolveIdleSessionOpensNewConversation(t *testing.T) {
	store := repository.NewMemorySessionStore()
	r := NewSessionResolver(store)
	r.IdleWindow = 50 * time.Millisecond
	ctx := context.Background()

	_, conv1, sess1, err := r.Resolve(ctx, "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)

	require.NoError(t, store.TouchSession(ctx, sess1.ID, time.Now().Add(-time.Minute)))

	guest2, conv2, sess2, err := r.Resolve(ctx, "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)

	assert.NotEqual(t, sess1.ID, sess2.ID)
	assert.NotEqual(t, conv1.ID, conv2.ID)
	// Same durable guest identity behind the new episode.
	assert.Equal(t, conv1.GuestID, conv2.GuestID)
	assert.Equal(t, conv1.GuestID, guest2.ID)
	assert.Equal(t, 1, store.ActiveSessionCount("biz-1", entities.ChannelWhatsApp, "4915551234"))
}

func TestResolveValidation(t *testing.T) {
	r := NewSessionResolver(repository.NewMemorySessionStore())
	ctx := context.Background()

	_, _, _, err := r.Resolve(ctx, "biz-1", entities.Channel("carrier-pigeon"), "4915551234")
	require.Error(t, err)
	assert.Equal(t, entities.ErrKindValidation, entities.KindOf(err))

	_, _, _, err = r.Resolve(ctx, "biz-1", entities.ChannelWhatsApp, "")
	require.Error(t, err)
	assert.Equal(t, entities.ErrKindValidation, entities.KindOf(err))
}

func TestResolveConcurrentSingleSession(t *testing.T) {
	store := repository.NewMemorySessionStore()
	r := NewSessionResolver(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	sessionIDs := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, sess, err := r.Resolve(ctx, "biz-1", entities.ChannelWhatsApp, "4915551234")
			if err == nil {
				sessionIDs[idx] = sess.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.ActiveSessionCount("biz-1", entities.ChannelWhatsApp, "4915551234"))
	for _, id := range sessionIDs {
		assert.Equal(t, sessionIDs[0], id)
	}
}
