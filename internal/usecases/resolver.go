package usecases

import (
	"context"
	"time"

	"stayline/internal/entities"
	"stayline/internal/interfaces"
)

// DefaultIdleWindow is how long a session may sit without traffic before the
// next inbound message opens a fresh conversation episode.
const DefaultIdleWindow = 24 * time.Hour

// SessionResolver attaches identity to inbound traffic: it finds or creates
// the guest profile, conversation and active channel session that own a
// (business, channel, recipient) tuple.
type SessionResolver struct {
	store      interfaces.SessionStore
	IdleWindow time.Duration
}

func NewSessionResolver(store interfaces.SessionStore) *SessionResolver {
	return &SessionResolver{
		store:      store,
		IdleWindow: DefaultIdleWindow,
	}
}

// Resolve returns the owning records for the tuple. The store guarantees
// that concurrent calls converge on a single active session.
func (r *SessionResolver) Resolve(ctx context.Context, businessID string, channel entities.Channel, recipient string) (*entities.GuestProfile, *entities.Conversation, *entities.ChannelSession, error) {
	if !channel.Valid() {
		return nil, nil, nil, entities.NewError(entities.ErrKindValidation, "resolver.resolve", "unknown channel", nil)
	}
	if recipient == "" {
		return nil, nil, nil, entities.NewError(entities.ErrKindValidation, "resolver.resolve", "empty recipient", nil)
	}
	return r.store.ResolveSession(ctx, businessID, channel, recipient, r.IdleWindow)
}

// RenameGuest records the display name a provider attached to an inbound
// message. Same-name updates are dropped without touching the store.
func (r *SessionResolver) RenameGuest(ctx context.Context, guestID, name string) error {
	if name == "" {
		return nil
	}
	guest, err := r.store.GetGuest(ctx, guestID)
	if err != nil {
		return err
	}
	if guest == nil || guest.Name == name {
		return nil
	}
	guest.Name = name
	return r.store.UpdateGuest(ctx, guest)
}
