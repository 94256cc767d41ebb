package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stayline/internal/entities"
)

type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// ResolveSession finds or creates the guest, conversation and active session
// for a (business, channel, recipient) tuple. The whole operation runs in a
// transaction against the partial unique index on active sessions, so
// concurrent calls for the same tuple converge on one session: the loser of
// the insert race rolls back and picks up the winner's row on retry.
func (r *SessionRepository) ResolveSession(ctx context.Context, businessID string, channel entities.Channel, recipient string, idleWindow time.Duration) (*entities.GuestProfile, *entities.Conversation, *entities.ChannelSession, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		guest, conv, sess, retry, err := r.resolveOnce(ctx, businessID, channel, recipient, idleWindow)
		if err != nil {
			lastErr = err
			if retry {
				continue
			}
			return nil, nil, nil, err
		}
		return guest, conv, sess, nil
	}
	return nil, nil, nil, lastErr
}

func (r *SessionRepository) resolveOnce(ctx context.Context, businessID string, channel entities.Channel, recipient string, idleWindow time.Duration) (*entities.GuestProfile, *entities.Conversation, *entities.ChannelSession, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, nil, false, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	// Existing active session?
	sess, err := scanSession(tx.QueryRow(ctx, `
		SELECT id, business_id, channel, recipient, guest_id, conversation_id, status, last_message_at, created_at
		FROM channel_sessions
		WHERE business_id=$1 AND channel=$2 AND recipient=$3 AND status='active'
		FOR UPDATE
	`, businessID, channel, recipient))
	if err != nil && err != pgx.ErrNoRows {
		return nil, nil, nil, false, err
	}

	if err == nil {
		if idleWindow <= 0 || now.Sub(sess.LastMessageAt) <= idleWindow {
			if _, err := tx.Exec(ctx,
				`UPDATE channel_sessions SET last_message_at=$2 WHERE id=$1`, sess.ID, now); err != nil {
				return nil, nil, nil, false, err
			}
			sess.LastMessageAt = now
			guest, conv, err := r.loadLinked(ctx, tx, sess)
			if err != nil {
				return nil, nil, nil, false, err
			}
			return guest, conv, sess, false, tx.Commit(ctx)
		}
		// Idle-expired: close it and fall through to open a fresh episode.
		if _, err := tx.Exec(ctx,
			`UPDATE channel_sessions SET status='closed' WHERE id=$1`, sess.ID); err != nil {
			return nil, nil, nil, false, err
		}
	}

	// Find-or-create the guest by its contact identifier. Phone carries the
	// channel identifier (phone number, or chat id for networks that do not
	// expose one); no merging across different identifiers.
	guest := &entities.GuestProfile{}
	err = tx.QueryRow(ctx, `
		INSERT INTO guests (id, business_id, phone, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (business_id, phone) WHERE phone IS NOT NULL AND phone <> ''
		DO UPDATE SET last_seen_at=EXCLUDED.last_seen_at
		RETURNING id, business_id, COALESCE(phone,''), COALESCE(email,''), COALESCE(name,''), COALESCE(language,''), last_seen_at, created_at
	`, uuid.NewString(), businessID, recipient, now).Scan(
		&guest.ID, &guest.BusinessID, &guest.Phone, &guest.Email, &guest.Name, &guest.Language, &guest.LastSeenAt, &guest.CreatedAt)
	if err != nil {
		return nil, nil, nil, false, err
	}

	conv := &entities.Conversation{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		GuestID:    guest.ID,
		Channel:    channel,
		CreatedAt:  now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO conversations (id, business_id, guest_id, channel, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, conv.ID, conv.BusinessID, conv.GuestID, conv.Channel, conv.CreatedAt); err != nil {
		return nil, nil, nil, false, err
	}

	newSess := &entities.ChannelSession{
		ID:             uuid.NewString(),
		BusinessID:     businessID,
		Channel:        channel,
		Recipient:      recipient,
		GuestID:        guest.ID,
		ConversationID: conv.ID,
		Status:         entities.SessionActive,
		LastMessageAt:  now,
		CreatedAt:      now,
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO channel_sessions (id, business_id, channel, recipient, guest_id, conversation_id, status, last_message_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $7)
		ON CONFLICT (business_id, channel, recipient) WHERE status='active'
		DO NOTHING
	`, newSess.ID, newSess.BusinessID, newSess.Channel, newSess.Recipient, newSess.GuestID, newSess.ConversationID, now)
	if err != nil {
		return nil, nil, nil, false, err
	}
	if tag.RowsAffected() == 0 {
		// A concurrent resolver won the race; retry and adopt its session.
		return nil, nil, nil, true, pgx.ErrNoRows
	}

	return guest, conv, newSess, false, tx.Commit(ctx)
}

func (r *SessionRepository) loadLinked(ctx context.Context, tx pgx.Tx, sess *entities.ChannelSession) (*entities.GuestProfile, *entities.Conversation, error) {
	guest := &entities.GuestProfile{}
	err := tx.QueryRow(ctx, `
		SELECT id, business_id, COALESCE(phone,''), COALESCE(email,''), COALESCE(name,''), COALESCE(language,''), last_seen_at, created_at
		FROM guests WHERE id=$1
	`, sess.GuestID).Scan(&guest.ID, &guest.BusinessID, &guest.Phone, &guest.Email, &guest.Name, &guest.Language, &guest.LastSeenAt, &guest.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	conv := &entities.Conversation{}
	err = tx.QueryRow(ctx, `
		SELECT id, business_id, guest_id, channel, COALESCE(language,''), created_at
		FROM conversations WHERE id=$1
	`, sess.ConversationID).Scan(&conv.ID, &conv.BusinessID, &conv.GuestID, &conv.Channel, &conv.Language, &conv.CreatedAt)
	if err != nil {
		return nil, nil, err
	}
	return guest, conv, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, businessID string, channel entities.Channel, recipient string) (*entities.ChannelSession, error) {
	sess, err := scanSession(r.db.QueryRow(ctx, `
		SELECT id, business_id, channel, recipient, guest_id, conversation_id, status, last_message_at, created_at
		FROM channel_sessions
		WHERE business_id=$1 AND channel=$2 AND recipient=$3 AND status='active'
	`, businessID, channel, recipient))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (r *SessionRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE channel_sessions SET last_message_at=$2 WHERE id=$1`, sessionID, at)
	return err
}

func (r *SessionRepository) CloseSession(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE channel_sessions SET status='closed' WHERE id=$1`, sessionID)
	return err
}

func (r *SessionRepository) GetConversation(ctx context.Context, conversationID string) (*entities.Conversation, error) {
	conv := &entities.Conversation{}
	err := r.db.QueryRow(ctx, `
		SELECT id, business_id, guest_id, channel, COALESCE(language,''), created_at
		FROM conversations WHERE id=$1
	`, conversationID).Scan(&conv.ID, &conv.BusinessID, &conv.GuestID, &conv.Channel, &conv.Language, &conv.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *SessionRepository) GetGuest(ctx context.Context, guestID string) (*entities.GuestProfile, error) {
	guest := &entities.GuestProfile{}
	err := r.db.QueryRow(ctx, `
		SELECT id, business_id, COALESCE(phone,''), COALESCE(email,''), COALESCE(name,''), COALESCE(language,''), last_seen_at, created_at
		FROM guests WHERE id=$1
	`, guestID).Scan(&guest.ID, &guest.BusinessID, &guest.Phone, &guest.Email, &guest.Name, &guest.Language, &guest.LastSeenAt, &guest.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return guest, nil
}

func (r *SessionRepository) UpdateGuest(ctx context.Context, guest *entities.GuestProfile) error {
	_, err := r.db.Exec(ctx, `
		UPDATE guests SET name=$2, language=$3, last_seen_at=$4 WHERE id=$1
	`, guest.ID, guest.Name, guest.Language, guest.LastSeenAt)
	return err
}

func scanSession(row pgx.Row) (*entities.ChannelSession, error) {
	sess := &entities.ChannelSession{}
	err := row.Scan(&sess.ID, &sess.BusinessID, &sess.Channel, &sess.Recipient,
		&sess.GuestID, &sess.ConversationID, &sess.Status, &sess.LastMessageAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// metadataJSON renders message metadata for the JSONB column.
func metadataJSON(metadata map[string]string) []byte {
	if len(metadata) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return []byte("{}")
	}
	return data
}
