package repository

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stayline/internal/entities"
)

const queueColumns = `id, business_id, channel, recipient, body, COALESCE(media_ref,''), kind,
	status, scheduled_for, priority, retries, COALESCE(last_error,''), COALESCE(provider_message_id,''),
	created_at, updated_at`

// QueueRepository is the durable outbound queue. Rows are audit records:
// they move through statuses but are never deleted.
type QueueRepository struct {
	db *pgxpool.Pool
}

func NewQueueRepository(db *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) Enqueue(ctx context.Context, msg *entities.QueuedMessage) error {
	now := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = entities.StatusPending
	}
	if msg.Kind == "" {
		msg.Kind = entities.KindText
	}
	if msg.ScheduledFor.IsZero() {
		msg.ScheduledFor = now
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO outbound_queue
			(id, business_id, channel, recipient, body, media_ref, kind, status, scheduled_for, priority, retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8, $9, $10, 0, $11, $11)
	`, msg.ID, msg.BusinessID, msg.Channel, msg.Recipient, msg.Body, msg.MediaRef, msg.Kind,
		msg.Status, msg.ScheduledFor, msg.Priority, now)
	return err
}

// ClaimDue atomically moves up to limit due pending messages to the sending
// state and returns them. FOR UPDATE SKIP LOCKED keeps concurrent drain runs
// from claiming the same rows.
func (r *QueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]entities.QueuedMessage, error) {
	rows, err := r.db.Query(ctx, `
		WITH due AS (
			SELECT id FROM outbound_queue
			WHERE status='pending' AND scheduled_for <= $1
			ORDER BY priority DESC, scheduled_for ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbound_queue q
		SET status='sending', updated_at=NOW()
		FROM due
		WHERE q.id = due.id
		RETURNING `+prefixColumns("q.")+`
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claimed, err := scanQueued(rows)
	if err != nil {
		return nil, err
	}
	// The UPDATE loses the claim ordering; restore it.
	sortClaimed(claimed)
	return claimed, nil
}

// ClaimByID conditionally claims one pending row for an immediate send. The
// status predicate makes it atomic against a concurrent ClaimDue drain.
func (r *QueueRepository) ClaimByID(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE outbound_queue
		SET status='sending', updated_at=NOW()
		WHERE id=$1 AND status='pending'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *QueueRepository) MarkSent(ctx context.Context, id, providerMessageID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbound_queue
		SET status='sent', provider_message_id=NULLIF($2,''), last_error=NULL, updated_at=NOW()
		WHERE id=$1
	`, id, providerMessageID)
	return err
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id, reason string, status entities.QueueStatus) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbound_queue
		SET status=$3, last_error=$2, retries=retries+1, updated_at=NOW()
		WHERE id=$1
	`, id, reason, status)
	return err
}

// Reschedule returns a claimed message to pending with a later due time,
// recording the failure that caused the retry.
func (r *QueueRepository) Reschedule(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbound_queue
		SET status='pending', scheduled_for=$2, last_error=$3, retries=retries+1, updated_at=NOW()
		WHERE id=$1
	`, id, at, reason)
	return err
}

// RequeueStuck returns messages abandoned in the sending state (worker died
// mid-attempt) to pending.
func (r *QueueRepository) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE outbound_queue
		SET status='pending', updated_at=NOW()
		WHERE status='sending' AND updated_at < NOW() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ApplyReceipt advances the matching row's status. The rank guard makes
// delivery state monotonic: a late "delivered" can never demote "read", and
// terminal rows never move. Unknown provider ids affect zero rows.
func (r *QueueRepository) ApplyReceipt(ctx context.Context, receipt entities.DeliveryReceipt) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE outbound_queue
		SET status=$2,
		    last_error=CASE WHEN $3 <> '' THEN $3 ELSE last_error END,
		    updated_at=NOW()
		WHERE provider_message_id=$1
		  AND status NOT IN ('failed','dead_letter')
		  AND (CASE status WHEN 'pending' THEN 0 WHEN 'sending' THEN 0 WHEN 'sent' THEN 1
		                   WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 END)
		    < (CASE $2 WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 99 END)
	`, receipt.ProviderMessageID, receipt.Status, receipt.ErrorMessage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *QueueRepository) Get(ctx context.Context, id string) (*entities.QueuedMessage, error) {
	row := r.db.QueryRow(ctx, `SELECT `+queueColumns+` FROM outbound_queue WHERE id=$1`, id)
	msg, err := scanQueuedRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *QueueRepository) ListByStatus(ctx context.Context, businessID string, status entities.QueueStatus, limit int) ([]entities.QueuedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+queueColumns+` FROM outbound_queue
		WHERE business_id=$1 AND status=$2
		ORDER BY updated_at DESC
		LIMIT $3
	`, businessID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueued(rows)
}

func prefixColumns(prefix string) string {
	return prefix + `id, ` + prefix + `business_id, ` + prefix + `channel, ` + prefix + `recipient, ` +
		prefix + `body, COALESCE(` + prefix + `media_ref,''), ` + prefix + `kind, ` + prefix + `status, ` +
		prefix + `scheduled_for, ` + prefix + `priority, ` + prefix + `retries, COALESCE(` + prefix + `last_error,''), ` +
		`COALESCE(` + prefix + `provider_message_id,''), ` + prefix + `created_at, ` + prefix + `updated_at`
}

func scanQueued(rows pgx.Rows) ([]entities.QueuedMessage, error) {
	out := []entities.QueuedMessage{}
	for rows.Next() {
		var m entities.QueuedMessage
		if err := rows.Scan(&m.ID, &m.BusinessID, &m.Channel, &m.Recipient, &m.Body, &m.MediaRef, &m.Kind,
			&m.Status, &m.ScheduledFor, &m.Priority, &m.Retries, &m.LastError, &m.ProviderMessageID,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanQueuedRow(row pgx.Row) (*entities.QueuedMessage, error) {
	var m entities.QueuedMessage
	if err := row.Scan(&m.ID, &m.BusinessID, &m.Channel, &m.Recipient, &m.Body, &m.MediaRef, &m.Kind,
		&m.Status, &m.ScheduledFor, &m.Priority, &m.Retries, &m.LastError, &m.ProviderMessageID,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func sortClaimed(msgs []entities.QueuedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Priority != msgs[j].Priority {
			return msgs[i].Priority > msgs[j].Priority
		}
		return msgs[i].ScheduledFor.Before(msgs[j].ScheduledFor)
	})
}
