package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}

	// Auto-migrate schema
	if err := client.Migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *PostgresClient) Migrate() error {
	ctx := context.Background()

	// Businesses (tenants)
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS businesses (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			api_key_hash VARCHAR(255) NOT NULL,
			reply_enabled BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create businesses table: %w", err)
	}

	// Per-channel configuration, one JSONB blob per (business, channel),
	// decoded into typed structs at load time
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS channel_configs (
			business_id UUID NOT NULL,
			channel VARCHAR(20) NOT NULL,
			enabled BOOLEAN DEFAULT TRUE,
			settings JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (business_id, channel)
		);
	`)
	if err != nil {
		return fmt.Errorf("create channel_configs table: %w", err)
	}

	// Guest profiles
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS guests (
			id UUID PRIMARY KEY,
			business_id UUID NOT NULL,
			phone VARCHAR(32),
			email VARCHAR(255),
			name VARCHAR(255),
			language VARCHAR(10),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_guests_phone
			ON guests (business_id, phone) WHERE phone IS NOT NULL AND phone <> '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_guests_email
			ON guests (business_id, email) WHERE email IS NOT NULL AND email <> '';
	`)
	if err != nil {
		return fmt.Errorf("create guests table: %w", err)
	}

	// Conversations
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			business_id UUID NOT NULL,
			guest_id UUID NOT NULL REFERENCES guests(id),
			channel VARCHAR(20) NOT NULL,
			language VARCHAR(10),
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}

	// Channel sessions. The partial unique index is what makes the
	// resolver's find-or-create atomic under concurrency.
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS channel_sessions (
			id UUID PRIMARY KEY,
			business_id UUID NOT NULL,
			channel VARCHAR(20) NOT NULL,
			recipient VARCHAR(255) NOT NULL,
			guest_id UUID NOT NULL REFERENCES guests(id),
			conversation_id UUID NOT NULL REFERENCES conversations(id),
			status VARCHAR(10) NOT NULL DEFAULT 'active',
			last_message_at TIMESTAMPTZ DEFAULT NOW(),
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active
			ON channel_sessions (business_id, channel, recipient) WHERE status = 'active';
	`)
	if err != nil {
		return fmt.Errorf("create channel_sessions table: %w", err)
	}

	// Conversation log, append-only
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations(id),
			role VARCHAR(10) NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	// Outbound queue. provider_message_id index serves receipt matching.
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS outbound_queue (
			id UUID PRIMARY KEY,
			business_id UUID NOT NULL,
			channel VARCHAR(20) NOT NULL,
			recipient VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			media_ref TEXT,
			kind VARCHAR(20) NOT NULL DEFAULT 'text',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			scheduled_for TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			priority INT NOT NULL DEFAULT 0,
			retries INT NOT NULL DEFAULT 0,
			last_error TEXT,
			provider_message_id VARCHAR(255),
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_queue_due
			ON outbound_queue (status, scheduled_for, priority);
		CREATE INDEX IF NOT EXISTS idx_queue_provider_id
			ON outbound_queue (provider_message_id) WHERE provider_message_id IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("create outbound_queue table: %w", err)
	}

	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
