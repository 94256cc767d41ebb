package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stayline/internal/entities"
)

// ConfigRepository loads tenants and their per-channel configuration. The
// settings column is JSONB on disk but only ever crosses this boundary as a
// validated typed ChannelConfig.
type ConfigRepository struct {
	db *pgxpool.Pool
}

func NewConfigRepository(db *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// channelSettings is the stored JSONB shape: exactly one variant populated.
type channelSettings struct {
	WhatsApp *entities.WhatsAppConfig `json:"whatsapp,omitempty"`
	SMS      *entities.SMSConfig      `json:"sms,omitempty"`
	Telegram *entities.TelegramConfig `json:"telegram,omitempty"`
}

func (r *ConfigRepository) GetChannelConfig(ctx context.Context, businessID string, channel entities.Channel) (*entities.ChannelConfig, error) {
	var enabled bool
	var raw []byte
	err := r.db.QueryRow(ctx, `
		SELECT enabled, settings FROM channel_configs
		WHERE business_id=$1 AND channel=$2
	`, businessID, channel).Scan(&enabled, &raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeChannelConfig(businessID, channel, enabled, raw)
}

func (r *ConfigRepository) ListChannelConfigs(ctx context.Context) ([]entities.ChannelConfig, error) {
	rows, err := r.db.Query(ctx,
		`SELECT business_id, channel, enabled, settings FROM channel_configs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := []entities.ChannelConfig{}
	for rows.Next() {
		var businessID string
		var channel entities.Channel
		var enabled bool
		var raw []byte
		if err := rows.Scan(&businessID, &channel, &enabled, &raw); err != nil {
			return nil, err
		}
		cfg, err := decodeChannelConfig(businessID, channel, enabled, raw)
		if err != nil {
			// A corrupt row must not take down startup; the registry
			// logs and skips it.
			continue
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (r *ConfigRepository) SetChannelConfig(ctx context.Context, cfg *entities.ChannelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(channelSettings{
		WhatsApp: cfg.WhatsApp,
		SMS:      cfg.SMS,
		Telegram: cfg.Telegram,
	})
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO channel_configs (business_id, channel, enabled, settings, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (business_id, channel)
		DO UPDATE SET enabled=EXCLUDED.enabled, settings=EXCLUDED.settings, updated_at=NOW()
	`, cfg.BusinessID, cfg.Channel, cfg.Enabled, raw)
	return err
}

func (r *ConfigRepository) GetBusiness(ctx context.Context, id string) (*entities.Business, error) {
	b := &entities.Business{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, api_key_hash, reply_enabled, created_at FROM businesses WHERE id=$1
	`, id).Scan(&b.ID, &b.Name, &b.APIKeyHash, &b.ReplyEnabled, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateBusiness inserts a tenant with an already-hashed API key.
func (r *ConfigRepository) CreateBusiness(ctx context.Context, b *entities.Business) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO businesses (id, name, api_key_hash, reply_enabled, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, b.ID, b.Name, b.APIKeyHash, b.ReplyEnabled)
	return err
}

func decodeChannelConfig(businessID string, channel entities.Channel, enabled bool, raw []byte) (*entities.ChannelConfig, error) {
	var settings channelSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, entities.NewError(entities.ErrKindConfig, "config.decode", "invalid settings json", err)
	}
	cfg := &entities.ChannelConfig{
		BusinessID: businessID,
		Channel:    channel,
		Enabled:    enabled,
		WhatsApp:   settings.WhatsApp,
		SMS:        settings.SMS,
		Telegram:   settings.Telegram,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
