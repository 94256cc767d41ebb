package infrastructure

import (
	"fmt"
	"log"
	"sync"

	"stayline/internal/entities"
	"stayline/internal/interfaces"
)

// ChannelRegistry holds the live channel adapters per business. It replaces
// the module-level adapter map of the old design: constructed explicitly,
// passed by reference, shut down with the process.
type ChannelRegistry struct {
	mu       sync.RWMutex
	adapters map[string]interfaces.ChannelAdapter
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{
		adapters: make(map[string]interfaces.ChannelAdapter),
	}
}

func registryKey(businessID string, channel entities.Channel) string {
	return businessID + "/" + string(channel)
}

// Init builds adapters for every enabled config. Invalid configs are logged
// and skipped so one bad tenant cannot keep the rest offline.
func (r *ChannelRegistry) Init(configs []entities.ChannelConfig) {
	for i := range configs {
		cfg := configs[i]
		if !cfg.Enabled {
			continue
		}
		if err := r.Register(&cfg); err != nil {
			log.Printf("[REGISTRY] skipping %s/%s: %v", cfg.BusinessID, cfg.Channel, err)
		}
	}
}

// Register validates a config and installs (or replaces) its adapter.
func (r *ChannelRegistry) Register(cfg *entities.ChannelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var adapter interfaces.ChannelAdapter
	switch cfg.Channel {
	case entities.ChannelWhatsApp:
		adapter = NewWhatsAppAdapter(*cfg.WhatsApp)
	case entities.ChannelSMS:
		adapter = NewTwilioAdapter(*cfg.SMS)
	case entities.ChannelTelegram:
		adapter = NewTelegramAdapter(*cfg.Telegram)
	default:
		return entities.NewError(entities.ErrKindConfig, "registry.register", fmt.Sprintf("unknown channel %q", cfg.Channel), nil)
	}

	r.mu.Lock()
	r.adapters[registryKey(cfg.BusinessID, cfg.Channel)] = adapter
	r.mu.Unlock()
	return nil
}

// Put installs an adapter directly (used by tests to inject fakes).
func (r *ChannelRegistry) Put(businessID string, adapter interfaces.ChannelAdapter) {
	r.mu.Lock()
	r.adapters[registryKey(businessID, adapter.Channel())] = adapter
	r.mu.Unlock()
}

// Get returns the adapter for a business+channel, or a config error if the
// channel is not configured for that business.
func (r *ChannelRegistry) Get(businessID string, channel entities.Channel) (interfaces.ChannelAdapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[registryKey(businessID, channel)]
	r.mu.RUnlock()
	if !ok {
		return nil, entities.NewError(entities.ErrKindConfig, "registry.get",
			fmt.Sprintf("channel %s not configured for business %s", channel, businessID), nil)
	}
	return adapter, nil
}

// Remove drops the adapter for a business+channel.
func (r *ChannelRegistry) Remove(businessID string, channel entities.Channel) {
	r.mu.Lock()
	delete(r.adapters, registryKey(businessID, channel))
	r.mu.Unlock()
}

// Shutdown clears all adapters. Adapters hold no connections beyond pooled
// HTTP clients, so dropping the references is enough.
func (r *ChannelRegistry) Shutdown() {
	r.mu.Lock()
	r.adapters = make(map[string]interfaces.ChannelAdapter)
	r.mu.Unlock()
}
