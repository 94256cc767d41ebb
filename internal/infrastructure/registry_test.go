package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayline/internal/entities"
)

func validWAConfig(businessID string) entities.ChannelConfig {
	return entities.ChannelConfig{
		BusinessID: businessID,
		Channel:    entities.ChannelWhatsApp,
		Enabled:    true,
		WhatsApp: &entities.WhatsAppConfig{
			AccessToken:   "tok",
			PhoneNumberID: "123",
			VerifyToken:   "ver",
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewChannelRegistry()

	cfg := validWAConfig("biz-1")
	require.NoError(t, r.Register(&cfg))

	adapter, err := r.Get("biz-1", entities.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, entities.ChannelWhatsApp, adapter.Channel())

	// Other businesses stay isolated.
	_, err = r.Get("biz-2", entities.ChannelWhatsApp)
	require.Error(t, err)
	assert.Equal(t, entities.ErrKindConfig, entities.KindOf(err))

	_, err = r.Get("biz-1", entities.ChannelSMS)
	require.Error(t, err)
}

func TestRegistryRejectsInvalidConfig(t *testing.T) {
	r := NewChannelRegistry()

	cfg := entities.ChannelConfig{
		BusinessID: "biz-1",
		Channel:    entities.ChannelWhatsApp,
		WhatsApp:   &entities.WhatsAppConfig{}, // missing everything
	}
	err := r.Register(&cfg)
	require.Error(t, err)
	assert.Equal(t, entities.ErrKindConfig, entities.KindOf(err))
}

func TestRegistryInitSkipsBadConfigs(t *testing.T) {
	r := NewChannelRegistry()

	good := validWAConfig("biz-1")
	bad := entities.ChannelConfig{
		BusinessID: "biz-2",
		Channel:    entities.ChannelSMS,
		Enabled:    true,
		SMS:        &entities.SMSConfig{}, // invalid
	}
	disabled := validWAConfig("biz-3")
	disabled.Enabled = false

	r.Init([]entities.ChannelConfig{good, bad, disabled})

	_, err := r.Get("biz-1", entities.ChannelWhatsApp)
	assert.NoError(t, err)
	_, err = r.Get("biz-2", entities.ChannelSMS)
	assert.Error(t, err)
	_, err = r.Get("biz-3", entities.ChannelWhatsApp)
	assert.Error(t, err)
}

func TestRegistryRemove(t *testing.T) {
	r := NewChannelRegistry()
	cfg := validWAConfig("biz-1")
	require.NoError(t, r.Register(&cfg))

	r.Remove("biz-1", entities.ChannelWhatsApp)
	_, err := r.Get("biz-1", entities.ChannelWhatsApp)
	assert.Error(t, err)
}
