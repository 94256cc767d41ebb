package entities

import "fmt"

// WhatsAppConfig configures a WhatsApp Business Cloud channel.
type WhatsAppConfig struct {
	AccessToken   string `json:"access_token"`
	PhoneNumberID string `json:"phone_number_id"`
	VerifyToken   string `json:"verify_token"`
	APIBaseURL    string `json:"api_base_url,omitempty"` // override for tests
}

// SMSConfig configures a Twilio SMS channel.
type SMSConfig struct {
	AccountSID          string `json:"account_sid"`
	AuthToken           string `json:"auth_token"`
	FromNumber          string `json:"from_number"`
	MessagingServiceSID string `json:"messaging_service_sid,omitempty"`
	APIBaseURL          string `json:"api_base_url,omitempty"`
}

// TelegramConfig configures a Telegram bot channel.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
}

// ChannelConfig is the typed per-channel configuration union. Exactly one of
// the variant fields is set, matching Channel. Validated once at load time;
// call sites never poke at untyped blobs.
type ChannelConfig struct {
	BusinessID string          `json:"business_id"`
	Channel    Channel         `json:"channel"`
	Enabled    bool            `json:"enabled"`
	WhatsApp   *WhatsAppConfig `json:"whatsapp,omitempty"`
	SMS        *SMSConfig      `json:"sms,omitempty"`
	Telegram   *TelegramConfig `json:"telegram,omitempty"`
}

// Validate checks the union is well-formed for its channel.
func (c *ChannelConfig) Validate() error {
	if c.BusinessID == "" {
		return NewError(ErrKindConfig, "config.validate", "business_id is required", nil)
	}
	switch c.Channel {
	case ChannelWhatsApp:
		if c.WhatsApp == nil {
			return NewError(ErrKindConfig, "config.validate", "whatsapp settings missing", nil)
		}
		if c.WhatsApp.AccessToken == "" || c.WhatsApp.PhoneNumberID == "" {
			return NewError(ErrKindConfig, "config.validate", "whatsapp access_token and phone_number_id are required", nil)
		}
		if c.WhatsApp.VerifyToken == "" {
			return NewError(ErrKindConfig, "config.validate", "whatsapp verify_token is required", nil)
		}
	case ChannelSMS:
		if c.SMS == nil {
			return NewError(ErrKindConfig, "config.validate", "sms settings missing", nil)
		}
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" {
			return NewError(ErrKindConfig, "config.validate", "sms account_sid and auth_token are required", nil)
		}
		if c.SMS.FromNumber == "" && c.SMS.MessagingServiceSID == "" {
			return NewError(ErrKindConfig, "config.validate", "sms needs from_number or messaging_service_sid", nil)
		}
	case ChannelTelegram:
		if c.Telegram == nil || c.Telegram.BotToken == "" {
			return NewError(ErrKindConfig, "config.validate", "telegram bot_token is required", nil)
		}
	default:
		return NewError(ErrKindConfig, "config.validate", fmt.Sprintf("unknown channel %q", c.Channel), nil)
	}
	return nil
}
