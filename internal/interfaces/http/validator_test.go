package http

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stayline/internal/entities"
)

func TestValidRecipient(t *testing.T) {
	tests := []struct {
		name      string
		channel   entities.Channel
		recipient string
		want      bool
	}{
		{"e164 with plus", entities.ChannelSMS, "+4915551234567", true},
		{"digits only", entities.ChannelWhatsApp, "4915551234567", true},
		{"too short", entities.ChannelSMS, "12345", false},
		{"letters", entities.ChannelWhatsApp, "notaphone", false},
		{"empty", entities.ChannelSMS, "", false},
		{"spaces", entities.ChannelSMS, "+49 155 5123", false},
		{"telegram chat id", entities.ChannelTelegram, "123456789", true},
		{"telegram negative group id", entities.ChannelTelegram, "-1001234567890", true},
		{"telegram non-numeric", entities.ChannelTelegram, "user@name", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidRecipient(tt.channel, tt.recipient))
		})
	}
}

func TestCheckRecipientReasons(t *testing.T) {
	res := CheckRecipient(entities.ChannelSMS, "")
	assert.False(t, res.Valid)
	assert.Equal(t, "recipient is required", res.Reason)

	res = CheckRecipient(entities.ChannelWhatsApp, "not-a-number")
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Reason)

	res = CheckRecipient(entities.ChannelTelegram, "abc")
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "chat id")

	res = CheckRecipient(entities.ChannelWhatsApp, "4915551234567")
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("hel\x00lo"))
	assert.Equal(t, "café", SanitizeString("café"))
	assert.Equal(t, "ab", SanitizeString("a\xffb"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
	assert.Equal(t, "abc", TruncateString("abc", 10))
}

func TestValidateLength(t *testing.T) {
	assert.True(t, ValidateLength("abc", 1, 5))
	assert.False(t, ValidateLength("", 1, 5))
	assert.False(t, ValidateLength("abcdef", 1, 5))
}
