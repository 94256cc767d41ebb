package http

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"stayline/internal/entities"
)

// Input validation constants
const (
	MaxBodyLength      = 4096
	MaxRecipientLength = 32
	MaxBroadcastSize   = 10000
)

var (
	phonePattern  = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	chatIDPattern = regexp.MustCompile(`^-?[0-9]{1,20}$`)
)

// ValidationResult is returned instead of an error so callers can pass the
// reason straight through to the API response.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// CheckRecipient validates a recipient identifier for the channel:
// E.164-style numbers for whatsapp/sms, numeric chat ids for telegram.
func CheckRecipient(channel entities.Channel, recipient string) ValidationResult {
	if recipient == "" {
		return ValidationResult{Reason: "recipient is required"}
	}
	if len(recipient) > MaxRecipientLength {
		return ValidationResult{Reason: "recipient too long"}
	}
	if channel == entities.ChannelTelegram {
		if !chatIDPattern.MatchString(recipient) {
			return ValidationResult{Reason: "telegram recipient must be a numeric chat id"}
		}
		return ValidationResult{Valid: true}
	}
	if !phonePattern.MatchString(recipient) {
		return ValidationResult{Reason: "recipient must be an E.164-style phone number"}
	}
	return ValidationResult{Valid: true}
}

// ValidRecipient is the boolean shorthand for CheckRecipient.
func ValidRecipient(channel entities.Channel, recipient string) bool {
	return CheckRecipient(channel, recipient).Valid
}

// SanitizeString removes null bytes and keeps only valid UTF-8.
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// TruncateString safely truncates a string to max length
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ValidateLength checks if string is within bounds
func ValidateLength(s string, min, max int) bool {
	l := len(s)
	return l >= min && l <= max
}
