package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from QueueStatus
		to   QueueStatus
		want bool
	}{
		{"pending to sent", StatusPending, StatusSent, true},
		{"sent to delivered", StatusSent, StatusDelivered, true},
		{"delivered to read", StatusDelivered, StatusRead, true},
		{"sent to read skips delivered", StatusSent, StatusRead, true},
		{"read back to delivered", StatusRead, StatusDelivered, false},
		{"delivered back to sent", StatusDelivered, StatusSent, false},
		{"sent to sent", StatusSent, StatusSent, false},
		{"failure from sent", StatusSent, StatusFailed, true},
		{"failure from delivered", StatusDelivered, StatusFailed, true},
		{"nothing after failed", StatusFailed, StatusSent, false},
		{"nothing after dead_letter", StatusDeadLetter, StatusDelivered, false},
		{"sending to sent", StatusSending, StatusSent, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusDeadLetter.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRead.Terminal())
}
