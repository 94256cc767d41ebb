package entities

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrKindConfig, KindOf(NewError(ErrKindConfig, "op", "msg", nil)))
	assert.Equal(t, ErrKindTimeout, KindOf(NewError(ErrKindTimeout, "op", "msg", nil)))

	wrapped := fmt.Errorf("outer: %w", NewError(ErrKindUnsupported, "op", "msg", nil))
	assert.Equal(t, ErrKindUnsupported, KindOf(wrapped))

	// Plain errors default to provider.
	assert.Equal(t, ErrKindProvider, KindOf(errors.New("boom")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewError(ErrKindProvider, "op", "503", nil)))
	assert.True(t, Retryable(NewError(ErrKindTimeout, "op", "deadline", nil)))
	assert.True(t, Retryable(errors.New("connection reset")))

	assert.False(t, Retryable(NewError(ErrKindConfig, "op", "missing token", nil)))
	assert.False(t, Retryable(NewError(ErrKindValidation, "op", "bad number", nil)))
	assert.False(t, Retryable(NewError(ErrKindUnsupported, "op", "no templates", nil)))

	perm := NewError(ErrKindProvider, "op", "401", nil)
	perm.Permanent = true
	assert.False(t, Retryable(perm))
}

func TestErrorString(t *testing.T) {
	err := NewError(ErrKindProvider, "whatsapp.send", "status 500", errors.New("boom"))
	assert.Equal(t, "whatsapp.send: status 500: boom", err.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
}
