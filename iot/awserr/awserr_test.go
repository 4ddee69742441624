package awserr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := New(ConnectFailed, "connect", io.EOF)
	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, errors.Is(wrapped, ErrConnectFailed))
	assert.False(t, errors.Is(wrapped, ErrPublishFailed))
	assert.True(t, errors.Is(wrapped, io.EOF))
	assert.Equal(t, ConnectFailed, CodeOf(wrapped))
	assert.Equal(t, Code(0), CodeOf(io.EOF))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "yield: invalid yield timeout: too short",
		Errorf(InvalidYieldTimeout, "yield", "too short").Error())
	assert.Equal(t, "disconnected", ErrDisconnected.Error())
	assert.Equal(t, Code(0x0a0a), GGDiscoveryFailed)
	assert.Contains(t, Code(1).String(), "unknown")
}
