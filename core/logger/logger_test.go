package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithLogger_KeepsExisting(t *testing.T) {
	ctx, first := ContextWithLogger(context.Background())
	ctx2, second := ContextWithLogger(ctx)
	assert.Equal(t, ctx, ctx2)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, SessionIDFromContext(ctx))
}

func TestSerializeRoundTrip(t *testing.T) {
	ctx, _ := ContextWithLoggerIdentity(context.Background(), "thing-1")
	data := SerializeLoggerContext(ctx)

	restored := ContextWithLoggerFromData(context.Background(), data)
	require.Equal(t, SessionIDFromContext(ctx), SessionIDFromContext(restored))
	assert.Equal(t, "thing-1", FromContext(restored).Data[thingLoggerKey])
}

func TestContextWithLoggerFromData_Invalid(t *testing.T) {
	ctx := ContextWithLoggerFromData(context.Background(), []byte("{}"))
	assert.NotEmpty(t, SessionIDFromContext(ctx))
	assert.Equal(t, "{}", string(SerializeLoggerContext(context.Background())))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("nonsense"))
}
