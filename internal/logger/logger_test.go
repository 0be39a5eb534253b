package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromPrefersContextLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	scoped := zap.New(core)

	ctx := ToContext(context.Background(), scoped)
	From(ctx, nil).Info("scoped", UserID("u1"))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "u1", entries[0].ContextMap()["user_id"])
	}
}

func TestFromFallsBack(t *testing.T) {
	fallback := zap.NewExample()
	assert.Same(t, fallback, From(context.Background(), fallback))
	assert.NotNil(t, From(nil, nil))
}

func TestBuildDisabledIsNop(t *testing.T) {
	l := Build(Config{})
	assert.False(t, l.Core().Enabled(zap.ErrorLevel))

	dev := Build(Config{Env: "dev", Level: "debug"})
	assert.True(t, dev.Core().Enabled(zap.DebugLevel))
}
