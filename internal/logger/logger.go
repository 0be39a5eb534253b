package logger

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

var base atomic.Pointer[zap.Logger]

// Set replaces the base logger. A nil logger restores the no-op default.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	base.Store(l)
}

// L returns the base logger. The SDK stays silent until Set is called.
func L() *zap.Logger {
	if l := base.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Named returns a component logger.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

type ctxKey struct{}

// ToContext attaches a request-scoped logger.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger on ctx, or fallback when there is none. A nil
// fallback means the base logger.
func From(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	if fallback != nil {
		return fallback
	}
	return L()
}

// FromContext returns the logger on ctx or nil.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(ctxKey{}).(*zap.Logger)
	return l
}
