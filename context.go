package authsdk

import (
	"context"

	"github.com/MrEthical07/authsdk/internal/logger"
)

type clientIPContextKey struct{}
type requestIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. Audit events carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithRequestID attaches a request id to ctx. Log entries written while
// serving the request carry it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// withRequestLogger puts a logger carrying the request id on ctx unless one
// is already there.
func (e *Engine) withRequestLogger(ctx context.Context) context.Context {
	if logger.FromContext(ctx) != nil {
		return ctx
	}
	l := e.log
	if id := requestIDFromContext(ctx); id != "" {
		l = l.With(logger.RequestID(id))
	}
	return logger.ToContext(ctx, l)
}
