package context

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

type ctxKey string

const RequestIDKey ctxKey = "request_id"

// fiberRequestIDKey is where the request id middleware leaves the id in
// fiber Locals and the request headers.
const fiberRequestIDKey = "X-Request-ID"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID returns the id stored by WithRequestID, or "unknown".
func GetRequestID(ctx context.Context) string {
	if id, ok := requestID(ctx); ok {
		return id
	}
	return "unknown"
}

func requestID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(RequestIDKey).(string)
	return id, ok && id != ""
}

// FromFiberCtx returns the request's context carrying its request id. When
// the middleware did not run, the id is recovered from Locals or the header.
func FromFiberCtx(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if _, ok := requestID(ctx); ok {
		return ctx
	}

	id, ok := c.Locals(fiberRequestIDKey).(string)
	if !ok || id == "" {
		id = c.Get(fiberRequestIDKey)
	}
	if id == "" {
		id = "unknown"
	}

	return WithRequestID(ctx, id)
}
