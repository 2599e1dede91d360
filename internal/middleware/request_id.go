package middleware

import (
	"time"

	contextPkg "QRCodeService/pkg/context"
	"QRCodeService/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

const (
	RequestIDKey       = "X-Request-ID"
	maxRequestIDLength = 128
)

// NewRequestIDMiddleware echoes a usable client supplied X-Request-ID or
// mints a ULID. The id goes into Locals, the response header and the user
// context seen by services.
func NewRequestIDMiddleware() fiber.Handler {
	ids := utils.New(0)

	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDKey)
		if !usableRequestID(requestID) {
			requestID, _ = ids.NewULIDFromTimestamp(time.Now())
		}

		c.Locals(RequestIDKey, requestID)
		c.Set(RequestIDKey, requestID)
		c.SetUserContext(contextPkg.WithRequestID(c.UserContext(), requestID))

		return c.Next()
	}
}

// usableRequestID rejects ids that would be unsafe to log or to use in an
// archive object key: empty, overlong, or containing non-printable ASCII or
// path separators.
func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c <= ' ' || c > '~' || c == '/' || c == '\\' {
			return false
		}
	}
	return true
}
