package context_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	contextPkg "QRCodeService/pkg/context"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestGetRequestID(t *testing.T) {
	require.Equal(t, "unknown", contextPkg.GetRequestID(context.Background()))
	require.Equal(t, "unknown", contextPkg.GetRequestID(contextPkg.WithRequestID(context.Background(), "")))
	require.Equal(t, "abc", contextPkg.GetRequestID(contextPkg.WithRequestID(context.Background(), "abc")))
}

func TestFromFiberCtx(t *testing.T) {
	tests := []struct {
		name   string
		setup  fiber.Handler
		header string
		want   string
	}{
		{
			name: "user context wins",
			setup: func(c *fiber.Ctx) error {
				c.SetUserContext(contextPkg.WithRequestID(context.Background(), "from-context"))
				c.Locals("X-Request-ID", "from-locals")
				return c.Next()
			},
			want: "from-context",
		},
		{
			name: "locals",
			setup: func(c *fiber.Ctx) error {
				c.Locals("X-Request-ID", "from-locals")
				return c.Next()
			},
			header: "from-header",
			want:   "from-locals",
		},
		{
			name:   "header",
			setup:  func(c *fiber.Ctx) error { return c.Next() },
			header: "from-header",
			want:   "from-header",
		},
		{
			name:  "nothing",
			setup: func(c *fiber.Ctx) error { return c.Next() },
			want:  "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", tt.setup, func(c *fiber.Ctx) error {
				return c.SendString(contextPkg.GetRequestID(contextPkg.FromFiberCtx(c)))
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(body))
		})
	}
}
