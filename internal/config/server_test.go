package config

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, env map[string]string) *Server {
	t.Helper()

	base := map[string]string{"POOL_INITIAL_SIZE": "1", "POOL_MAX_SIZE": "2"}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := load(lookupFrom(base))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := NewServer(
		WithFiber(NewFiber(logger, cfg.BodyLimitMB)),
		WithLogger(logger),
		WithConfig(cfg),
		WithValidator(NewValidator()),
		WithDetectorPool(context.Background()),
		WithS3Client(),
		WithMiddleware(),
		WithUtils(),
	)
	require.NoError(t, err)

	srv.RegisterHandler()
	srv.Mount()
	t.Cleanup(func() { srv.Service().Close() })

	return srv
}

func get(t *testing.T, srv *Server, path string) *http.Response {
	t.Helper()
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	return resp
}

func TestServer_ContextPath(t *testing.T) {
	srv := newTestServer(t, map[string]string{"CONTEXT_PATH": "/qr"})

	for _, path := range []string{"/", "/qr"} {
		resp := get(t, srv, path)
		require.Equal(t, fiber.StatusPermanentRedirect, resp.StatusCode, path)
		require.Equal(t, "/qr/", resp.Header.Get(fiber.HeaderLocation), path)
	}

	require.Equal(t, fiber.StatusOK, get(t, srv, "/qr/").StatusCode)
	require.Equal(t, fiber.StatusOK, get(t, srv, "/qr/camera").StatusCode)
	for _, path := range []string{"/qr/health", "/health"} {
		resp := get(t, srv, path)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, path)

		var body struct {
			Status    string `json:"status"`
			PoolStats struct {
				InitialSize  int  `json:"initial_size"`
				MaxSize      *int `json:"max_size"`
				TotalCreated int  `json:"total_created"`
			} `json:"pool_stats"`
		}
		require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&body), path)
		require.Equal(t, "healthy", body.Status, path)
		require.Equal(t, 1, body.PoolStats.InitialSize, path)
		require.GreaterOrEqual(t, body.PoolStats.TotalCreated, body.PoolStats.InitialSize, path)
		require.NotNil(t, body.PoolStats.MaxSize, path)
		require.Equal(t, 2, *body.PoolStats.MaxSize, path)
	}

	require.Equal(t, fiber.StatusNotFound, get(t, srv, "/detect/file").StatusCode)
	require.Equal(t, fiber.StatusUpgradeRequired, get(t, srv, "/qr/ws").StatusCode)
}

func TestServer_RootContextPath(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := get(t, srv, "/")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/html")
	require.Equal(t, fiber.StatusOK, get(t, srv, "/health").StatusCode)
}

func TestServer_NotFoundIsJSON(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := get(t, srv, "/nothing-here")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"success":false`)
}

func TestServer_Shutdown(t *testing.T) {
	srv := newTestServer(t, nil)

	_ = srv.Shutdown(context.Background())
	require.True(t, srv.Service().PoolStats().Closed)
}

func TestNewServer_RequiresPool(t *testing.T) {
	cfg, err := load(lookupFrom(nil))
	require.NoError(t, err)

	_, err = NewServer(WithFiber(fiber.New()), WithLogger(logrus.New()), WithConfig(cfg))
	require.ErrorContains(t, err, "detector pool is required")
}
