package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil))
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, "/", cfg.ContextPath)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 10, cfg.PoolInitialSize)
	require.Equal(t, 50, cfg.PoolMaxSize)
	require.False(t, cfg.PoolDiscardOnFailure)
	require.Equal(t, "zxing", cfg.DetectorBackend)
	require.Equal(t, 60*time.Second, cfg.WSReadTimeout)
	require.Equal(t, 10*time.Minute, cfg.CacheTTL)
	require.Equal(t, int64(20*1024*1024), cfg.MaxUploadBytes())
	require.False(t, cfg.CacheEnabled())
	require.False(t, cfg.ArchiveEnabled())
	require.NoError(t, cfg.PoolConfig().Validate())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"PORT":                    "8080",
		"CONTEXT_PATH":            "/api/qr",
		"LOG_LEVEL":               "DEBUG",
		"POOL_INITIAL_SIZE":       "2",
		"POOL_MAX_SIZE":           " 4 ",
		"POOL_DISCARD_ON_FAILURE": "true",
		"WS_READ_TIMEOUT":         "15s",
		"RATE_LIMIT_RPS":          "2.5",
		"REDIS_ADDRESS":           "localhost:6379",
		"AWS_REGION":              "ap-southeast-1",
		"AWS_BUCKET_NAME":         "qr-failures",
	}))
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "/api/qr", cfg.ContextPath)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 2, cfg.PoolInitialSize)
	require.Equal(t, 4, cfg.PoolMaxSize)
	require.True(t, cfg.PoolDiscardOnFailure)
	require.Equal(t, 15*time.Second, cfg.WSReadTimeout)
	require.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
	require.True(t, cfg.CacheEnabled())
	require.True(t, cfg.ArchiveEnabled())
}

func TestLoad_BlankValuesUseDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{"PORT": "  ", "CONTEXT_PATH": ""}))
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, "/", cfg.ContextPath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		key    string
		reason string
	}{
		{
			name:   "port not a number",
			env:    map[string]string{"PORT": "http"},
			key:    "PORT",
			reason: "must be an integer",
		},
		{
			name:   "port out of range",
			env:    map[string]string{"PORT": "70000"},
			key:    "PORT",
			reason: "must be at most 65535",
		},
		{
			name:   "zero initial size",
			env:    map[string]string{"POOL_INITIAL_SIZE": "0"},
			key:    "POOL_INITIAL_SIZE",
			reason: "must be at least 1",
		},
		{
			name:   "max below initial",
			env:    map[string]string{"POOL_INITIAL_SIZE": "8", "POOL_MAX_SIZE": "4"},
			key:    "POOL_MAX_SIZE",
			reason: "must not be below POOL_INITIAL_SIZE",
		},
		{
			name:   "context path with trailing slash",
			env:    map[string]string{"CONTEXT_PATH": "/qr/"},
			key:    "CONTEXT_PATH",
			reason: "must start with '/'",
		},
		{
			name:   "unknown backend",
			env:    map[string]string{"DETECTOR_BACKEND": "opencv"},
			key:    "DETECTOR_BACKEND",
			reason: "must be one of",
		},
		{
			name:   "bad duration",
			env:    map[string]string{"WS_READ_TIMEOUT": "sixty"},
			key:    "WS_READ_TIMEOUT",
			reason: "must be a duration",
		},
		{
			name:   "negative duration",
			env:    map[string]string{"CACHE_TTL": "-1m"},
			key:    "CACHE_TTL",
			reason: "must be positive",
		},
		{
			name:   "bad boolean",
			env:    map[string]string{"POOL_DISCARD_ON_FAILURE": "sometimes"},
			key:    "POOL_DISCARD_ON_FAILURE",
			reason: "must be a boolean",
		},
		{
			name:   "bucket without region",
			env:    map[string]string{"AWS_BUCKET_NAME": "qr-failures"},
			key:    "AWS_REGION",
			reason: "is required",
		},
		{
			name:   "unknown log level",
			env:    map[string]string{"LOG_LEVEL": "loud"},
			key:    "LOG_LEVEL",
			reason: "must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(lookupFrom(tt.env))
			require.Nil(t, cfg)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %T: %v", err, err)
			require.Equal(t, tt.key, cfgErr.Key)
			require.Contains(t, cfgErr.Reason, tt.reason)
			require.Contains(t, cfgErr.Error(), tt.key)
		})
	}
}

func TestValidContextPath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"/", true},
		{"/qr", true},
		{"/api/qr", true},
		{"/qr-v2", true},
		{"", false},
		{"qr", false},
		{"/qr/", false},
		{"//qr", false},
		{"/api//qr", false},
		{"/../qr", false},
		{"/qr?x=1", false},
		{"/q r", false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.ok, ValidContextPath(tt.path), tt.path)
	}
}
