package log

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestBuild_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := Build(Options{Level: "warn", Format: "json"}, &buf)

	l.Info("hidden")
	l.WithField("request_id", "abc").Warn("shown")

	require.Equal(t, logrus.WarnLevel, l.GetLevel())
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"request_id":"abc"`)
	require.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestBuild_DefaultsToInfo(t *testing.T) {
	l := Build(Options{Level: "chatty"}, &bytes.Buffer{})
	require.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_DIR", "")
	t.Setenv("APP_ENV", "production")

	opts := OptionsFromEnv()
	require.Equal(t, "debug", opts.Level)
	require.Equal(t, "json", opts.Format)
	require.NotEmpty(t, opts.Dir)

	t.Setenv("APP_ENV", "test")
	require.Empty(t, OptionsFromEnv().Dir)
}

func TestErrorWithTraceID(t *testing.T) {
	var buf bytes.Buffer
	prev := logger
	logger = Build(Options{Format: "json"}, &buf)
	t.Cleanup(func() { logger = prev })

	require.Equal(t, "01HZXREQ", ErrorWithTraceID(Fields{"request_id": "01HZXREQ"}, "boom"))
	require.Contains(t, buf.String(), `"trace_id":"01HZXREQ"`)

	traceID := ErrorWithTraceID(Fields{"request_id": "unknown"}, "boom")
	_, err := uuid.Parse(traceID)
	require.NoError(t, err)

	traceID = ErrorWithTraceID(nil, "boom")
	_, err = uuid.Parse(traceID)
	require.NoError(t, err)
}
