package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options controls where and how the process logs.
type Options struct {
	Level string
	// Format is "text" (nested formatter, the default) or "json".
	Format string
	// Dir receives rotated log files. Empty disables file output.
	Dir string
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_DIR. APP_ENV=test keeps
// logs off the disk.
func OptionsFromEnv() Options {
	opts := Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		Dir:    os.Getenv("LOG_DIR"),
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Join("storage", "logs")
	}
	if os.Getenv("APP_ENV") == "test" {
		opts.Dir = ""
	}
	return opts
}

// NewLogger builds the process logger once from the environment.
func NewLogger() *logrus.Logger {
	once.Do(func() {
		logger = Build(OptionsFromEnv(), os.Stderr)
	})
	return logger
}

// Build creates a logger writing to console and, when opts.Dir is set, to a
// daily file rotated by size.
func Build(opts Options, console io.Writer) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&formatter.Formatter{
			NoColors:        false,
			TimestampFormat: "02 Jan 06 - 15:04:05",
			HideKeys:        false,
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				funcName := s[len(s)-1]
				return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
			},
		})
	}

	writers := []io.Writer{console}
	if opts.Dir != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, fmt.Sprintf("app-%s.log", time.Now().Format("2006-01-02"))),
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}

	l.SetOutput(io.MultiWriter(writers...))
	l.SetReportCaller(true)
	return l
}

func get() *logrus.Logger {
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}

// ErrorWithTraceID logs at error level and returns the trace id attached to
// the entry: the request id when known, a fresh uuid otherwise.
func ErrorWithTraceID(fields Fields, msg string) string {
	if fields == nil {
		fields = Fields{}
	}

	traceID, ok := fields["request_id"].(string)
	if !ok || traceID == "" || traceID == "unknown" {
		traceID = "unknown"
		if id, err := uuid.NewRandom(); err == nil {
			traceID = id.String()
		}
	}

	fields["trace_id"] = traceID
	get().WithFields(fields).Error(msg)

	return traceID
}
