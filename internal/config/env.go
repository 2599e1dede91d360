package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"QRCodeService/pkg/detector"
	"QRCodeService/pkg/pool"

	"github.com/go-playground/validator/v10"
)

// AppConfig is the process configuration, read once from the environment.
type AppConfig struct {
	Port        int    `validate:"min=1,max=65535"`
	ContextPath string `validate:"contextpath"`
	AppEnv      string
	LogLevel    string `validate:"oneof=trace debug info warn warning error fatal panic"`

	PoolInitialSize      int `validate:"min=1,max=100"`
	PoolMaxSize          int `validate:"gtefield=PoolInitialSize,max=200"`
	PoolDiscardOnFailure bool

	DetectorBackend string `validate:"oneof=zxing wechat"`
	WeChatModelDir  string `validate:"required_if=DetectorBackend wechat"`

	BodyLimitMB   int           `validate:"min=1,max=512"`
	MaxUploadMB   int           `validate:"min=1,max=512"`
	WSReadTimeout time.Duration `validate:"gt=0"`

	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"min=1"`

	JWTAccessTokenSecret string

	RedisAddress  string
	RedisPassword string
	RedisDB       int           `validate:"min=0"`
	CacheTTL      time.Duration `validate:"gt=0"`

	AWSRegion          string `validate:"required_with=AWSBucketName"`
	AWSBucketName      string
	AWSAccessKeyID     string `validate:"required_with=AWSSecretAccessKey"`
	AWSSecretAccessKey string
}

// ConfigError reports an environment value the process cannot start with.
type ConfigError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Key, e.Value, e.Reason)
}

var envKeys = map[string]string{
	"Port":                 "PORT",
	"ContextPath":          "CONTEXT_PATH",
	"LogLevel":             "LOG_LEVEL",
	"PoolInitialSize":      "POOL_INITIAL_SIZE",
	"PoolMaxSize":          "POOL_MAX_SIZE",
	"DetectorBackend":      "DETECTOR_BACKEND",
	"WeChatModelDir":       "WECHAT_MODEL_DIR",
	"BodyLimitMB":          "BODY_LIMIT_MB",
	"MaxUploadMB":          "MAX_UPLOAD_MB",
	"WSReadTimeout":        "WS_READ_TIMEOUT",
	"RateLimitRPS":         "RATE_LIMIT_RPS",
	"RateLimitBurst":       "RATE_LIMIT_BURST",
	"RedisDB":              "REDIS_DB",
	"CacheTTL":             "CACHE_TTL",
	"AWSRegion":            "AWS_REGION",
	"AWSAccessKeyID":       "AWS_ACCESS_KEY_ID",
	"JWTAccessTokenSecret": "JWT_ACCESS_TOKEN_SECRET",
}

// Load reads the environment. Unset variables take their defaults; a value
// that is set but unparsable or out of range is a *ConfigError.
func Load() (*AppConfig, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*AppConfig, error) {
	r := envReader{lookup: lookup}

	cfg := &AppConfig{
		Port:        r.int("PORT", 3000),
		ContextPath: r.string("CONTEXT_PATH", "/"),
		AppEnv:      r.string("APP_ENV", "production"),
		LogLevel:    strings.ToLower(r.string("LOG_LEVEL", "info")),

		PoolInitialSize:      r.int("POOL_INITIAL_SIZE", 10),
		PoolMaxSize:          r.int("POOL_MAX_SIZE", 50),
		PoolDiscardOnFailure: r.bool("POOL_DISCARD_ON_FAILURE", false),

		DetectorBackend: strings.ToLower(r.string("DETECTOR_BACKEND", detector.BackendZXing)),
		WeChatModelDir:  r.string("WECHAT_MODEL_DIR", "models"),

		BodyLimitMB:   r.int("BODY_LIMIT_MB", 50),
		MaxUploadMB:   r.int("MAX_UPLOAD_MB", 20),
		WSReadTimeout: r.duration("WS_READ_TIMEOUT", 60*time.Second),

		RateLimitRPS:   r.float("RATE_LIMIT_RPS", 0),
		RateLimitBurst: r.int("RATE_LIMIT_BURST", 100),

		JWTAccessTokenSecret: r.string("JWT_ACCESS_TOKEN_SECRET", ""),

		RedisAddress:  r.string("REDIS_ADDRESS", ""),
		RedisPassword: r.string("REDIS_PASSWORD", ""),
		RedisDB:       r.int("REDIS_DB", 0),
		CacheTTL:      r.duration("CACHE_TTL", 10*time.Minute),

		AWSRegion:          r.string("AWS_REGION", ""),
		AWSBucketName:      r.string("AWS_BUCKET_NAME", ""),
		AWSAccessKeyID:     r.string("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: r.string("AWS_SECRET_ACCESS_KEY", ""),
	}
	if r.err != nil {
		return nil, r.err
	}

	if err := NewValidator().Struct(cfg); err != nil {
		return nil, toConfigError(err, lookup)
	}

	return cfg, nil
}

func (c *AppConfig) PoolConfig() pool.Config {
	return pool.Config{InitialSize: c.PoolInitialSize, MaxSize: c.PoolMaxSize}
}

func (c *AppConfig) CacheEnabled() bool {
	return c.RedisAddress != ""
}

func (c *AppConfig) ArchiveEnabled() bool {
	return c.AWSBucketName != ""
}

func (c *AppConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// envReader keeps the first parse failure so Load can read every variable
// in one pass.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) fail(key, value, reason string) {
	if r.err == nil {
		r.err = &ConfigError{Key: key, Value: value, Reason: reason}
	}
}

func (r *envReader) string(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *envReader) int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, "must be an integer")
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, "must be a number")
		return def
	}
	return f
}

func (r *envReader) bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, "must be a boolean")
		return def
	}
	return b
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, "must be a duration such as 30s or 5m")
		return def
	}
	return d
}

func toConfigError(err error, lookup func(string) (string, bool)) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Key: "config", Reason: err.Error()}
	}

	fe := verrs[0]
	key, ok := envKeys[fe.StructField()]
	if !ok {
		key = fe.StructField()
	}
	value, _ := lookup(key)

	return &ConfigError{Key: key, Value: value, Reason: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be positive"
	case "gtefield":
		return "must not be below " + envKeys[fe.Param()]
	case "oneof":
		return "must be one of: " + fe.Param()
	case "contextpath":
		return "must start with '/' and must not end with '/' unless it is exactly '/'"
	case "required_if", "required_with":
		return "is required here"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
