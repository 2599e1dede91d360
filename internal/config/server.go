package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	detectionHandler "QRCodeService/internal/api/detection/handler"
	detectionService "QRCodeService/internal/api/detection/service"
	"QRCodeService/internal/middleware"
	"QRCodeService/pkg/detector"
	"QRCodeService/pkg/pool"
	"QRCodeService/pkg/redis"
	"QRCodeService/pkg/s3"
	"QRCodeService/pkg/stats"
	"QRCodeService/pkg/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sirupsen/logrus"
)

const Version = "0.1.0"

type ServerOption func(*Server) error

type Server struct {
	engine      *fiber.App
	cfg         *AppConfig
	log         *logrus.Logger
	middleware  middleware.Middleware
	validator   *validator.Validate
	utils       utils.IUtils
	handlers    []handler
	detectors   *pool.Pool[detector.Detector]
	statistics  *stats.Aggregator
	redisServer redis.IResultCache
	s3Client    s3.ItfS3
	service     detectionService.IDetectionService
	health      fiber.Handler
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if server.detectors == nil {
		return nil, fmt.Errorf("detector pool is required")
	}
	if server.validator == nil {
		server.validator = NewValidator()
	}
	if server.utils == nil {
		server.utils = utils.New(server.cfg.MaxUploadBytes())
	}
	if server.statistics == nil {
		server.statistics = stats.New()
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log, middlewareConfig(server.cfg))
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithConfig(cfg *AppConfig) ServerOption {
	return func(s *Server) error {
		s.cfg = cfg
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

// WithDetectorPool builds the detector pool and pre-warms it. Construction
// failures abort startup.
func WithDetectorPool(ctx context.Context) ServerOption {
	return func(s *Server) error {
		if s.cfg == nil || s.log == nil {
			return fmt.Errorf("config and logger must be initialized before the detector pool")
		}

		factory, err := detector.NewFactory(s.cfg.DetectorBackend, detector.Options{ModelDir: s.cfg.WeChatModelDir})
		if err != nil {
			return &ConfigError{Key: "DETECTOR_BACKEND", Value: s.cfg.DetectorBackend, Reason: err.Error()}
		}

		start := time.Now()
		detectors, err := pool.New(ctx, s.cfg.PoolConfig(), pool.Factory[detector.Detector](factory),
			pool.WithLogger[detector.Detector](s.log.WithField("component", "detector_pool")),
		)
		if err != nil {
			s.log.Errorf("Failed to initialize detector pool: %v", err)
			return fmt.Errorf("failed to create detector pool: %w", err)
		}

		s.log.WithFields(logrus.Fields{
			"backend":      s.cfg.DetectorBackend,
			"initial_size": s.cfg.PoolInitialSize,
			"max_size":     s.cfg.PoolMaxSize,
			"warmup_ms":    time.Since(start).Milliseconds(),
		}).Info("Detector pool initialized")

		s.detectors = detectors
		return nil
	}
}

func WithStatistics(aggregator *stats.Aggregator) ServerOption {
	return func(s *Server) error {
		s.statistics = aggregator
		return nil
	}
}

func WithRedisServer(redisServer redis.IResultCache) ServerOption {
	return func(s *Server) error {
		s.redisServer = redisServer
		return nil
	}
}

func WithS3Client() ServerOption {
	return func(s *Server) error {
		if s.cfg == nil {
			return fmt.Errorf("config must be initialized before the S3 client")
		}
		if !s.cfg.ArchiveEnabled() {
			return nil
		}

		client, err := s3.New(s3.Config{
			Region:          s.cfg.AWSRegion,
			BucketName:      s.cfg.AWSBucketName,
			AccessKeyID:     s.cfg.AWSAccessKeyID,
			SecretAccessKey: s.cfg.AWSSecretAccessKey,
		})
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to initialize S3 client: %v", err)
			}
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		s.s3Client = client
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil || s.cfg == nil {
			return fmt.Errorf("logger and config must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log, middlewareConfig(s.cfg))
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		if s.cfg == nil {
			return fmt.Errorf("config must be initialized before utils")
		}
		s.utils = utils.New(s.cfg.MaxUploadBytes())
		return nil
	}
}

func middlewareConfig(cfg *AppConfig) middleware.Config {
	return middleware.Config{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TokenSecret:    cfg.JWTAccessTokenSecret,
	}
}

func (s *Server) RegisterHandler() {
	// Detection
	s.service = detectionService.NewDetectionService(
		s.log,
		s.detectors,
		s.statistics,
		s.redisServer,
		s.s3Client,
		s.utils,
		detectionService.Config{
			Backend:          s.cfg.DetectorBackend,
			DiscardOnFailure: s.cfg.PoolDiscardOnFailure,
			CacheTTL:         s.cfg.CacheTTL,
		},
	)
	detectionHandlers := detectionHandler.New(s.log, s.validator, s.middleware, s.service, s.utils, detectionHandler.Config{
		Version:       Version,
		WSReadTimeout: s.cfg.WSReadTimeout,
	})

	s.health = detectionHandlers.Health
	s.handlers = append(s.handlers, detectionHandlers)
}

// Mount installs middleware and every route. Routes live under the context
// path; "/" redirects there and "/health" also answers unprefixed.
func (s *Server) Mount() {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())
	s.engine.Use(cors.New())

	contextPath := s.cfg.ContextPath
	router := s.engine.Group(contextPath)

	for _, h := range s.handlers {
		h.Start(router)
	}

	if contextPath != "/" {
		target := contextPath + "/"
		redirect := func(ctx *fiber.Ctx) error {
			return ctx.Redirect(target, fiber.StatusPermanentRedirect)
		}
		s.engine.Get("/", redirect)
		s.engine.Get(contextPath, redirect)

		if s.health != nil {
			s.engine.Get("/health", s.health)
		}
	}
}

func (s *Server) Run() error {
	s.Mount()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.WithFields(logrus.Fields{
		"addr":         addr,
		"context_path": s.cfg.ContextPath,
	}).Info("Server starting")

	if err := s.engine.Listen(addr); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones up to the
// context deadline, then closes the detector pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.engine.ShutdownWithContext(ctx)

	if s.service != nil {
		s.service.Close()
	} else if s.detectors != nil {
		s.detectors.Close()
		if s.redisServer != nil {
			_ = s.redisServer.Close()
		}
	}

	return err
}

func (s *Server) App() *fiber.App {
	return s.engine
}

func (s *Server) Service() detectionService.IDetectionService {
	return s.service
}
