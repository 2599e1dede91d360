package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"QRCodeService/internal/config"
	"QRCodeService/pkg/log"
	"QRCodeService/pkg/redis"
	"QRCodeService/pkg/stats"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	envErr := godotenv.Load()

	logger := log.NewLogger()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warnf("Error loading .env file: %v", envErr)
	}

	cfg, err := config.Load()
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			logger.WithField("key", cfgErr.Key).Fatalf("Invalid configuration: %v", cfgErr)
		}
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	fiberApp := config.NewFiber(logger, cfg.BodyLimitMB)
	validator := config.NewValidator()

	options := []config.ServerOption{
		config.WithFiber(fiberApp),
		config.WithLogger(logger),
		config.WithConfig(cfg),
		config.WithValidator(validator),
		config.WithDetectorPool(context.Background()),
		config.WithStatistics(stats.New()),
		config.WithMiddleware(),
		config.WithS3Client(),
		config.WithUtils(),
	}
	if cfg.CacheEnabled() {
		options = append(options, config.WithRedisServer(redis.New(redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})))
	}

	server, err := config.NewServer(options...)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.WithField("port", cfg.Port).Info("Server started successfully")

	<-sigChan
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
