package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QRCodeService/internal/entity"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "qrcode:"

// IResultCache stores detection results keyed by image content hash.
type IResultCache interface {
	GetDetection(ctx context.Context, key string) (*entity.CachedDetection, bool, error)
	SetDetection(ctx context.Context, key string, value *entity.CachedDetection, expiration time.Duration) error
	Close() error
}

type Config struct {
	Address  string
	Password string
	DB       int
}

type redisClient struct {
	client *redis.Client
}

func New(cfg Config) IResultCache {
	logrus.Info(fmt.Sprintf("Connecting to Redis at %s...", cfg.Address))

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logrus.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		logrus.Info("Successfully connected to Redis")
	}

	return &redisClient{client: client}
}

func (r *redisClient) GetDetection(ctx context.Context, key string) (*entity.CachedDetection, bool, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		logrus.Error(fmt.Sprintf("Error getting cached detection for key %s: %v", key, err))
		return nil, false, err
	}

	var cached entity.CachedDetection
	if err := jsoniter.Unmarshal(val, &cached); err != nil {
		return nil, false, fmt.Errorf("decode cached detection: %w", err)
	}

	return &cached, true, nil
}

func (r *redisClient) SetDetection(ctx context.Context, key string, value *entity.CachedDetection, expiration time.Duration) error {
	payload, err := jsoniter.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached detection: %w", err)
	}

	if err := r.client.Set(ctx, keyPrefix+key, payload, expiration).Err(); err != nil {
		logrus.Error(fmt.Sprintf("Error caching detection for key %s: %v", key, err))
		return err
	}

	logrus.Debug(fmt.Sprintf("Cached detection for key %s with expiration %v", key, expiration))
	return nil
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
