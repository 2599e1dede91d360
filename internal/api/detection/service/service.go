package detectionService

import (
	"context"
	"time"

	"QRCodeService/internal/api/detection"
	"QRCodeService/internal/entity"
	"QRCodeService/pkg/detector"
	"QRCodeService/pkg/pool"
	"QRCodeService/pkg/redis"
	"QRCodeService/pkg/s3"
	"QRCodeService/pkg/stats"
	"QRCodeService/pkg/utils"

	"github.com/sirupsen/logrus"
)

type IDetectionService interface {
	// Detect runs one image through decode, lease, detect and release. The
	// result is non-nil whenever the image was processed, including decode
	// failures and detection failures; the latter also return an error
	// wrapping detection.ErrDetectionFailed.
	Detect(ctx context.Context, req detection.DetectionRequest) (*entity.DetectionResult, error)
	// RejectInput accounts for a request whose payload never reached the
	// decoder (for example broken base64) and builds its failed result.
	RejectInput(ctx context.Context, source detection.Source, cause error) *entity.DetectionResult
	PoolStats() pool.Stats
	Statistics() stats.Snapshot
	Features() detection.Features
	Close()
}

type Config struct {
	Backend          string
	DiscardOnFailure bool
	CacheTTL         time.Duration
}

type detectionService struct {
	log       *logrus.Logger
	detectors *pool.Pool[detector.Detector]
	stats     *stats.Aggregator
	cache     redis.IResultCache
	archive   s3.ItfS3
	utils     utils.IUtils
	cfg       Config
}

// NewDetectionService wires the service. cache and archive are optional and
// may be nil.
func NewDetectionService(
	log *logrus.Logger,
	detectors *pool.Pool[detector.Detector],
	aggregator *stats.Aggregator,
	cache redis.IResultCache,
	archive s3.ItfS3,
	utils utils.IUtils,
	cfg Config,
) IDetectionService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	return &detectionService{
		log:       log,
		detectors: detectors,
		stats:     aggregator,
		cache:     cache,
		archive:   archive,
		utils:     utils,
		cfg:       cfg,
	}
}

func (s *detectionService) PoolStats() pool.Stats {
	return s.detectors.Stats()
}

func (s *detectionService) Statistics() stats.Snapshot {
	return s.stats.Snapshot()
}

func (s *detectionService) Features() detection.Features {
	return detection.Features{
		DetectorBackend: s.cfg.Backend,
		FileUpload:      true,
		Base64Input:     true,
		ObjectPool:      true,
		WebSocket:       true,
		ResultCache:     s.cache != nil,
		FailureArchive:  s.archive != nil,
	}
}

func (s *detectionService) Close() {
	s.detectors.Close()
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to close result cache")
		}
	}
}
