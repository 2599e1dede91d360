package detectionService

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"time"

	"QRCodeService/internal/api/detection"
	"QRCodeService/internal/entity"
	contextPkg "QRCodeService/pkg/context"
	"QRCodeService/pkg/detector"
	"QRCodeService/pkg/imaging"
	"QRCodeService/pkg/pool"
	"QRCodeService/pkg/stats"

	"github.com/sirupsen/logrus"
)

const invalidImageMessage = "Invalid image format"

func (s *detectionService) Detect(ctx context.Context, req detection.DetectionRequest) (*entity.DetectionResult, error) {
	start := time.Now()
	requestID := contextPkg.GetRequestID(ctx)

	var key string
	if s.cache != nil {
		key = cacheKey(req.Image)
		if result := s.fromCache(ctx, key, start); result != nil {
			return result, nil
		}
	}

	decodeStart := time.Now()
	img, format, err := imaging.Decode(req.Image)
	decodeTime := time.Since(decodeStart)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"source":     req.Source,
			"size":       len(req.Image),
			"error":      err.Error(),
		}).Debug("Rejected undecodable image")

		total := time.Since(start)
		s.stats.Record(stats.Timings{Outcome: stats.DecodeFailed, Decode: decodeTime, Total: total})
		return failedResult(invalidImageMessage, entity.DetectionStatistics{
			ImageDecodeTimeMs: stats.Millis(decodeTime),
			TotalTimeMs:       stats.Millis(total),
		}), nil
	}
	bounds := img.Bounds()

	acquireStart := time.Now()
	lease, err := s.detectors.Acquire(ctx)
	acquireTime := time.Since(acquireStart)
	if err != nil {
		s.stats.Record(stats.Timings{
			Outcome: stats.Unavailable,
			Decode:  decodeTime,
			Total:   time.Since(start),
		})
		return nil, s.acquireError(requestID, err)
	}

	detectStart := time.Now()
	codes, err := s.runDetector(lease, img)
	detectTime := time.Since(detectStart)
	total := time.Since(start)

	statistics := entity.DetectionStatistics{
		ImageDecodeTimeMs:     stats.Millis(decodeTime),
		DetectionTimeMs:       stats.Millis(detectTime),
		TotalTimeMs:           stats.Millis(total),
		PoolAcquisitionTimeMs: stats.Millis(acquireTime),
		ImageWidth:            bounds.Dx(),
		ImageHeight:           bounds.Dy(),
	}
	timings := stats.Timings{
		Decode:  decodeTime,
		Acquire: acquireTime,
		Detect:  detectTime,
		Total:   total,
		Pooled:  true,
	}

	if err != nil {
		timings.Outcome = stats.DetectionFailed
		s.stats.Record(timings)

		traceID := s.logFailure(requestID, req.Source, err)
		s.archiveSample(requestID, traceID, format, req.Image)

		return failedResult("QR code detection failed", statistics), fmt.Errorf("%w: %v", detection.ErrDetectionFailed, err)
	}

	timings.Outcome = stats.Succeeded
	timings.QRCodes = len(codes)
	s.stats.Record(timings)

	s.log.WithFields(logrus.Fields{
		"request_id":          requestID,
		"source":              req.Source,
		"qrcodes":             len(codes),
		"image_decode_ms":     statistics.ImageDecodeTimeMs,
		"pool_acquisition_ms": statistics.PoolAcquisitionTimeMs,
		"detection_ms":        statistics.DetectionTimeMs,
		"total_ms":            statistics.TotalTimeMs,
	}).Debug("Detection finished")

	if s.cache != nil {
		s.storeInCache(requestID, key, &entity.CachedDetection{
			QRCodes:     codes,
			ImageWidth:  bounds.Dx(),
			ImageHeight: bounds.Dy(),
		})
	}

	return successResult(codes, statistics), nil
}

func (s *detectionService) RejectInput(ctx context.Context, source detection.Source, cause error) *entity.DetectionResult {
	s.log.WithFields(logrus.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"source":     source,
		"error":      cause.Error(),
	}).Debug("Rejected malformed image payload")

	s.stats.Record(stats.Timings{Outcome: stats.DecodeFailed})
	return failedResult(invalidImageMessage, entity.DetectionStatistics{})
}

// runDetector owns the lease for the duration of one Detect call and ends it
// on every path. A panicking detector is never trusted again.
func (s *detectionService) runDetector(lease *pool.Lease[detector.Detector], img image.Image) (codes []entity.QRCode, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: detector panicked: %v", detector.ErrDetection, r)
			lease.Discard()
			return
		}
		if err != nil && s.cfg.DiscardOnFailure {
			lease.Discard()
			return
		}
		lease.Release()
	}()

	codes, err = lease.Value().Detect(img)
	if codes == nil && err == nil {
		codes = []entity.QRCode{}
	}
	return codes, err
}

func (s *detectionService) acquireError(requestID string, err error) error {
	switch {
	case errors.Is(err, pool.ErrPoolClosed):
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
		}).Warn("Detection requested after detector pool shutdown")
		return detection.ErrServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to construct detector instance")
		return fmt.Errorf("%w: %v", detection.ErrDetectorBuild, err)
	}
}

// logFailure reports a detector fault and returns the trace id it was
// logged under: the request id when known, a fresh ULID otherwise.
func (s *detectionService) logFailure(requestID string, source detection.Source, err error) string {
	traceID := requestID
	if traceID == "" || traceID == "unknown" {
		id, idErr := s.utils.NewULIDFromTimestamp(time.Now())
		if idErr != nil {
			id = "unknown"
		}
		traceID = id
	}

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"trace_id":   traceID,
		"source":     source,
		"error":      err.Error(),
		"discarded":  s.cfg.DiscardOnFailure,
	}).Error("QR code detection failed")

	return traceID
}

// archiveSample uploads the offending image in the background. The payload
// is copied first; fiber reuses request buffers once the handler returns.
func (s *detectionService) archiveSample(requestID, traceID, format string, data []byte) {
	if s.archive == nil {
		return
	}

	key := fmt.Sprintf("failures/%s.%s", traceID, format)
	sample := append([]byte(nil), data...)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		location, err := s.archive.UploadSample(ctx, key, imaging.ContentType(format), sample)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"key":        key,
				"error":      err.Error(),
			}).Warn("Failed to archive failed sample")
			return
		}

		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"location":   location,
		}).Info("Archived failed sample")
	}()
}

func (s *detectionService) fromCache(ctx context.Context, key string, start time.Time) *entity.DetectionResult {
	cached, ok, err := s.cache.GetDetection(ctx, key)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"error":      err.Error(),
		}).Warn("Result cache lookup failed, detecting instead")
		return nil
	}
	if !ok {
		return nil
	}

	total := time.Since(start)
	s.stats.Record(stats.Timings{
		Outcome: stats.Succeeded,
		Total:   total,
		QRCodes: len(cached.QRCodes),
		Cached:  true,
	})

	codes := cached.QRCodes
	if codes == nil {
		codes = []entity.QRCode{}
	}
	return successResult(codes, entity.DetectionStatistics{
		TotalTimeMs: stats.Millis(total),
		ImageWidth:  cached.ImageWidth,
		ImageHeight: cached.ImageHeight,
		Cached:      true,
	})
}

func (s *detectionService) storeInCache(requestID, key string, value *entity.CachedDetection) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.cache.SetDetection(ctx, key, value, s.cfg.CacheTTL); err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      err.Error(),
			}).Warn("Failed to cache detection result")
		}
	}()
}

func cacheKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func successResult(codes []entity.QRCode, statistics entity.DetectionStatistics) *entity.DetectionResult {
	return &entity.DetectionResult{
		Success:    true,
		Message:    fmt.Sprintf("Detected %d QR code(s)", len(codes)),
		QRCodes:    codes,
		Count:      len(codes),
		Statistics: statistics,
	}
}

func failedResult(message string, statistics entity.DetectionStatistics) *entity.DetectionResult {
	return &entity.DetectionResult{
		Success:    false,
		Message:    message,
		QRCodes:    []entity.QRCode{},
		Statistics: statistics,
	}
}
