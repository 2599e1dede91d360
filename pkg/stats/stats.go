// Package stats accumulates detection counters and timings.
//
// Record is called on the hot path of every detection, so it only does
// atomic adds and never takes a lock. Fields are updated independently: a
// Snapshot taken while requests are in flight may mix counters from
// slightly different moments. That is accepted; it feeds health output,
// not accounting.
package stats

import (
	"sync/atomic"
	"time"
)

type Outcome int

const (
	Succeeded Outcome = iota
	DecodeFailed
	DetectionFailed
	Unavailable
)

// Timings describes one finished detection request.
type Timings struct {
	Outcome Outcome
	Decode  time.Duration
	Acquire time.Duration
	Detect  time.Duration
	Total   time.Duration
	QRCodes int
	Cached  bool
	// Pooled is set when the request held a detector lease.
	Pooled bool
}

type Aggregator struct {
	started time.Time

	requests          atomic.Uint64
	succeeded         atomic.Uint64
	decodeFailures    atomic.Uint64
	detectionFailures atomic.Uint64
	unavailable       atomic.Uint64
	cacheHits         atomic.Uint64
	qrcodes           atomic.Uint64
	decoded           atomic.Uint64
	pooled            atomic.Uint64

	decodeNs     atomic.Int64
	acquireNs    atomic.Int64
	detectNs     atomic.Int64
	totalNs      atomic.Int64
	maxAcquireNs atomic.Int64
}

func New() *Aggregator {
	return &Aggregator{started: time.Now()}
}

func (a *Aggregator) Record(t Timings) {
	a.requests.Add(1)
	a.totalNs.Add(int64(t.Total))

	switch t.Outcome {
	case Succeeded:
		a.succeeded.Add(1)
	case DecodeFailed:
		a.decodeFailures.Add(1)
	case DetectionFailed:
		a.detectionFailures.Add(1)
	case Unavailable:
		a.unavailable.Add(1)
	}

	if t.Cached {
		a.cacheHits.Add(1)
	} else {
		a.decoded.Add(1)
		a.decodeNs.Add(int64(t.Decode))
	}

	if t.Pooled {
		a.pooled.Add(1)
		a.acquireNs.Add(int64(t.Acquire))
		a.detectNs.Add(int64(t.Detect))
		for {
			cur := a.maxAcquireNs.Load()
			if int64(t.Acquire) <= cur || a.maxAcquireNs.CompareAndSwap(cur, int64(t.Acquire)) {
				break
			}
		}
	}

	if t.QRCodes > 0 {
		a.qrcodes.Add(uint64(t.QRCodes))
	}
}

type Snapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	TotalRequests     uint64  `json:"total_requests"`
	Successful        uint64  `json:"successful"`
	DecodeFailures    uint64  `json:"decode_failures"`
	DetectionFailures uint64  `json:"detection_failures"`
	Unavailable       uint64  `json:"unavailable"`
	CacheHits         uint64  `json:"cache_hits"`
	QRCodesFound      uint64  `json:"qrcodes_found"`
	Detections        uint64  `json:"detections"`
	AvgDecodeMs       float64 `json:"avg_image_decode_time_ms"`
	AvgAcquisitionMs  float64 `json:"avg_pool_acquisition_time_ms"`
	MaxAcquisitionMs  float64 `json:"max_pool_acquisition_time_ms"`
	AvgDetectionMs    float64 `json:"avg_detection_time_ms"`
	AvgTotalMs        float64 `json:"avg_total_time_ms"`
}

func (a *Aggregator) Snapshot() Snapshot {
	requests := a.requests.Load()
	decoded := a.decoded.Load()
	pooled := a.pooled.Load()

	return Snapshot{
		UptimeSeconds:     time.Since(a.started).Seconds(),
		TotalRequests:     requests,
		Successful:        a.succeeded.Load(),
		DecodeFailures:    a.decodeFailures.Load(),
		DetectionFailures: a.detectionFailures.Load(),
		Unavailable:       a.unavailable.Load(),
		CacheHits:         a.cacheHits.Load(),
		QRCodesFound:      a.qrcodes.Load(),
		Detections:        pooled,
		AvgDecodeMs:       avgMs(a.decodeNs.Load(), decoded),
		AvgAcquisitionMs:  avgMs(a.acquireNs.Load(), pooled),
		MaxAcquisitionMs:  Millis(time.Duration(a.maxAcquireNs.Load())),
		AvgDetectionMs:    avgMs(a.detectNs.Load(), pooled),
		AvgTotalMs:        avgMs(a.totalNs.Load(), requests),
	}
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func avgMs(totalNs int64, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return Millis(time.Duration(totalNs / int64(n)))
}
