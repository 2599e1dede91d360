package detection

import (
	"QRCodeService/pkg/pool"
	"QRCodeService/pkg/stats"
)

type Source string

const (
	SourceFileUpload  Source = "file_upload"
	SourceBase64      Source = "base64"
	SourceStreamFrame Source = "stream_frame"
)

// DetectionRequest is one image to scan. It lives for a single request.
type DetectionRequest struct {
	Image  []byte
	Source Source
}

type Base64DetectionRequest struct {
	Image string `json:"image" validate:"required"`
}

type HealthQuery struct {
	Verbose bool `query:"verbose"`
}

type HealthResponse struct {
	Status     string          `json:"status"`
	Service    string          `json:"service"`
	Version    string          `json:"version"`
	PoolStats  pool.Stats      `json:"pool_stats"`
	Statistics *stats.Snapshot `json:"statistics,omitempty"`
	Features   *Features       `json:"features,omitempty"`
}

type Features struct {
	DetectorBackend string `json:"detector_backend"`
	FileUpload      bool   `json:"file_upload"`
	Base64Input     bool   `json:"base64_input"`
	ObjectPool      bool   `json:"object_pool"`
	WebSocket       bool   `json:"websocket"`
	ResultCache     bool   `json:"result_cache"`
	FailureArchive  bool   `json:"failure_archive"`
	TokenRequired   bool   `json:"token_required"`
}
