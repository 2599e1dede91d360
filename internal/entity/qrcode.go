package entity

// Point is an (x, y) pixel coordinate, encoded as a two element array.
type Point [2]float64

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// QRCode is one decoded symbol. Points are the four corners in detector
// order; BBox is their axis-aligned hull.
type QRCode struct {
	Text   string      `json:"text"`
	Points [4]Point    `json:"points"`
	BBox   BoundingBox `json:"bbox"`
}

type DetectionStatistics struct {
	ImageDecodeTimeMs     float64 `json:"image_decode_time_ms"`
	DetectionTimeMs       float64 `json:"detection_time_ms"`
	TotalTimeMs           float64 `json:"total_time_ms"`
	PoolAcquisitionTimeMs float64 `json:"pool_acquisition_time_ms"`
	ImageWidth            int     `json:"image_width"`
	ImageHeight           int     `json:"image_height"`
	Cached                bool    `json:"cached,omitempty"`
}

type DetectionResult struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message"`
	QRCodes    []QRCode            `json:"qrcodes"`
	Count      int                 `json:"count"`
	Statistics DetectionStatistics `json:"statistics"`
}

// CachedDetection is what the result cache keeps for a successfully
// processed image.
type CachedDetection struct {
	QRCodes     []QRCode `json:"qrcodes"`
	ImageWidth  int      `json:"image_width"`
	ImageHeight int      `json:"image_height"`
}
