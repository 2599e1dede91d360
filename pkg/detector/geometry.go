package detector

import (
	"math"

	"QRCodeService/internal/entity"
)

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// NewQRCode rounds the corners to one decimal and derives the bounding box.
func NewQRCode(text string, corners [4]entity.Point) entity.QRCode {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)

	for i, c := range corners {
		x, y := round1(c[0]), round1(c[1])
		corners[i] = entity.Point{x, y}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}

	return entity.QRCode{
		Text:   text,
		Points: corners,
		BBox: entity.BoundingBox{
			X:      round1(minX),
			Y:      round1(minY),
			Width:  round1(maxX - minX),
			Height: round1(maxY - minY),
		},
	}
}

// fallbackCorners is a centred square covering 60% of the shorter side, used
// when a backend decodes a symbol but reports no usable geometry.
func fallbackCorners(width, height int) [4]entity.Point {
	w, h := float64(width), float64(height)
	size := math.Min(w, h) * 0.6
	x0 := (w - size) / 2
	y0 := (h - size) / 2

	return [4]entity.Point{
		{x0, y0},
		{x0 + size, y0},
		{x0 + size, y0 + size},
		{x0, y0 + size},
	}
}
