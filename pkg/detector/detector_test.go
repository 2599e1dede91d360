package detector_test

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"QRCodeService/internal/entity"
	"QRCodeService/pkg/detector"
	"QRCodeService/pkg/detector/detectortest"

	"github.com/stretchr/testify/require"
)

func newZXing(t *testing.T) detector.Detector {
	t.Helper()
	factory, err := detector.NewFactory(detector.BackendZXing, detector.Options{})
	require.NoError(t, err)
	d, err := factory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestZXingDecodesSingleCode(t *testing.T) {
	d := newZXing(t)
	img := detectortest.QRCodeImage(t, "https://example.com/ticket/42", 300)

	codes, err := d.Detect(img)
	require.NoError(t, err)
	require.Len(t, codes, 1)

	code := codes[0]
	require.Equal(t, "https://example.com/ticket/42", code.Text)
	require.Greater(t, code.BBox.Width, 0.0)
	require.Greater(t, code.BBox.Height, 0.0)
	for _, p := range code.Points {
		require.True(t, p[0] >= 0 && p[0] <= 300, "x out of image: %v", p)
		require.True(t, p[1] >= 0 && p[1] <= 300, "y out of image: %v", p)
	}
}

func TestZXingIsReusableSerially(t *testing.T) {
	d := newZXing(t)

	for _, text := range []string{"first", "second", "third"} {
		codes, err := d.Detect(detectortest.QRCodeImage(t, text, 240))
		require.NoError(t, err)
		require.Len(t, codes, 1)
		require.Equal(t, text, codes[0].Text)
	}
}

func TestZXingBlankImageFindsNothing(t *testing.T) {
	d := newZXing(t)

	img := image.NewRGBA(image.Rect(0, 0, 200, 120))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	codes, err := d.Detect(img)
	require.NoError(t, err)
	require.NotNil(t, codes)
	require.Empty(t, codes)
}

func TestNewFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := detector.NewFactory("tesseract", detector.Options{})
	require.ErrorIs(t, err, detector.ErrUnknownBackend)
}

func TestFactoryHonoursCancelledContext(t *testing.T) {
	factory, err := detector.NewFactory(detector.BackendZXing, detector.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = factory(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackendsIncludesZXing(t *testing.T) {
	require.Contains(t, detector.Backends(), detector.BackendZXing)
}

func TestNewQRCodeRoundsAndBoundsCorners(t *testing.T) {
	code := detector.NewQRCode("hello", [4]entity.Point{
		{10.04, 20.06},
		{110.56, 19.94},
		{111.01, 121.26},
		{9.96, 120.5},
	})

	require.Equal(t, "hello", code.Text)
	require.Equal(t, entity.Point{10.0, 20.1}, code.Points[0])
	require.Equal(t, entity.Point{110.6, 19.9}, code.Points[1])
	require.Equal(t, entity.BoundingBox{X: 10.0, Y: 19.9, Width: 101.0, Height: 101.4}, code.BBox)
}
