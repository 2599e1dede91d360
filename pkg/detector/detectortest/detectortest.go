// Package detectortest provides QR fixtures and a controllable fake
// Detector for tests.
package detectortest

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"QRCodeService/internal/entity"
	"QRCodeService/pkg/detector"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
)

// QRCodeImage renders text as a size x size QR code with a quiet zone.
func QRCodeImage(tb testing.TB, text string, size int) image.Image {
	tb.Helper()
	img, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	require.NoError(tb, err)
	return img
}

// QRCodePNG renders text as a PNG encoded QR code.
func QRCodePNG(tb testing.TB, text string) []byte {
	tb.Helper()
	return EncodePNG(tb, QRCodeImage(tb, text, 300))
}

// BlankPNG is a white image with nothing to detect.
func BlankPNG(tb testing.TB, width, height int) []byte {
	tb.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return EncodePNG(tb, img)
}

func EncodePNG(tb testing.TB, img image.Image) []byte {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, png.Encode(&buf, img))
	return buf.Bytes()
}

// Fake is a Detector whose behaviour is set by DetectFunc. Every instance
// built by a Farm shares the farm's counters.
type Fake struct {
	ID     int32
	farm   *Farm
	closed atomic.Bool
}

func (f *Fake) Detect(img image.Image) ([]entity.QRCode, error) {
	f.farm.calls.Add(1)
	n := f.farm.active.Add(1)
	defer f.farm.active.Add(-1)
	for {
		peak := f.farm.peak.Load()
		if n <= peak || f.farm.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if d := f.farm.Delay; d > 0 {
		time.Sleep(d)
	}
	if gate := f.farm.gate(); gate != nil {
		<-gate
	}
	if f.farm.DetectFunc != nil {
		return f.farm.DetectFunc(img)
	}
	return []entity.QRCode{}, nil
}

func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *Fake) Closed() bool {
	return f.closed.Load()
}

// Farm builds Fake detectors and records how they are used.
type Farm struct {
	DetectFunc func(img image.Image) ([]entity.QRCode, error)
	Delay      time.Duration

	mu     sync.Mutex
	hold   chan struct{}
	built  atomic.Int32
	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

func (f *Farm) Factory(ctx context.Context) (detector.Detector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Fake{ID: f.built.Add(1), farm: f}, nil
}

// Hold makes every Detect call block until the returned release func runs.
func (f *Farm) Hold() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.hold = nil
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *Farm) gate() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hold
}

func (f *Farm) Built() int32      { return f.built.Load() }
func (f *Farm) Calls() int32      { return f.calls.Load() }
func (f *Farm) Active() int32     { return f.active.Load() }
func (f *Farm) PeakActive() int32 { return f.peak.Load() }
