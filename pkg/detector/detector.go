// Package detector wraps QR code detection backends behind one interface.
//
// A Detector is expensive to construct and must not be used by two
// goroutines at once. It is meant to live in a pool and be reused serially.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"

	"QRCodeService/internal/entity"
)

const (
	BackendZXing  = "zxing"
	BackendWeChat = "wechat"
)

var (
	ErrDetection      = errors.New("qrcode detection failed")
	ErrUnknownBackend = errors.New("unknown detector backend")
)

type Detector interface {
	// Detect returns every QR code found in img. Finding none is not an
	// error.
	Detect(img image.Image) ([]entity.QRCode, error)
	Close() error
}

type Options struct {
	// ModelDir holds the model artifacts of backends that need them.
	ModelDir string
}

type constructor func(Options) (Detector, error)

var backends = map[string]constructor{
	BackendZXing: newZXing,
}

// Backends lists the backends compiled into this binary.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFactory returns a constructor for the named backend, suitable as a pool
// factory.
func NewFactory(backend string, opts Options) (func(context.Context) (Detector, error), error) {
	ctor, ok := backends[backend]
	if !ok {
		if backend == BackendWeChat {
			return nil, fmt.Errorf("%w: %s (binary built without the gocv tag)", ErrUnknownBackend, backend)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}

	return func(ctx context.Context) (Detector, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return ctor(opts)
	}, nil
}
