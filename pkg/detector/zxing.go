package detector

import (
	"errors"
	"fmt"
	"image"

	"QRCodeService/internal/entity"

	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
)

type multiReader interface {
	DecodeMultiple(image *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error)
}

// zxingDetector is the pure Go backend. It needs no model files.
type zxingDetector struct {
	reader multiReader
	hints  map[gozxing.DecodeHintType]interface{}
}

func newZXing(Options) (Detector, error) {
	return &zxingDetector{
		reader: multiqr.NewQRCodeMultiReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}, nil
}

func (d *zxingDetector) Detect(img image.Image) ([]entity.QRCode, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	results, err := d.reader.DecodeMultiple(bmp, d.hints)
	if err != nil {
		if nothingReadable(err) {
			return []entity.QRCode{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}

	bounds := img.Bounds()
	codes := make([]entity.QRCode, 0, len(results))
	for _, r := range results {
		corners, ok := finderCorners(r.GetResultPoints())
		if !ok {
			corners = fallbackCorners(bounds.Dx(), bounds.Dy())
		}
		codes = append(codes, NewQRCode(r.GetText(), corners))
	}

	return codes, nil
}

func (d *zxingDetector) Close() error {
	return nil
}

func nothingReadable(err error) bool {
	var (
		notFound gozxing.NotFoundException
		format   gozxing.FormatException
		checksum gozxing.ChecksumException
	)
	return errors.As(err, &notFound) || errors.As(err, &format) || errors.As(err, &checksum)
}

// finderCorners turns the three finder pattern centres reported for a QR
// symbol (bottom-left, top-left, top-right) into four corners ordered
// top-left, top-right, bottom-right, bottom-left. The bottom-right corner
// completes the parallelogram.
func finderCorners(points []gozxing.ResultPoint) ([4]entity.Point, bool) {
	if len(points) < 3 {
		return [4]entity.Point{}, false
	}

	bl := entity.Point{points[0].GetX(), points[0].GetY()}
	tl := entity.Point{points[1].GetX(), points[1].GetY()}
	tr := entity.Point{points[2].GetX(), points[2].GetY()}
	br := entity.Point{tr[0] + bl[0] - tl[0], tr[1] + bl[1] - tl[1]}

	return [4]entity.Point{tl, tr, br, bl}, true
}
