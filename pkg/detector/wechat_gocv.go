//go:build gocv

package detector

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"QRCodeService/internal/entity"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

func init() {
	backends[BackendWeChat] = newWeChat
}

var wechatModelFiles = [4]string{
	"detect.prototxt",
	"detect.caffemodel",
	"sr.prototxt",
	"sr.caffemodel",
}

// wechatDetector runs OpenCV's WeChat QR detector (CNN detector plus super
// resolution). Loading the four model files is what makes construction slow.
type wechatDetector struct {
	qr *contrib.WeChatQRCode
}

func newWeChat(opts Options) (Detector, error) {
	var paths [4]string
	for i, name := range wechatModelFiles {
		p := filepath.Join(opts.ModelDir, name)
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("wechat model file not found: %s: %w", p, err)
		}
		paths[i] = p
	}

	return &wechatDetector{
		qr: contrib.NewWeChatQRCode(paths[0], paths[1], paths[2], paths[3]),
	}, nil
}

func (d *wechatDetector) Detect(img image.Image) ([]entity.QRCode, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}
	defer mat.Close()

	var points []gocv.Mat
	texts := d.qr.DetectAndDecode(mat, &points)
	defer func() {
		for _, p := range points {
			p.Close()
		}
	}()

	codes := make([]entity.QRCode, 0, len(texts))
	for i, text := range texts {
		corners, ok := matCorners(points, i)
		if !ok {
			corners = fallbackCorners(mat.Cols(), mat.Rows())
		}
		codes = append(codes, NewQRCode(text, corners))
	}

	return codes, nil
}

func (d *wechatDetector) Close() error {
	return nil
}

// matCorners reads the i-th corner matrix, which is either 4x2 or a flat
// 8-element row or column of float32 coordinates.
func matCorners(points []gocv.Mat, i int) ([4]entity.Point, bool) {
	var corners [4]entity.Point
	if i >= len(points) {
		return corners, false
	}

	m := points[i]
	switch {
	case m.Rows() >= 4 && m.Cols() >= 2:
		for j := 0; j < 4; j++ {
			corners[j] = entity.Point{float64(m.GetFloatAt(j, 0)), float64(m.GetFloatAt(j, 1))}
		}
	case m.Rows() == 1 && m.Cols() >= 8:
		for j := 0; j < 4; j++ {
			corners[j] = entity.Point{float64(m.GetFloatAt(0, 2*j)), float64(m.GetFloatAt(0, 2*j+1))}
		}
	case m.Cols() == 1 && m.Rows() >= 8:
		for j := 0; j < 4; j++ {
			corners[j] = entity.Point{float64(m.GetFloatAt(2*j, 0)), float64(m.GetFloatAt(2*j+1, 0))}
		}
	default:
		return corners, false
	}

	return corners, true
}
