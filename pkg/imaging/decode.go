package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrImageDecode marks input that is not a decodable image. It is always the
// caller's fault, never the server's.
var ErrImageDecode = errors.New("invalid image format")

// Decode parses an image container (png, jpeg, gif, bmp, tiff, webp) into a
// pixel buffer and reports the detected format.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrImageDecode)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrImageDecode, err)
	}

	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, format, fmt.Errorf("%w: empty image", ErrImageDecode)
	}

	return img, format, nil
}

// ContentType maps a format name reported by Decode to its MIME type.
func ContentType(format string) string {
	switch format {
	case "png", "gif", "bmp", "tiff", "webp":
		return "image/" + format
	case "jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
