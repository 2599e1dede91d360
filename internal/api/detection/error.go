package detection

import (
	"errors"
	"net/http"

	"QRCodeService/pkg/response"
)

var (
	ErrInternalServerError = response.NewError(http.StatusInternalServerError, "internal server error")
	ErrBadRequest          = response.NewError(http.StatusBadRequest, "bad request")
	ErrMissingImage        = response.NewError(http.StatusBadRequest, "missing image file: expected multipart field 'image' or 'file'")
	ErrInvalidFileType     = response.NewError(http.StatusBadRequest, "uploaded file is not an image")
	ErrFileTooLarge        = response.NewError(http.StatusRequestEntityTooLarge, "file size exceeds limit")
	ErrServiceUnavailable  = response.NewError(http.StatusServiceUnavailable, "detector pool is closed")
)

var (
	ErrInvalidBase64   = errors.New("invalid base64 image data")
	ErrDetectionFailed = errors.New("qrcode detection failed")
	ErrDetectorBuild   = errors.New("failed to construct detector instance")
)
