package detectionHandler

import (
	"errors"
	"mime/multipart"

	"QRCodeService/internal/api/detection"
	"QRCodeService/internal/entity"
	contextPkg "QRCodeService/pkg/context"
	"QRCodeService/pkg/handlerUtil"
	"QRCodeService/pkg/log"
	"QRCodeService/pkg/response"
	"QRCodeService/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

// multipart field names accepted for the uploaded image, in lookup order.
var uploadFields = []string{"file", "image"}

func (h *DetectionHandler) DetectFile(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c := contextPkg.FromFiberCtx(ctx)

	errHandler := handlerUtil.New(h.log)

	var (
		data []byte
		err  error
	)
	for _, field := range uploadFields {
		file, formErr := ctx.FormFile(field)
		if formErr != nil {
			continue
		}

		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"path":       ctx.Path(),
			"field":      field,
			"file_name":  file.Filename,
			"file_size":  file.Size,
		}).Debug("Processing file upload")

		if err := h.utils.ValidateImageFile(file); err != nil {
			return errHandler.Handle(ctx, requestID, uploadError(err, file), ctx.Path(), "validate_image_file")
		}

		data, err = h.utils.ReadFile(file)
		if err != nil {
			return errHandler.Handle(ctx, requestID, uploadError(err, file), ctx.Path(), "read_file")
		}
		break
	}
	if data == nil {
		return errHandler.Handle(ctx, requestID, detection.ErrMissingImage, ctx.Path(), "form_file")
	}

	result, err := h.detectionService.Detect(c, detection.DetectionRequest{
		Image:  data,
		Source: detection.SourceFileUpload,
	})
	return h.respond(ctx, errHandler, requestID, result, err, "detect_file")
}

func (h *DetectionHandler) DetectBase64(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c := contextPkg.FromFiberCtx(ctx)

	errHandler := handlerUtil.New(h.log)

	var req detection.Base64DetectionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, detection.ErrBadRequest, ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	data, err := detection.DecodeBase64Image(req.Image)
	if err != nil {
		result := h.detectionService.RejectInput(c, detection.SourceBase64, err)
		return errHandler.HandleSuccess(ctx, fiber.StatusOK, result)
	}

	result, err := h.detectionService.Detect(c, detection.DetectionRequest{
		Image:  data,
		Source: detection.SourceBase64,
	})
	return h.respond(ctx, errHandler, requestID, result, err, "detect_base64")
}

func (h *DetectionHandler) respond(
	ctx *fiber.Ctx,
	errHandler *handlerUtil.ErrorHandler,
	requestID string,
	result *entity.DetectionResult,
	err error,
	operation string,
) error {
	if err != nil {
		if result != nil && errors.Is(err, detection.ErrDetectionFailed) {
			return errHandler.HandleDetectionFailure(ctx, requestID, err, result)
		}
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), operation)
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
		"success":    result.Success,
		"count":      result.Count,
		"total_ms":   result.Statistics.TotalTimeMs,
	}).Debug("Detection request served")

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, result)
}

func uploadError(err error, file *multipart.FileHeader) error {
	switch {
	case errors.Is(err, utils.ErrFileTooLarge):
		return detection.ErrFileTooLarge
	case errors.Is(err, utils.ErrNotAnImage):
		return response.Wrap(detection.ErrInvalidFileType, "content type %q", file.Header.Get("Content-Type"))
	case errors.Is(err, utils.ErrNoFile):
		return detection.ErrMissingImage
	default:
		return err
	}
}
