package handlerUtil

import (
	"context"
	"errors"

	"QRCodeService/internal/api/detection"
	"QRCodeService/internal/entity"
	"QRCodeService/pkg/log"
	"QRCodeService/pkg/pool"
	"QRCodeService/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"
)

type ErrorHandler struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

// Handle maps an error to a response. Bodies follow the detection result
// envelope: {"success":false,"message":...}.
func (h *ErrorHandler) Handle(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	fields := log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
		"operation":  operation,
	}

	if code, ok := response.StatusOf(err); ok {
		fields["code"] = code
		if code >= fiber.StatusInternalServerError {
			h.logger.WithFields(fields).Error("Operation failed with error response")
		} else {
			h.logger.WithFields(fields).Warn("Operation failed with error response")
		}
		return c.Status(code).JSON(failure(err.Error()))
	}

	if errors.Is(err, pool.ErrPoolClosed) {
		h.logger.WithFields(fields).Warn("Detector pool is closed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(failure("Service is shutting down"))
	}

	if errors.Is(err, context.Canceled) {
		h.logger.WithFields(fields).Info("Request cancelled by client")
		return c.Status(fiber.StatusRequestTimeout).JSON(failure(utils.StatusMessage(fiber.StatusRequestTimeout)))
	}

	if errors.Is(err, detection.ErrDetectorBuild) {
		traceID := log.ErrorWithTraceID(fields, "Failed to construct detector instance")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success":  false,
			"message":  "Detector unavailable",
			"trace_id": traceID,
		})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		h.logger.WithFields(fields).Warn("Request rejected")
		return c.Status(fiberErr.Code).JSON(failure(fiberErr.Message))
	}

	traceID := log.ErrorWithTraceID(fields, "Unexpected error")

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success":  false,
		"message":  "An unexpected error occurred",
		"trace_id": traceID,
	})
}

// HandleDetectionFailure answers a failed detection with its partial result,
// so clients still see the stage timings.
func (h *ErrorHandler) HandleDetectionFailure(c *fiber.Ctx, requestID string, err error, result *entity.DetectionResult) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       c.Path(),
	}).Warn("Detection failed")

	return c.Status(fiber.StatusInternalServerError).JSON(result)
}

func (h *ErrorHandler) HandleValidationError(c *fiber.Ctx, requestID string, err error, path string) error {
	h.logger.WithFields(log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       path,
	}).Warn("Validation failed")

	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": "Validation failed: " + err.Error(),
		"code":    "VALIDATION_ERROR",
	})
}

func (h *ErrorHandler) HandleSuccess(c *fiber.Ctx, statusCode int, data interface{}) error {
	if data == nil {
		return c.SendStatus(statusCode)
	}
	return c.Status(statusCode).JSON(data)
}

func failure(message string) fiber.Map {
	return fiber.Map{
		"success": false,
		"message": message,
	}
}
