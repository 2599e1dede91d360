package detectionHandler

import (
	"QRCodeService/internal/api/detection"
	"QRCodeService/pkg/handlerUtil"

	"github.com/gofiber/fiber/v2"
)

// Health reports pool occupancy; verbose=true adds request statistics and
// the enabled features. It answers 503 once the pool is closed.
func (h *DetectionHandler) Health(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	errHandler := handlerUtil.New(h.log)

	var query detection.HealthQuery
	if err := ctx.QueryParser(&query); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	resp := detection.HealthResponse{
		Status:    "healthy",
		Service:   ServiceName,
		Version:   h.cfg.Version,
		PoolStats: h.detectionService.PoolStats(),
	}

	if query.Verbose {
		snapshot := h.detectionService.Statistics()
		resp.Statistics = &snapshot

		features := h.detectionService.Features()
		features.TokenRequired = h.middleware.TokenRequired()
		resp.Features = &features
	}

	if resp.PoolStats.Closed {
		resp.Status = "shutting_down"
		return errHandler.HandleSuccess(ctx, fiber.StatusServiceUnavailable, resp)
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, resp)
}
