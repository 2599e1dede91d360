package detectionHandler

import (
	_ "embed"
	"time"

	detectionService "QRCodeService/internal/api/detection/service"
	"QRCodeService/internal/middleware"
	"QRCodeService/pkg/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const ServiceName = "qrcode-detector"

var (
	//go:embed static/index.html
	indexHTML []byte
	//go:embed static/camera.html
	cameraHTML []byte
)

type Config struct {
	Version       string
	WSReadTimeout time.Duration
}

type DetectionHandler struct {
	log              *logrus.Logger
	validator        *validator.Validate
	middleware       middleware.Middleware
	detectionService detectionService.IDetectionService
	utils            utils.IUtils
	cfg              Config
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	ds detectionService.IDetectionService,
	utils utils.IUtils,
	cfg Config,
) *DetectionHandler {
	if cfg.WSReadTimeout <= 0 {
		cfg.WSReadTimeout = 60 * time.Second
	}

	return &DetectionHandler{
		detectionService: ds,
		log:              log,
		validator:        validator,
		middleware:       middleware,
		utils:            utils,
		cfg:              cfg,
	}
}

func (h *DetectionHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	srv.Get("/", h.Index)
	srv.Get("/camera", h.Camera)
	srv.Get("/health", h.Health)

	detect := srv.Group("/detect", h.middleware.NewRateLimiter, h.middleware.NewTokenMiddleware)
	detect.Post("/file", h.DetectFile)
	detect.Post("/base64", h.DetectBase64)

	srv.Use("/ws", wsMiddleware)
	srv.Get("/ws", websocket.New(h.handleWebSocket))
}

func (h *DetectionHandler) Index(ctx *fiber.Ctx) error {
	ctx.Type("html", "utf-8")
	return ctx.Send(indexHTML)
}

func (h *DetectionHandler) Camera(ctx *fiber.Ctx) error {
	ctx.Type("html", "utf-8")
	return ctx.Send(cameraHTML)
}
