package detectionHandler

import (
	"context"
	"time"

	"QRCodeService/internal/api/detection/stream"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

func (h *DetectionHandler) handleWebSocket(c *websocket.Conn) {
	connID := uuid.NewString()
	logger := h.log.WithField("connection_id", connID)

	logger.Info("Detection WebSocket client connected")
	defer logger.Info("Detection WebSocket client disconnected")

	c.SetPingHandler(func(data string) error {
		logger.Debug("Received ping, sending pong")
		if err := c.SetReadDeadline(time.Now().Add(h.cfg.WSReadTimeout)); err != nil {
			return err
		}
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			logger.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	session := stream.NewSession(connID, c, h.detectionService, h.log, stream.WithReadTimeout(h.cfg.WSReadTimeout))
	err := session.Serve(context.Background())

	switch {
	case err == nil:
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if writeErr := c.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); writeErr != nil {
			logger.Debugf("Error sending close frame: %v", writeErr)
		}
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		logger.Errorf("Detection WebSocket error: %v", err)
	default:
		logger.WithField("processed", session.Processed()).Info("Detection WebSocket connection closed")
	}
}
