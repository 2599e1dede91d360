package websocketPkg

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"QRCodeService/internal/entity"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServerError is an error envelope sent back by the detection endpoint.
type ServerError struct {
	Message string
	Detail  string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ": " + e.Detail
}

// IDetectionClient talks to a /ws detection endpoint. Calls are serialised;
// each one is a single request/response round trip.
type IDetectionClient interface {
	DetectFrame(frame []byte) (*entity.DetectionResult, error)
	DetectEncoded(frame []byte) (*entity.DetectionResult, error)
	IsConnected() bool
	Reconnect() error
	Close() error
}

type Config struct {
	URL          string
	Header       http.Header
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type reply struct {
	Type string `json:"type"`
	entity.DetectionResult
	Error string `json:"error"`
}

type webSocketClient struct {
	cfg  Config
	log  logrus.FieldLogger
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewDetectionClient(cfg Config, log logrus.FieldLogger) IDetectionClient {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &webSocketClient{cfg: cfg, log: log}
}

func (c *webSocketClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *webSocketClient) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *webSocketClient) connectLocked() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if c.cfg.URL == "" {
		return fmt.Errorf("detection service URL not configured")
	}

	c.log.WithField("url", c.cfg.URL).Debug("Connecting to detection service")

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.URL, err)
	}

	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout))
		if err != nil {
			c.log.Warnf("Error sending pong: %v", err)
		}
		return nil
	})

	c.conn = conn
	go c.keepAlive(conn)

	return nil
}

func (c *webSocketClient) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()

		if current != conn {
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			c.log.Warnf("Ping failed, marking connection as dead: %v", err)
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
			return
		}
	}
}

// DetectFrame sends raw image bytes as a binary frame.
func (c *webSocketClient) DetectFrame(frame []byte) (*entity.DetectionResult, error) {
	return c.roundTrip(websocket.BinaryMessage, frame)
}

// DetectEncoded sends the image base64 encoded inside a detect message.
func (c *webSocketClient) DetectEncoded(frame []byte) (*entity.DetectionResult, error) {
	payload, err := json.Marshal(map[string]string{
		"type":  "detect",
		"image": base64.StdEncoding.EncodeToString(frame),
	})
	if err != nil {
		return nil, err
	}
	return c.roundTrip(websocket.TextMessage, payload)
}

func (c *webSocketClient) roundTrip(messageType int, payload []byte) (*entity.DetectionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(); err != nil {
			return nil, fmt.Errorf("cannot connect to detection service: %w", err)
		}
	}
	conn := c.conn

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(messageType, payload); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("error sending frame: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	var r reply
	if err := json.Unmarshal(message, &r); err != nil {
		return nil, fmt.Errorf("error unmarshaling response: %w", err)
	}

	switch r.Type {
	case "detection_result":
		c.log.WithFields(logrus.Fields{
			"success": r.Success,
			"count":   r.Count,
		}).Debug("Received detection result")
		return &r.DetectionResult, nil
	case "error":
		return nil, &ServerError{Message: r.Message, Detail: r.Error}
	default:
		return nil, fmt.Errorf("unexpected response type %q", r.Type)
	}
}

// Close asks the server to end the session, waits for the acknowledgement
// and closes the connection.
func (c *webSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn := c.conn
	if conn == nil {
		return nil
	}
	defer c.dropLocked()

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"close"}`)); err != nil {
		return fmt.Errorf("error sending close request: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("error waiting for close acknowledgement: %w", err)
		}

		var r reply
		if err := json.Unmarshal(message, &r); err == nil && r.Type == "close" {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			return nil
		}
	}
}

func (c *webSocketClient) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
