// Command wsprobe streams an image to a running detector over its /ws
// endpoint and prints each result.
package main

import (
	"errors"
	"flag"
	"os"
	"time"

	"QRCodeService/internal/entity"
	"QRCodeService/pkg/log"
	websocketPkg "QRCodeService/pkg/websocket"

	"github.com/sirupsen/logrus"
)

func main() {
	url := flag.String("url", "ws://localhost:3000/ws", "detection WebSocket endpoint")
	imagePath := flag.String("image", "", "image file to send")
	count := flag.Int("n", 1, "number of frames to send")
	binary := flag.Bool("binary", false, "send raw binary frames instead of base64 detect messages")
	timeout := flag.Duration("timeout", 10*time.Second, "per-frame response timeout")
	flag.Parse()

	logger := log.NewLogger()

	if *imagePath == "" {
		logger.Fatal("-image is required")
	}
	frame, err := os.ReadFile(*imagePath)
	if err != nil {
		logger.Fatalf("Failed to read image: %v", err)
	}

	client := websocketPkg.NewDetectionClient(websocketPkg.Config{
		URL:         *url,
		ReadTimeout: *timeout,
	}, logger)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warnf("Error closing connection: %v", err)
		}
	}()

	send := client.DetectEncoded
	if *binary {
		send = client.DetectFrame
	}

	var failures int
	started := time.Now()
	for i := 0; i < *count; i++ {
		result, err := send(frame)
		if err != nil {
			failures++
			var serverErr *websocketPkg.ServerError
			if errors.As(err, &serverErr) {
				logger.WithField("frame", i).Warnf("Server rejected frame: %v", serverErr)
				continue
			}
			logger.WithField("frame", i).Errorf("Frame failed: %v", err)
			continue
		}
		report(logger, i, result)
	}

	logger.WithFields(logrus.Fields{
		"frames":   *count,
		"failures": failures,
		"elapsed":  time.Since(started).String(),
	}).Info("Probe finished")
}

func report(logger *logrus.Logger, frame int, result *entity.DetectionResult) {
	logger.WithFields(logrus.Fields{
		"frame":      frame,
		"success":    result.Success,
		"count":      result.Count,
		"total_ms":   result.Statistics.TotalTimeMs,
		"acquire_ms": result.Statistics.PoolAcquisitionTimeMs,
	}).Info(result.Message)

	for _, code := range result.QRCodes {
		logger.WithFields(logrus.Fields{"frame": frame, "bbox": code.BBox}).Info(code.Text)
	}
}
