// Package stream implements the WebSocket detection protocol independently
// of any particular WebSocket library.
//
// Client messages are JSON objects discriminated by "type":
//
//	{"type":"detect","image":"<base64>"}
//	{"type":"close"}
//
// A binary frame is a raw encoded image and is treated as a detect. Server
// messages carry "type" too: "detection_result", "error" or "close".
package stream

import (
	"fmt"

	"QRCodeService/internal/entity"

	jsoniter "github.com/json-iterator/go"
)

// Frame opcodes, as defined by RFC 6455.
const (
	TextMessage   = 1
	BinaryMessage = 2
)

const (
	TypeDetect          = "detect"
	TypeClose           = "close"
	TypeDetectionResult = "detection_result"
	TypeError           = "error"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is one parsed client message: Detect, Close or Unknown.
type Message interface {
	isMessage()
}

// Detect asks for one image to be scanned. Exactly one of Encoded (text
// frames) and Raw (binary frames) is set.
type Detect struct {
	Encoded string
	Raw     []byte
}

type Close struct{}

// Unknown carries a type the protocol does not define.
type Unknown struct {
	Type string
}

func (Detect) isMessage()  {}
func (Close) isMessage()   {}
func (Unknown) isMessage() {}

// ProtocolError is a malformed client message. It is reported back on the
// connection, which stays open.
type ProtocolError struct {
	Message string
	Detail  string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

type inbound struct {
	Type  string  `json:"type"`
	Image *string `json:"image"`
}

// Parse decodes a text frame.
func Parse(data []byte) (Message, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, &ProtocolError{Message: "Invalid request format", Detail: err.Error()}
	}

	switch in.Type {
	case TypeDetect:
		if in.Image == nil || *in.Image == "" {
			return nil, &ProtocolError{Message: "Missing image data", Detail: "No image field in request"}
		}
		return Detect{Encoded: *in.Image}, nil
	case TypeClose:
		return Close{}, nil
	default:
		return Unknown{Type: in.Type}, nil
	}
}

// ParseFrame decodes a frame of either kind.
func ParseFrame(messageType int, data []byte) (Message, error) {
	if messageType == BinaryMessage {
		return Detect{Raw: data}, nil
	}
	return Parse(data)
}

// ResultMessage is a DetectionResult tagged with its message type.
type ResultMessage struct {
	Type string `json:"type"`
	*entity.DetectionResult
}

// StatusMessage is used for errors and for the close acknowledgement.
type StatusMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func resultMessage(result *entity.DetectionResult) ResultMessage {
	return ResultMessage{Type: TypeDetectionResult, DetectionResult: result}
}

func errorMessage(message string, err error) StatusMessage {
	msg := StatusMessage{Type: TypeError, Message: message}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

func protocolErrorMessage(err *ProtocolError) StatusMessage {
	return StatusMessage{Type: TypeError, Message: err.Message, Error: err.Detail}
}

func closeMessage() StatusMessage {
	return StatusMessage{Type: TypeClose, Success: true, Message: "Connection closing"}
}
