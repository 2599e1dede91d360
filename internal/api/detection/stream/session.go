package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"QRCodeService/internal/api/detection"
	"QRCodeService/internal/entity"

	"github.com/sirupsen/logrus"
)

type State int32

const (
	Open State = iota
	Processing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Processing:
		return "processing"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// Conn is the subset of a WebSocket connection a Session needs. Only the
// session's reader calls ReadMessage and only Serve writes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Detector is the part of the detection service a session drives.
type Detector interface {
	Detect(ctx context.Context, req detection.DetectionRequest) (*entity.DetectionResult, error)
	RejectInput(ctx context.Context, source detection.Source, cause error) *entity.DetectionResult
}

const (
	defaultReadTimeout = 60 * time.Second
	writeTimeout       = 10 * time.Second
	inboxSize          = 16
	stopReaderRetry    = 50 * time.Millisecond
)

type Option func(*Session)

// WithReadTimeout bounds how long the peer may stay silent.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// Session is the server side of one streaming connection. Messages are
// handled one at a time in arrival order.
type Session struct {
	id          string
	conn        Conn
	detector    Detector
	log         logrus.FieldLogger
	readTimeout time.Duration

	state     atomic.Int32
	processed atomic.Uint64
}

func NewSession(id string, conn Conn, detector Detector, log logrus.FieldLogger, opts ...Option) *Session {
	s := &Session{
		id:          id,
		conn:        conn,
		detector:    detector,
		log:         log.WithField("connection_id", id),
		readTimeout: defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Processed reports how many messages have been handled.
func (s *Session) Processed() uint64 {
	return s.processed.Load()
}

type frame struct {
	messageType int
	data        []byte
}

// Serve processes messages until the peer sends close, the connection fails
// or ctx is cancelled, and leaves the session Closed. A read failure stops
// messages still queued from being processed, but a detection already
// running completes and releases its detector. The reader has stopped
// touching the connection by the time Serve returns; the caller owns the
// connection and closes it afterwards.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer s.state.Store(int32(Closed))

	inbox := make(chan frame, inboxSize)
	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readLoop(ctx, cancel, inbox, readErr)
	}()
	defer s.stopReader(cancel, readerDone)

	for {
		select {
		case <-ctx.Done():
			return s.stopReason(ctx, readErr)
		case f := <-inbox:
			if ctx.Err() != nil {
				return s.stopReason(ctx, readErr)
			}

			done, err := s.handle(ctx, f)
			s.processed.Add(1)
			if err != nil || done {
				return err
			}
		}
	}
}

// stopReader unblocks a pending read by expiring the read deadline and waits
// for the reader to exit. The deadline is re-armed until then since a ping
// handler running on the reader may push it forward again.
func (s *Session) stopReader(cancel context.CancelFunc, readerDone <-chan struct{}) {
	cancel()
	for {
		_ = s.conn.SetReadDeadline(time.Now())
		select {
		case <-readerDone:
			return
		case <-time.After(stopReaderRetry):
		}
	}
}

func (s *Session) stopReason(ctx context.Context, readErr <-chan error) error {
	select {
	case err := <-readErr:
		return err
	default:
		return ctx.Err()
	}
}

func (s *Session) readLoop(ctx context.Context, cancel context.CancelFunc, inbox chan<- frame, readErr chan<- error) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			readErr <- err
			cancel()
			return
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			cancel()
			return
		}
		if ctx.Err() != nil {
			return
		}
		if messageType != TextMessage && messageType != BinaryMessage {
			continue
		}

		select {
		case inbox <- frame{messageType: messageType, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// handle processes one frame. done reports a clean, client requested close.
func (s *Session) handle(ctx context.Context, f frame) (done bool, err error) {
	msg, err := ParseFrame(f.messageType, f.data)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			s.log.WithField("error", perr.Error()).Debug("Malformed stream message")
			return false, s.send(protocolErrorMessage(perr))
		}
		return false, s.send(errorMessage("Invalid request format", err))
	}

	switch m := msg.(type) {
	case Detect:
		s.state.Store(int32(Processing))
		defer s.state.Store(int32(Open))
		return s.detect(ctx, m)
	case Close:
		s.state.Store(int32(Closed))
		s.log.Debug("Client requested close")
		return true, s.send(closeMessage())
	case Unknown:
		perr := &ProtocolError{Message: "Unknown message type: " + m.Type, Detail: "Unsupported message type"}
		s.log.WithField("type", m.Type).Debug("Unknown stream message type")
		return false, s.send(protocolErrorMessage(perr))
	default:
		return false, s.send(errorMessage("Invalid request format", nil))
	}
}

func (s *Session) detect(ctx context.Context, m Detect) (bool, error) {
	// The peer going away must not abort a detection half way.
	detectCtx := context.WithoutCancel(ctx)

	req := detection.DetectionRequest{Image: m.Raw, Source: detection.SourceStreamFrame}
	if m.Raw == nil {
		data, err := detection.DecodeBase64Image(m.Encoded)
		if err != nil {
			return false, s.send(resultMessage(s.detector.RejectInput(detectCtx, detection.SourceBase64, err)))
		}
		req = detection.DetectionRequest{Image: data, Source: detection.SourceBase64}
	}

	result, err := s.detector.Detect(detectCtx, req)
	if result != nil {
		return false, s.send(resultMessage(result))
	}

	s.log.WithField("error", err.Error()).Warn("Stream detection failed")
	if sendErr := s.send(errorMessage("Detection failed", err)); sendErr != nil {
		return false, sendErr
	}
	if errors.Is(err, detection.ErrServiceUnavailable) {
		return true, nil
	}
	return false, nil
}

func (s *Session) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(TextMessage, payload)
}
