package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"QRCodeService/internal/api/detection"
	"QRCodeService/internal/entity"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	errConnClosed = errors.New("use of closed connection")
	errTimeout    = errors.New("i/o timeout")
)

type fakeConn struct {
	in         chan frame
	wrote      chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	expired    chan struct{}
	expireOnce sync.Once

	// released marks the connection as handed back; any read after that is
	// counted in lateReads.
	released  atomic.Bool
	lateReads atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan frame, 256),
		wrote:   make(chan []byte, 64),
		closed:  make(chan struct{}),
		expired: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if c.released.Load() {
		c.lateReads.Add(1)
	}

	select {
	case <-c.expired:
		return 0, nil, errTimeout
	default:
	}

	select {
	case <-c.expired:
		return 0, nil, errTimeout
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.wrote <- append([]byte(nil), data...)
	return nil
}

// SetReadDeadline expires the connection for reading once a deadline at or
// before now is set. Later deadlines do not revive it.
func (c *fakeConn) SetReadDeadline(t time.Time) error {
	if c.released.Load() {
		c.lateReads.Add(1)
	}
	if !t.After(time.Now()) {
		c.expireOnce.Do(func() { close(c.expired) })
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) text(s string) {
	c.in <- frame{messageType: TextMessage, data: []byte(s)}
}

func (c *fakeConn) detect(payload string) {
	c.text(`{"type":"detect","image":"` + base64.StdEncoding.EncodeToString([]byte(payload)) + `"}`)
}

type reply struct {
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	QRCodes []entity.QRCode `json:"qrcodes"`
	Count   int             `json:"count"`
}

func (c *fakeConn) next(t *testing.T) reply {
	t.Helper()
	select {
	case data := <-c.wrote:
		var r reply
		require.NoError(t, json.Unmarshal(data, &r))
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from session")
		return reply{}
	}
}

// echoDetector reports one QR code whose text is the image payload.
type echoDetector struct {
	mu       sync.Mutex
	requests []detection.DetectionRequest
	rejected int
	gate     chan struct{}
	entered  chan struct{}
	ctxErrs  []error
	err      error
}

func (d *echoDetector) Detect(ctx context.Context, req detection.DetectionRequest) (*entity.DetectionResult, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.gate != nil {
		<-d.gate
	}

	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.ctxErrs = append(d.ctxErrs, ctx.Err())
	d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	return &entity.DetectionResult{
		Success: true,
		Message: "Detected 1 QR code(s)",
		QRCodes: []entity.QRCode{{Text: string(req.Image)}},
		Count:   1,
	}, nil
}

func (d *echoDetector) RejectInput(context.Context, detection.Source, error) *entity.DetectionResult {
	d.mu.Lock()
	d.rejected++
	d.mu.Unlock()
	return &entity.DetectionResult{Success: false, Message: "Invalid image format", QRCodes: []entity.QRCode{}}
}

func (d *echoDetector) calls() []detection.DetectionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]detection.DetectionRequest(nil), d.requests...)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func serve(t *testing.T, conn *fakeConn, det Detector) (*Session, <-chan error) {
	t.Helper()
	s := NewSession("test-conn", conn, det, quietLogger())
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()
	t.Cleanup(conn.Close)
	return s, done
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func TestSession_DetectThenClose(t *testing.T) {
	conn := newFakeConn()
	det := &echoDetector{}
	s, done := serve(t, conn, det)

	conn.detect("hello")
	r := conn.next(t)
	require.Equal(t, TypeDetectionResult, r.Type)
	require.True(t, r.Success)
	require.Len(t, r.QRCodes, 1)
	require.Equal(t, "hello", r.QRCodes[0].Text)
	require.Equal(t, 1, r.Count)

	conn.text(`{"type":"close"}`)
	r = conn.next(t)
	require.Equal(t, TypeClose, r.Type)
	require.True(t, r.Success)
	require.Equal(t, "Connection closing", r.Message)

	require.NoError(t, waitServe(t, done))
	require.Equal(t, Closed, s.State())
	require.Equal(t, uint64(2), s.Processed())
	require.Equal(t, detection.SourceBase64, det.calls()[0].Source)
}

func TestSession_PipelinedMessagesKeepOrder(t *testing.T) {
	conn := newFakeConn()
	_, done := serve(t, conn, &echoDetector{})

	payloads := []string{"one", "two", "three", "four", "five", "six"}
	for _, p := range payloads {
		conn.detect(p)
	}
	for _, p := range payloads {
		r := conn.next(t)
		require.Equal(t, p, r.QRCodes[0].Text)
	}

	conn.text(`{"type":"close"}`)
	conn.next(t)
	require.NoError(t, waitServe(t, done))
}

func TestSession_MalformedMessagesKeepConnectionOpen(t *testing.T) {
	conn := newFakeConn()
	s, done := serve(t, conn, &echoDetector{})

	conn.text(`{"type":"subscribe"}`)
	r := conn.next(t)
	require.Equal(t, TypeError, r.Type)
	require.False(t, r.Success)
	require.Equal(t, "Unknown message type: subscribe", r.Message)
	require.Equal(t, "Unsupported message type", r.Error)

	conn.text(`{"type":`)
	r = conn.next(t)
	require.Equal(t, TypeError, r.Type)
	require.Equal(t, "Invalid request format", r.Message)

	conn.text(`{"type":"detect"}`)
	r = conn.next(t)
	require.Equal(t, TypeError, r.Type)
	require.Equal(t, "Missing image data", r.Message)

	require.Equal(t, Open, s.State())

	conn.detect("still alive")
	r = conn.next(t)
	require.Equal(t, "still alive", r.QRCodes[0].Text)

	conn.text(`{"type":"close"}`)
	conn.next(t)
	require.NoError(t, waitServe(t, done))
}

func TestSession_InvalidBase64IsRejectedWithoutDetecting(t *testing.T) {
	conn := newFakeConn()
	det := &echoDetector{}
	_, done := serve(t, conn, det)

	conn.text(`{"type":"detect","image":"***"}`)
	r := conn.next(t)
	require.Equal(t, TypeDetectionResult, r.Type)
	require.False(t, r.Success)
	require.Equal(t, "Invalid image format", r.Message)
	require.Empty(t, det.calls())

	conn.text(`{"type":"close"}`)
	conn.next(t)
	require.NoError(t, waitServe(t, done))
	require.Equal(t, 1, det.rejected)
}

func TestSession_BinaryFrameIsDetected(t *testing.T) {
	conn := newFakeConn()
	det := &echoDetector{}
	_, done := serve(t, conn, det)

	conn.in <- frame{messageType: BinaryMessage, data: []byte("raw-bytes")}
	r := conn.next(t)
	require.Equal(t, "raw-bytes", r.QRCodes[0].Text)
	require.Equal(t, detection.SourceStreamFrame, det.calls()[0].Source)

	conn.text(`{"type":"close"}`)
	conn.next(t)
	require.NoError(t, waitServe(t, done))
}

func TestSession_StateIsProcessingDuringDetect(t *testing.T) {
	conn := newFakeConn()
	det := &echoDetector{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s, done := serve(t, conn, det)

	conn.detect("slow")
	<-det.entered
	require.Equal(t, Processing, s.State())

	close(det.gate)
	conn.next(t)
	require.Eventually(t, func() bool { return s.State() == Open }, time.Second, time.Millisecond)

	conn.text(`{"type":"close"}`)
	conn.next(t)
	require.NoError(t, waitServe(t, done))
}

func TestSession_DisconnectFinishesInFlightAndDropsQueued(t *testing.T) {
	conn := newFakeConn()
	det := &echoDetector{gate: make(chan struct{}), entered: make(chan struct{}, 4)}
	s, done := serve(t, conn, det)

	conn.detect("in-flight")
	<-det.entered
	conn.detect("queued")
	require.Eventually(t, func() bool { return len(conn.in) == 0 }, time.Second, time.Millisecond)

	conn.Close()
	close(det.gate)

	require.ErrorIs(t, waitServe(t, done), errConnClosed)
	require.Equal(t, Closed, s.State())

	calls := det.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "in-flight", string(calls[0].Image))
	require.NoError(t, det.ctxErrs[0])
}

func TestSession_PeerEOFEndsSession(t *testing.T) {
	conn := newFakeConn()
	s, done := serve(t, conn, &echoDetector{})

	close(conn.in)
	require.ErrorIs(t, waitServe(t, done), io.EOF)
	require.Equal(t, Closed, s.State())
}

func TestSession_ServiceUnavailableEndsSession(t *testing.T) {
	conn := newFakeConn()
	_, done := serve(t, conn, &echoDetector{err: detection.ErrServiceUnavailable})

	conn.detect("late")
	r := conn.next(t)
	require.Equal(t, TypeError, r.Type)
	require.Equal(t, "Detection failed", r.Message)
	require.Equal(t, "detector pool is closed", r.Error)

	require.NoError(t, waitServe(t, done))
}

func TestSession_ContextCancelStops(t *testing.T) {
	conn := newFakeConn()
	t.Cleanup(conn.Close)
	s := NewSession("cancelled", conn, &echoDetector{}, quietLogger(), WithReadTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	require.ErrorIs(t, waitServe(t, done), context.Canceled)
	require.Equal(t, Closed, s.State())
	require.Equal(t, "cancelled", s.ID())
}

func TestSession_CloseStopsReaderBeforeReturning(t *testing.T) {
	conn := newFakeConn()
	s, done := serve(t, conn, &echoDetector{})

	conn.text(`{"type":"close"}`)
	for i := 0; i < 200; i++ {
		conn.text(`{"type":"nope"}`)
	}

	require.NoError(t, waitServe(t, done))
	conn.released.Store(true)

	r := conn.next(t)
	require.Equal(t, TypeClose, r.Type)
	require.Equal(t, uint64(1), s.Processed())

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, conn.lateReads.Load())
	require.Empty(t, conn.wrote)
}

func TestSession_CancelUnblocksIdleReader(t *testing.T) {
	conn := newFakeConn()
	t.Cleanup(conn.Close)
	s := NewSession("idle", conn, &echoDetector{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, waitServe(t, done), context.Canceled)
	conn.released.Store(true)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, conn.lateReads.Load())
}
