package capture

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrPermissionDenied is returned by Device.Acquire when the user (or the
// platform) refused microphone access. It is a non-fatal condition: the
// interview continues in text-only mode.
var ErrPermissionDenied = errors.New("capture: microphone permission denied")

// AudioStream delivers PCM 16kHz little-endian mono frames from a capture
// device. Read blocks until a frame is available and returns io.EOF once the
// stream has been released.
type AudioStream interface {
	Read() ([]byte, error)
}

// Device is the capture-device boundary. Only one stream may be live at a
// time per device; callers must Release before the next Acquire.
type Device interface {
	Acquire(ctx context.Context) (AudioStream, error)
	Release(AudioStream)
}

// PushDevice is a Device fed externally, e.g. by a kiosk client forwarding
// microphone frames over a WebSocket. The kiosk reports a browser permission
// refusal via Deny, which makes every subsequent Acquire fail with
// ErrPermissionDenied.
type PushDevice struct {
	mu     sync.Mutex
	denied bool
	active *pushStream
}

// NewPushDevice constructs an idle push device.
func NewPushDevice() *PushDevice {
	return &PushDevice{}
}

// Deny marks the device as permission-denied for the rest of the session.
func (d *PushDevice) Deny() {
	d.mu.Lock()
	d.denied = true
	s := d.active
	d.active = nil
	d.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// Push forwards one PCM frame to the active stream. Frames arriving while no
// stream is live are dropped.
func (d *PushDevice) Push(frame []byte) {
	d.mu.Lock()
	s := d.active
	d.mu.Unlock()
	if s == nil {
		return
	}
	s.push(frame)
}

// Acquire returns a fresh stream, or ErrPermissionDenied if the kiosk
// reported a refusal.
func (d *PushDevice) Acquire(ctx context.Context) (AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied {
		return nil, ErrPermissionDenied
	}
	if d.active != nil {
		d.active.close()
	}
	s := &pushStream{frames: make(chan []byte, 64), done: make(chan struct{})}
	d.active = s
	return s, nil
}

// Release ends the stream. A stream other than the active one is ignored.
func (d *PushDevice) Release(s AudioStream) {
	ps, ok := s.(*pushStream)
	if !ok {
		return
	}
	d.mu.Lock()
	if d.active == ps {
		d.active = nil
	}
	d.mu.Unlock()
	ps.close()
}

type pushStream struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *pushStream) push(frame []byte) {
	select {
	case s.frames <- frame:
	case <-s.done:
	default:
		// backpressure: drop rather than stall the kiosk socket
	}
}

func (s *pushStream) Read() ([]byte, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *pushStream) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
