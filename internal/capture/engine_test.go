package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/transcript"
)

type fakeRecognizer struct {
	events     chan transcript.Event
	sent       atomic.Int64
	closed     atomic.Bool
	connectErr error
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{events: make(chan transcript.Event, 16)}
}

func (f *fakeRecognizer) Connect() error { return f.connectErr }

func (f *fakeRecognizer) SendPCM16KLE(pcm []byte) error {
	f.sent.Add(1)
	return nil
}

func (f *fakeRecognizer) Events() <-chan transcript.Event { return f.events }

func (f *fakeRecognizer) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.events)
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEngineStartStopLifecycle(t *testing.T) {
	dev := NewPushDevice()
	rec := newFakeRecognizer()
	e := NewEngine(dev, func() Recognizer { return rec }, time.Hour, Callbacks{})

	if e.State() != StateIdle {
		t.Fatalf("new engine state = %s, want idle", e.State())
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if e.State() != StateListening {
		t.Fatalf("state after start = %s, want listening", e.State())
	}
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected error starting while listening")
	}

	dev.Push([]byte{1, 2, 3, 4})
	waitFor(t, func() bool { return rec.sent.Load() == 1 }, "frame never reached recognizer")

	e.Stop()
	if e.State() != StateIdle {
		t.Fatalf("state after stop = %s, want idle", e.State())
	}
	if !rec.closed.Load() {
		t.Fatal("recognizer not closed on stop")
	}
}

func TestEngineTranscriptFlow(t *testing.T) {
	dev := NewPushDevice()
	rec := newFakeRecognizer()
	var last atomic.Value
	e := NewEngine(dev, func() Recognizer { return rec }, time.Hour, Callbacks{
		OnUpdate: func(text string) { last.Store(text) },
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec.events <- transcript.Event{Text: "I have"}
	waitFor(t, func() bool { v, _ := last.Load().(string); return v == "I have" }, "partial not applied")

	rec.events <- transcript.Event{Final: true, Text: "I have a headache"}
	waitFor(t, func() bool { v, _ := last.Load().(string); return v == "I have a headache" }, "final not applied")

	rec.events <- transcript.Event{Text: "since yest"}
	waitFor(t, func() bool {
		v, _ := last.Load().(string)
		return v == "I have a headache since yest"
	}, "second partial not appended after final")

	e.Stop()
	if got := e.Combined(); got != "I have a headache since yest" {
		t.Fatalf("combined after stop = %q", got)
	}
}

func TestEnginePermissionDeniedDegradesOnce(t *testing.T) {
	dev := NewPushDevice()
	dev.Deny()
	var unavailable atomic.Int64
	e := NewEngine(dev, func() Recognizer { return newFakeRecognizer() }, time.Hour, Callbacks{
		OnUnavailable: func() { unavailable.Add(1) },
	})

	if err := e.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("start err = %v, want permission denied", err)
	}
	if e.State() != StateUnsupported {
		t.Fatalf("state = %s, want unsupported", e.State())
	}
	// Further starts fail without a second notification.
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected error starting unsupported engine")
	}
	if n := unavailable.Load(); n != 1 {
		t.Fatalf("unavailable notifications = %d, want 1", n)
	}
}

// gatedDevice parks Acquire until released so a second Start can be issued
// while the first is still mid-acquisition.
type gatedDevice struct {
	inner    *PushDevice
	entered  chan struct{}
	release  chan struct{}
	acquires atomic.Int64
}

func (d *gatedDevice) Acquire(ctx context.Context) (AudioStream, error) {
	d.acquires.Add(1)
	d.entered <- struct{}{}
	<-d.release
	return d.inner.Acquire(ctx)
}

func (d *gatedDevice) Release(s AudioStream) { d.inner.Release(s) }

func TestEngineConcurrentStartSingleSession(t *testing.T) {
	dev := &gatedDevice{
		inner:   NewPushDevice(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	var recs []*fakeRecognizer
	var recsMu sync.Mutex
	e := NewEngine(dev, func() Recognizer {
		r := newFakeRecognizer()
		recsMu.Lock()
		recs = append(recs, r)
		recsMu.Unlock()
		return r
	}, time.Hour, Callbacks{})

	firstErr := make(chan error, 1)
	go func() { firstErr <- e.Start(context.Background()) }()
	<-dev.entered

	// The first Start is parked inside Acquire; a second must fail fast
	// without touching the device or connecting another recognizer.
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("second concurrent start succeeded")
	}
	if n := dev.acquires.Load(); n != 1 {
		t.Fatalf("device acquired %d times, want 1", n)
	}

	close(dev.release)
	if err := <-firstErr; err != nil {
		t.Fatalf("first start: %v", err)
	}
	if e.State() != StateListening {
		t.Fatalf("state = %s, want listening", e.State())
	}
	recsMu.Lock()
	n := len(recs)
	recsMu.Unlock()
	if n != 1 {
		t.Fatalf("%d recognizers created, want 1", n)
	}

	e.Stop()
	recsMu.Lock()
	closed := recs[0].closed.Load()
	recsMu.Unlock()
	if !closed {
		t.Fatal("recognizer not closed on stop")
	}
}

func TestEngineNilFactoryUnsupported(t *testing.T) {
	e := NewEngine(NewPushDevice(), nil, time.Hour, Callbacks{})
	if e.State() != StateUnsupported {
		t.Fatalf("state = %s, want unsupported", e.State())
	}
	if e.Supported() {
		t.Fatal("Supported() = true for nil factory")
	}
}

func TestEngineRecognitionFailurePreservesBuffer(t *testing.T) {
	dev := NewPushDevice()
	rec := newFakeRecognizer()
	var failures atomic.Int64
	e := NewEngine(dev, func() Recognizer { return rec }, time.Hour, Callbacks{
		OnFailure: func(err error) { failures.Add(1) },
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.events <- transcript.Event{Final: true, Text: "chest pain"}
	rec.events <- transcript.Event{Err: errors.New("stream dropped")}

	waitFor(t, func() bool { return failures.Load() == 1 }, "failure callback never fired")
	waitFor(t, func() bool { return e.State() == StateIdle }, "engine did not return to idle")
	if got := e.Combined(); got != "chest pain" {
		t.Fatalf("buffer lost after failure: %q", got)
	}
	// Voice is still available after a transient failure.
	if !e.Supported() {
		t.Fatal("engine unsupported after transient failure")
	}
}

func TestEngineSilenceCallback(t *testing.T) {
	dev := NewPushDevice()
	rec := newFakeRecognizer()
	var silences atomic.Int64
	e := NewEngine(dev, func() Recognizer { return rec }, 30*time.Millisecond, Callbacks{
		OnSilence: func() { silences.Add(1) },
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.events <- transcript.Event{Final: true, Text: "that is all"}
	waitFor(t, func() bool { return silences.Load() == 1 }, "silence never fired")
	e.Stop()
}

// The window measures idle time after the last finalized fragment; before any
// speech, and on partial hypotheses, it stays disarmed.
func TestEngineSilenceArmsOnlyAfterFinal(t *testing.T) {
	dev := NewPushDevice()
	rec := newFakeRecognizer()
	var silences atomic.Int64
	e := NewEngine(dev, func() Recognizer { return rec }, 30*time.Millisecond, Callbacks{
		OnSilence: func() { silences.Add(1) },
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if n := silences.Load(); n != 0 {
		t.Fatalf("silence fired %d times before any speech", n)
	}

	rec.events <- transcript.Event{Text: "I was wonder"}
	waitFor(t, func() bool { return e.Combined() == "I was wonder" }, "partial not applied")
	time.Sleep(80 * time.Millisecond)
	if n := silences.Load(); n != 0 {
		t.Fatalf("silence fired %d times on a partial", n)
	}

	rec.events <- transcript.Event{Final: true, Text: "I was wondering"}
	waitFor(t, func() bool { return silences.Load() == 1 }, "silence never fired after final")
	e.Stop()
}

func TestEngineCancelSilence(t *testing.T) {
	dev := NewPushDevice()
	rec := newFakeRecognizer()
	var silences, updates atomic.Int64
	e := NewEngine(dev, func() Recognizer { return rec }, 40*time.Millisecond, Callbacks{
		OnSilence: func() { silences.Add(1) },
		OnUpdate:  func(string) { updates.Add(1) },
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.events <- transcript.Event{Final: true, Text: "done talking"}
	// OnUpdate fires after the timer is armed.
	waitFor(t, func() bool { return updates.Load() == 1 }, "final not applied")
	e.CancelSilence()
	time.Sleep(100 * time.Millisecond)
	if n := silences.Load(); n != 0 {
		t.Fatalf("silence fired %d times after cancel", n)
	}
	e.Stop()
}

func TestEngineStaleEventsDiscardedAfterStop(t *testing.T) {
	dev := NewPushDevice()
	rec := newFakeRecognizer()
	e := NewEngine(dev, func() Recognizer { return rec }, time.Hour, Callbacks{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Stop()
	e.ResetBuffer()
	// Channel is closed by Stop; a second session must not see old state.
	rec2 := newFakeRecognizer()
	e2deviceCheck := e.Combined()
	if e2deviceCheck != "" {
		t.Fatalf("buffer not cleared: %q", e2deviceCheck)
	}
	e.device = dev
	e.newRecognizer = func() Recognizer { return rec2 }
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	rec2.events <- transcript.Event{Final: true, Text: "fresh"}
	waitFor(t, func() bool { return e.Combined() == "fresh" }, "second session event not applied")
	e.Stop()
}

func TestBufferCombined(t *testing.T) {
	var b Buffer
	if b.Combined() != "" {
		t.Fatal("empty buffer not empty")
	}
	b.SetPending("hel")
	if got := b.Combined(); got != "hel" {
		t.Fatalf("pending only = %q", got)
	}
	b.AppendFinal("hello there")
	if got := b.Combined(); got != "hello there" {
		t.Fatalf("final clears pending: %q", got)
	}
	b.SetPending("gen")
	if got := b.Combined(); got != "hello there gen" {
		t.Fatalf("final+pending = %q", got)
	}
	b.AppendFinal("  general kenobi  ")
	if got := b.Combined(); got != "hello there general kenobi" {
		t.Fatalf("two finals = %q", got)
	}
	b.Reset()
	if b.Combined() != "" {
		t.Fatal("reset did not clear")
	}
}

func TestSilenceTimerRearmAndDisarm(t *testing.T) {
	var fired atomic.Int64
	st := NewSilenceTimer(func() { fired.Add(1) })
	st.Arm(30 * time.Millisecond)
	st.Arm(30 * time.Millisecond)
	waitFor(t, func() bool { return fired.Load() == 1 }, "timer never fired")
	if st.Armed() {
		t.Fatal("timer still armed after fire")
	}

	st.Arm(30 * time.Millisecond)
	st.Disarm()
	time.Sleep(80 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Fatalf("fired %d times, want 1 (disarm should cancel)", n)
	}
}

func TestPushDeviceSingleActiveStream(t *testing.T) {
	dev := NewPushDevice()
	s1, err := dev.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	s2, err := dev.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	// First stream was closed by the second acquire.
	if _, err := s1.Read(); err == nil {
		t.Fatal("expected EOF from superseded stream")
	}
	dev.Push([]byte{9})
	frame, err := s2.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frame) != 1 || frame[0] != 9 {
		t.Fatalf("unexpected frame %v", frame)
	}
	dev.Release(s2)
	if _, err := s2.Read(); err == nil {
		t.Fatal("expected EOF after release")
	}
}
