package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/transcript"
)

// State of the capture engine.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateStopping    State = "stopping"
	StateUnsupported State = "unsupported"
)

// Recognizer streams PCM audio to a speech-to-text backend and emits
// partial/final transcript events.
type Recognizer interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	Events() <-chan transcript.Event
	Close() error
}

// Callbacks are invoked by the engine's internal goroutines. All fields are
// optional. OnUnavailable fires at most once per engine, when voice capture
// degrades permanently.
type Callbacks struct {
	// OnUpdate delivers the combined live answer after every transcript change.
	OnUpdate func(text string)
	// OnSilence fires after the configured window passes with no new speech.
	// It is advisory: the engine keeps listening until Stop is called.
	OnSilence func()
	// OnFailure reports a mid-utterance recognition failure. The engine has
	// already returned to idle; buffered text is preserved.
	OnFailure func(err error)
	// OnUnavailable reports permanent voice degradation (permission denied or
	// no recognizer configured).
	OnUnavailable func()
}

// Engine drives one microphone capture session at a time: it acquires the
// device, pumps audio into a recognizer, accumulates transcript fragments,
// and tracks a silence window between utterances.
//
// Once the engine enters the unsupported state it stays there; the interview
// continues in text-only mode.
type Engine struct {
	device        Device
	newRecognizer func() Recognizer
	window        time.Duration
	cb            Callbacks

	mu       sync.Mutex
	state    State
	starting bool
	gen      int
	buffer   Buffer
	stream   AudioStream
	rec      Recognizer
	degraded bool

	silence *SilenceTimer
}

// NewEngine constructs an idle engine. A nil recognizer factory means the
// platform has no speech recognition; the engine starts unsupported.
func NewEngine(device Device, newRecognizer func() Recognizer, window time.Duration, cb Callbacks) *Engine {
	e := &Engine{
		device:        device,
		newRecognizer: newRecognizer,
		window:        window,
		cb:            cb,
		state:         StateIdle,
	}
	e.silence = NewSilenceTimer(e.onSilenceExpired)
	if newRecognizer == nil {
		e.state = StateUnsupported
		e.degraded = true
	}
	return e
}

// State returns the current capture state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Supported reports whether voice capture is still available.
func (e *Engine) Supported() bool {
	return e.State() != StateUnsupported
}

// Combined returns the current answer text: finalized fragments plus the
// pending hypothesis.
func (e *Engine) Combined() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer.Combined()
}

// ResetBuffer clears accumulated text, typically when a new question begins.
func (e *Engine) ResetBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer.Reset()
}

// CancelSilence disarms the pending silence countdown without stopping
// capture.
func (e *Engine) CancelSilence() {
	e.silence.Disarm()
}

// Start begins a capture session. It is valid only from the idle state; a
// permission refusal degrades the engine permanently. Only one Start may be
// in flight: the starting flag is claimed under the lock before the device
// and recognizer are touched, so a concurrent Start fails fast instead of
// racing past the state check and orphaning the first session's recognizer.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.state == StateUnsupported:
		e.mu.Unlock()
		return errors.New("capture: voice input unavailable")
	case e.starting:
		e.mu.Unlock()
		return errors.New("capture: start already in progress")
	case e.state != StateIdle:
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("capture: cannot start while %s", st)
	}
	e.starting = true
	device := e.device
	factory := e.newRecognizer
	e.mu.Unlock()

	stream, err := device.Acquire(ctx)
	if err != nil {
		e.clearStarting()
		if errors.Is(err, ErrPermissionDenied) {
			e.markUnavailable()
			return err
		}
		return fmt.Errorf("capture: acquire device: %w", err)
	}

	rec := factory()
	if err := rec.Connect(); err != nil {
		device.Release(stream)
		e.clearStarting()
		return fmt.Errorf("capture: connect recognizer: %w", err)
	}

	e.mu.Lock()
	e.starting = false
	if e.state != StateIdle {
		// Degraded while acquiring (e.g. the kiosk reported a permission
		// refusal mid-start). Tear down rather than resurrect the session.
		st := e.state
		e.mu.Unlock()
		_ = rec.Close()
		device.Release(stream)
		return fmt.Errorf("capture: cannot start while %s", st)
	}
	e.gen++
	gen := e.gen
	e.state = StateListening
	e.stream = stream
	e.rec = rec
	e.mu.Unlock()

	go e.pumpAudio(gen, stream, rec)
	go e.consumeEvents(gen, rec)

	log.Println("voice capture started")
	return nil
}

func (e *Engine) clearStarting() {
	e.mu.Lock()
	e.starting = false
	e.mu.Unlock()
}

// Stop ends the capture session and returns the engine to idle. The answer
// buffer survives; callers read it via Combined.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateListening {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	e.gen++
	stream := e.stream
	rec := e.rec
	e.stream = nil
	e.rec = nil
	e.mu.Unlock()

	e.silence.Disarm()
	if rec != nil {
		_ = rec.Close()
	}
	if stream != nil {
		e.device.Release(stream)
	}

	e.mu.Lock()
	if e.state == StateStopping {
		e.state = StateIdle
	}
	e.mu.Unlock()
	log.Println("voice capture stopped")
}

// pumpAudio forwards device frames to the recognizer until the stream ends
// or the session is superseded.
func (e *Engine) pumpAudio(gen int, stream AudioStream, rec Recognizer) {
	for {
		frame, err := stream.Read()
		if err != nil {
			return
		}
		if !e.current(gen) {
			return
		}
		if err := rec.SendPCM16KLE(frame); err != nil {
			log.Printf("audio forward failed: %v", err)
			return
		}
	}
}

// consumeEvents applies recognizer output to the answer buffer. Events from
// a superseded session are discarded.
func (e *Engine) consumeEvents(gen int, rec Recognizer) {
	for ev := range rec.Events() {
		if !e.current(gen) {
			return
		}
		if ev.Err != nil {
			e.failSession(gen, ev.Err)
			return
		}

		e.mu.Lock()
		if ev.Final {
			e.buffer.AppendFinal(ev.Text)
		} else {
			e.buffer.SetPending(ev.Text)
		}
		text := e.buffer.Combined()
		e.mu.Unlock()

		// The silence window measures idle time after finalized speech;
		// partials do not start or extend it.
		if ev.Final {
			e.silence.Arm(e.window)
		}
		if e.cb.OnUpdate != nil {
			e.cb.OnUpdate(text)
		}
	}
}

// failSession tears down a live session after a recognition failure. The
// buffer is kept so the visitor's words so far are not lost.
func (e *Engine) failSession(gen int, err error) {
	e.mu.Lock()
	if e.gen != gen || e.state != StateListening {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	e.gen++
	stream := e.stream
	rec := e.rec
	e.stream = nil
	e.rec = nil
	e.mu.Unlock()

	e.silence.Disarm()
	if rec != nil {
		_ = rec.Close()
	}
	if stream != nil {
		e.device.Release(stream)
	}

	e.mu.Lock()
	if e.state == StateStopping {
		e.state = StateIdle
	}
	e.mu.Unlock()

	log.Printf("voice capture failed: %v", err)
	if e.cb.OnFailure != nil {
		e.cb.OnFailure(err)
	}
}

// MarkUnavailable forces the terminal state, e.g. when the kiosk reports a
// browser permission refusal before any capture was attempted. The one-shot
// notification guarantee still holds.
func (e *Engine) MarkUnavailable() {
	e.Stop()
	e.markUnavailable()
}

// markUnavailable moves the engine to its terminal state and notifies the
// session exactly once.
func (e *Engine) markUnavailable() {
	e.mu.Lock()
	already := e.degraded
	e.degraded = true
	e.state = StateUnsupported
	e.mu.Unlock()
	if already {
		return
	}
	log.Println("voice capture unavailable, continuing text-only")
	if e.cb.OnUnavailable != nil {
		e.cb.OnUnavailable()
	}
}

func (e *Engine) current(gen int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

func (e *Engine) onSilenceExpired() {
	if e.State() != StateListening {
		return
	}
	if e.cb.OnSilence != nil {
		e.cb.OnSilence()
	}
}
