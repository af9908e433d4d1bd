package httpserver

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/capture"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/config"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/dialogue"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/interview"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/record"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/speech"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/transcript"
)

// wsEvent is one outbound JSON message on the session socket. Audio is sent
// separately as binary Opus frames.
type wsEvent struct {
	Type       string               `json:"type"`
	Turn       int                  `json:"turn,omitempty"`
	Text       string               `json:"text,omitempty"`
	Source     string               `json:"source,omitempty"`
	State      string               `json:"state,omitempty"`
	Available  *bool                `json:"available,omitempty"`
	Progress   *dialogue.Progress   `json:"progress,omitempty"`
	Assessment *dialogue.Assessment `json:"assessment,omitempty"`
	Kind       string               `json:"kind,omitempty"`
	Message    string               `json:"message,omitempty"`
	Retryable  bool                 `json:"retryable,omitempty"`
}

// Session bundles one visitor's machine, capture engine, and playback with
// the WebSocket they stream over. One socket is live at a time; a
// reconnecting kiosk replaces the previous one.
type Session struct {
	ID      string
	machine *interview.Machine
	engine  *capture.Engine
	device  *capture.PushDevice
	seq     *speech.Sequencer

	events chan wsEvent
	frames chan []byte
	done   chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	lastSeen  time.Time
	closeOnce sync.Once

	closePlayer func()
}

// noopPlayer keeps the sequencer functional when the Opus encoder cannot be
// created; questions stay on screen only.
type noopPlayer struct{}

func (noopPlayer) WritePCM([]byte) {}
func (noopPlayer) FlushTail()      {}
func (noopPlayer) Reset()          {}

// newSession wires up all per-visitor components.
func newSession(id string, cfg config.Config, svc dialogue.Service, synth speech.Synthesizer, store interview.Persister, patient dialogue.Patient, variant dialogue.Variant) *Session {
	s := &Session{
		ID:       id,
		device:   capture.NewPushDevice(),
		events:   make(chan wsEvent, 256),
		frames:   make(chan []byte, 256),
		done:     make(chan struct{}),
		lastSeen: time.Now(),
	}

	var player speech.Player
	if p, err := speech.NewOpusPacedPlayer(s); err != nil {
		log.Printf("[%s] opus player unavailable: %v", id, err)
		player = noopPlayer{}
		s.closePlayer = func() {}
	} else {
		player = p
		s.closePlayer = p.Close
	}
	s.seq = speech.NewSequencer(synth, player, func(err error) {
		s.machine.NotifySynthesisFailure(err.Error())
	})

	var newRecognizer func() capture.Recognizer
	if cfg.AssemblyAIKey != "" {
		key := cfg.AssemblyAIKey
		newRecognizer = func() capture.Recognizer {
			return transcript.NewAssemblyAIService(key)
		}
	}
	s.engine = capture.NewEngine(s.device, newRecognizer, cfg.SilenceWindow, capture.Callbacks{
		OnUpdate: func(text string) {
			s.send(wsEvent{Type: "transcript", Text: text})
		},
		OnSilence:     func() { s.machine.AutoSubmitSilence() },
		OnFailure:     func(err error) { s.machine.NotifyRecognitionFailure(err.Error()) },
		OnUnavailable: func() { s.machine.NotifyVoiceUnavailable() },
	})

	s.machine = interview.NewMachine(interview.Config{
		SessionID:    id,
		Patient:      patient,
		Variant:      variant,
		MaxQuestions: cfg.MaxQuestions,
		MaxUnknowns:  cfg.MaxUnknowns,
		Grace:        cfg.GraceWindow,
		ModelTag:     cfg.GeminiModel,
	}, svc, s.engine, speakerAdapter{s.seq}, store, interview.Events{
		OnStateChanged: func(st interview.State) {
			s.send(wsEvent{Type: "state", State: string(st)})
		},
		OnQuestionDisplayed: func(turn int, text string) {
			s.send(wsEvent{Type: "question", Turn: turn, Text: text})
		},
		OnAnswerCommitted: func(turn int, text string, source interview.Source) {
			s.send(wsEvent{Type: "committed", Turn: turn, Text: text, Source: string(source)})
		},
		OnProgressChanged: func(p dialogue.Progress) {
			s.send(wsEvent{Type: "progress", Progress: &p})
		},
		OnVoiceAvailabilityChanged: func(ok bool) {
			s.send(wsEvent{Type: "voice", Available: &ok})
		},
		OnAssessmentReady: func(a dialogue.Assessment, _ record.Record) {
			s.send(wsEvent{Type: "assessment", Assessment: &a})
		},
		OnError: func(kind interview.ErrorKind, msg string, retryable bool) {
			s.send(wsEvent{Type: "error", Kind: string(kind), Message: msg, Retryable: retryable})
		},
	})

	go s.pump()
	return s
}

// speakerAdapter narrows the sequencer to the machine's Speaker boundary.
type speakerAdapter struct{ seq *speech.Sequencer }

func (a speakerAdapter) Speak(turn int, text, language string) { a.seq.Speak(turn, text, language) }
func (a speakerAdapter) Stop()                                 { a.seq.Stop() }
func (a speakerAdapter) Reset()                                { a.seq.Reset() }
func (a speakerAdapter) SetEnabled(on bool)                    { a.seq.SetEnabled(on) }
func (a speakerAdapter) Enabled() bool                         { return a.seq.Enabled() }

// WriteFrame implements speech.FrameSink: paced Opus frames go out as binary
// WebSocket messages. Without a live socket frames are dropped.
func (s *Session) WriteFrame(frame []byte) error {
	select {
	case s.frames <- frame:
	default:
	}
	return nil
}

// send queues a JSON event, dropping the oldest on backpressure so the
// machine's dispatch goroutine never blocks on a slow kiosk.
func (s *Session) send(ev wsEvent) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- ev:
	default:
	}
}

// pump is the single socket writer: it serializes JSON events and binary
// audio frames onto whichever connection is currently attached.
func (s *Session) pump() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			if conn := s.current(); conn != nil {
				if err := conn.WriteJSON(ev); err != nil {
					log.Printf("[%s] ws write failed: %v", s.ID, err)
				}
			}
		case frame := <-s.frames:
			if conn := s.current(); conn != nil {
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					log.Printf("[%s] ws frame write failed: %v", s.ID, err)
				}
			}
		}
	}
}

func (s *Session) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// attach makes conn the session's socket, closing any previous one.
func (s *Session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.lastSeen = time.Now()
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// detach clears the socket if conn is still the attached one.
func (s *Session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close tears the session down.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.machine.Close()
		s.engine.Stop()
		s.seq.Stop()
		s.closePlayer()
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}
