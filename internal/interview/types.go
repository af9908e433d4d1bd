package interview

import (
	"context"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/dialogue"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/record"
)

// State of an interview session.
type State string

const (
	StateIdle           State = "idle"
	StateStarting       State = "starting"
	StateAwaitingAnswer State = "awaiting_answer"
	StateSubmitting     State = "submitting"
	StateAssessing      State = "assessing"
	StateComplete       State = "complete"
	StateError          State = "error"
)

// Terminal reports whether no further turn progression is possible.
func (s State) Terminal() bool {
	return s == StateComplete
}

// Source records how an answer was produced.
type Source string

const (
	SourceTyped         Source = "typed"
	SourceVoice         Source = "voice"
	SourceSilence       Source = "silence-auto"
	SourceForcedUnknown Source = "forced-unknown"
)

// ErrorKind is the user-facing error taxonomy.
type ErrorKind string

const (
	ErrPermissionDenied     ErrorKind = "permission-denied"
	ErrRecognitionFailure   ErrorKind = "recognition-failure"
	ErrNetworkFailure       ErrorKind = "network-failure"
	ErrSynthesisUnavailable ErrorKind = "synthesis-unavailable"
	ErrInvalidTransition    ErrorKind = "invalid-transition"
)

// Voice is the capture-engine boundary the machine drives.
type Voice interface {
	Start(ctx context.Context) error
	Stop()
	Combined() string
	ResetBuffer()
	CancelSilence()
	Supported() bool
}

// Speaker is the playback boundary. Speak is tagged with the turn it belongs
// to so stale audio can never start.
type Speaker interface {
	Speak(turn int, text, language string)
	Stop()
	Reset()
	SetEnabled(on bool)
	Enabled() bool
}

// Persister stores the completed record. Failures must not fail the
// interview.
type Persister interface {
	Save(ctx context.Context, rec record.Record) error
}

// Events are the machine's outbound notifications. All fields are optional;
// callbacks run on the machine's dispatch goroutine and must not block.
type Events struct {
	OnStateChanged             func(s State)
	OnQuestionDisplayed        func(turn int, text string)
	OnAnswerCommitted          func(turn int, text string, source Source)
	OnProgressChanged          func(p dialogue.Progress)
	OnVoiceAvailabilityChanged func(available bool)
	OnAssessmentReady          func(a dialogue.Assessment, rec record.Record)
	OnError                    func(kind ErrorKind, message string, retryable bool)
}
