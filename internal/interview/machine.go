package interview

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ash-1hat/Pre-Screening-Tool/internal/dialogue"
	"github.com/ash-1hat/Pre-Screening-Tool/internal/record"
)

// stage names what a retryable error interrupted.
type stage int

const (
	stageNone stage = iota
	stageStart
	stageAssess
)

const dialogueCallTimeout = 30 * time.Second

// Config carries per-session settings for a machine.
type Config struct {
	SessionID    string
	Patient      dialogue.Patient
	Variant      dialogue.Variant
	MaxQuestions int
	MaxUnknowns  int
	Grace        time.Duration
	ModelTag     string
	VisitType    string
}

// Machine runs one interview session. All state lives on a single dispatch
// goroutine fed by a command channel; public methods post commands, network
// calls run in their own goroutines and post completions back tagged with
// the epoch and turn they belong to. Completions for a superseded epoch or
// turn are discarded on arrival.
type Machine struct {
	cfg     Config
	svc     dialogue.Service
	voice   Voice
	speaker Speaker
	store   Persister
	events  Events

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once

	// owned by the dispatch goroutine
	state        State
	epoch        int
	turn         int
	question     string
	history      []dialogue.QA
	unknownCount int
	arbiter      *Arbiter
	assessment   dialogue.Assessment
	rec          record.Record
	failedStage  stage
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	SessionID      string              `json:"session_id"`
	State          State               `json:"state"`
	Turn           int                 `json:"turn"`
	Question       string              `json:"question"`
	Progress       dialogue.Progress   `json:"progress"`
	History        []dialogue.QA       `json:"history"`
	Assessment     dialogue.Assessment `json:"assessment"`
	VoiceAvailable bool                `json:"voice_available"`
	SpeechEnabled  bool                `json:"speech_enabled"`
}

// NewMachine constructs an idle machine and starts its dispatch goroutine.
func NewMachine(cfg Config, svc dialogue.Service, voice Voice, speaker Speaker, store Persister, events Events) *Machine {
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 6
	}
	if cfg.MaxUnknowns <= 0 {
		cfg.MaxUnknowns = 2
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Second
	}
	if cfg.VisitType == "" {
		if cfg.Variant == dialogue.VariantFollowup {
			cfg.VisitType = "follow-up"
		} else {
			cfg.VisitType = "ai-help"
		}
	}
	m := &Machine{
		cfg:     cfg,
		svc:     svc,
		voice:   voice,
		speaker: speaker,
		store:   store,
		events:  events,
		cmds:    make(chan func(), 64),
		done:    make(chan struct{}),
		state:   StateIdle,
		arbiter: NewArbiter(cfg.Grace),
	}
	go m.loop()
	return m
}

// Close stops the dispatch goroutine. The machine must not be used after.
func (m *Machine) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Machine) loop() {
	for {
		select {
		case fn := <-m.cmds:
			fn()
		case <-m.done:
			return
		}
	}
}

func (m *Machine) post(fn func()) {
	select {
	case m.cmds <- fn:
	case <-m.done:
	}
}

// Start begins the interview. Valid only from idle (or retrying a failed
// start from the error state).
func (m *Machine) Start() {
	m.post(func() {
		if m.state != StateIdle && !(m.state == StateError && m.failedStage == stageStart) {
			m.emitError(ErrInvalidTransition, "interview already started", false)
			return
		}
		m.beginStart()
	})
}

func (m *Machine) beginStart() {
	m.setState(StateStarting)
	epoch := m.epoch
	snap := m.snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialogueCallTimeout)
		defer cancel()
		res, err := m.svc.StartInterview(ctx, snap)
		m.post(func() { m.onStartResult(epoch, res, err) })
	}()
}

func (m *Machine) onStartResult(epoch int, res dialogue.Result, err error) {
	if epoch != m.epoch || m.state != StateStarting {
		log.Printf("[%s] discarding stale start result", m.cfg.SessionID)
		return
	}
	if err != nil {
		m.failedStage = stageStart
		m.setState(StateError)
		m.emitError(ErrNetworkFailure, "could not reach the interview service", true)
		return
	}
	if res.Complete {
		m.beginAssessment()
		return
	}
	m.presentQuestion(res.Question)
}

// SubmitTyped commits a typed answer for the current turn.
func (m *Machine) SubmitTyped(text string) {
	m.post(func() { m.trySubmit(text, SourceTyped, false) })
}

// SubmitVoice commits whatever the capture buffer holds. The buffer is
// snapshotted at claim time, so a transcript fragment finalized after the
// claim belongs to the next turn.
func (m *Machine) SubmitVoice() {
	m.post(func() { m.trySubmit(m.voice.Combined(), SourceVoice, true) })
}

// AutoSubmitSilence is the silence timer's advisory trigger. It takes the
// same arbitration path as every other trigger; an empty buffer leaves the
// turn open.
func (m *Machine) AutoSubmitSilence() {
	m.post(func() {
		text := m.voice.Combined()
		if strings.TrimSpace(text) == "" {
			log.Printf("[%s] silence with empty buffer, still waiting", m.cfg.SessionID)
			return
		}
		m.trySubmit(text, SourceSilence, true)
	})
}

// ForceUnknown commits a literal unknown answer (kiosk skip button).
func (m *Machine) ForceUnknown() {
	m.post(func() { m.trySubmit("I don't know", SourceForcedUnknown, false) })
}

func (m *Machine) trySubmit(text string, source Source, fromVoice bool) {
	if m.state != StateAwaitingAnswer {
		if source == SourceSilence {
			log.Printf("[%s] silence trigger ignored in state %s", m.cfg.SessionID, m.state)
			return
		}
		m.emitError(ErrInvalidTransition, "no question is awaiting an answer", false)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Printf("[%s] empty answer rejected, turn stays open", m.cfg.SessionID)
		return
	}

	m.voice.CancelSilence()
	if !m.arbiter.Claim(m.arbiter.Current()) {
		log.Printf("[%s] duplicate submission for turn %d rejected", m.cfg.SessionID, m.turn)
		return
	}

	m.setState(StateSubmitting)
	if fromVoice {
		m.voice.Stop()
	}

	// Thresholds that end the interview are decided locally; the commit
	// cannot fail on the network, so it happens right away.
	unknowns := m.unknownCount
	if isUnknownAnswer(text) {
		unknowns++
	}
	if unknowns >= m.cfg.MaxUnknowns || len(m.history)+1 >= m.cfg.MaxQuestions {
		m.commitAnswer(text, source)
		m.arbiter.CompleteRoundTrip()
		m.beginAssessment()
		return
	}

	epoch, turn := m.epoch, m.turn
	snap := m.snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialogueCallTimeout)
		defer cancel()
		res, err := m.svc.SubmitAnswer(ctx, snap, text)
		m.post(func() { m.onSubmitResult(epoch, turn, text, source, res, err) })
	}()
}

func (m *Machine) onSubmitResult(epoch, turn int, text string, source Source, res dialogue.Result, err error) {
	if epoch != m.epoch || turn != m.turn || m.state != StateSubmitting {
		log.Printf("[%s] discarding stale submission result for turn %d", m.cfg.SessionID, turn)
		return
	}
	m.arbiter.CompleteRoundTrip()
	if err != nil {
		// The token is burned; the same turn re-opens under a fresh token
		// after the grace window and the visitor answers again.
		m.setState(StateError)
		m.emitError(ErrNetworkFailure, "could not submit the answer", true)
		ep := m.epoch
		time.AfterFunc(m.cfg.Grace, func() {
			m.post(func() { m.reopenTurn(ep, turn) })
		})
		return
	}

	m.commitAnswer(text, source)
	if res.Complete {
		m.beginAssessment()
		return
	}
	m.turn++
	m.presentQuestion(res.Question)
}

// commitAnswer is the exactly-once acceptance of an answer for the current
// turn.
func (m *Machine) commitAnswer(text string, source Source) {
	m.history = append(m.history, dialogue.QA{Question: m.question, Answer: text})
	if isUnknownAnswer(text) {
		m.unknownCount++
	}
	m.voice.ResetBuffer()
	log.Printf("[%s] answer committed for turn %d via %s", m.cfg.SessionID, m.turn, source)
	if m.events.OnAnswerCommitted != nil {
		m.events.OnAnswerCommitted(m.turn, text, source)
	}
	m.emitProgress()
}

func (m *Machine) reopenTurn(epoch, turn int) {
	if epoch != m.epoch || turn != m.turn || m.state != StateError {
		return
	}
	m.arbiter.Open(m.turn)
	m.setState(StateAwaitingAnswer)
	log.Printf("[%s] turn %d re-opened after failed submission", m.cfg.SessionID, m.turn)
}

func (m *Machine) presentQuestion(text string) {
	m.question = text
	m.voice.ResetBuffer()
	m.arbiter.Open(m.turn)
	m.setState(StateAwaitingAnswer)
	if m.events.OnQuestionDisplayed != nil {
		m.events.OnQuestionDisplayed(m.turn, text)
	}
	m.emitProgress()
	if m.speaker != nil {
		m.speaker.Speak(m.turn, text, m.cfg.Patient.Language)
	}
}

func (m *Machine) beginAssessment() {
	m.arbiter.Invalidate()
	if m.speaker != nil {
		m.speaker.Stop()
	}
	m.setState(StateAssessing)
	epoch := m.epoch
	snap := m.snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialogueCallTimeout)
		defer cancel()
		a, err := m.svc.GenerateAssessment(ctx, snap)
		m.post(func() { m.onAssessment(epoch, a, err) })
	}()
}

func (m *Machine) onAssessment(epoch int, a dialogue.Assessment, err error) {
	if epoch != m.epoch || m.state != StateAssessing {
		log.Printf("[%s] discarding stale assessment", m.cfg.SessionID)
		return
	}
	if err != nil {
		m.failedStage = stageAssess
		m.setState(StateError)
		m.emitError(ErrNetworkFailure, "could not generate the assessment", true)
		return
	}
	m.assessment = a
	m.rec = record.Build(m.cfg.SessionID, m.cfg.Patient, m.history, a, m.cfg.VisitType, m.cfg.ModelTag)
	m.setState(StateComplete)
	if m.events.OnAssessmentReady != nil {
		m.events.OnAssessmentReady(a, m.rec)
	}
	if m.store != nil {
		rec := m.rec
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), dialogueCallTimeout)
			defer cancel()
			if err := m.store.Save(ctx, rec); err != nil {
				log.Printf("[%s] record upload failed: %v", m.cfg.SessionID, err)
			}
		}()
	}
}

// Retry re-runs the stage a retryable error interrupted. Failed answer
// submissions re-open on their own; Retry covers start and assessment.
func (m *Machine) Retry() {
	m.post(func() {
		if m.state != StateError {
			m.emitError(ErrInvalidTransition, "nothing to retry", false)
			return
		}
		switch m.failedStage {
		case stageStart:
			m.beginStart()
		case stageAssess:
			m.beginAssessment()
		}
	})
}

// Restart abandons the session and returns to idle. It is idempotent and
// valid from any state; in-flight completions from before the restart are
// discarded by epoch comparison when they arrive.
func (m *Machine) Restart() {
	m.post(func() {
		m.epoch++
		m.arbiter.Invalidate()
		if m.speaker != nil {
			m.speaker.Reset()
		}
		m.voice.Stop()
		m.voice.ResetBuffer()
		m.history = nil
		m.unknownCount = 0
		m.turn = 0
		m.question = ""
		m.assessment = dialogue.Assessment{}
		m.rec = record.Record{}
		m.failedStage = stageNone
		m.setState(StateIdle)
		log.Printf("[%s] session restarted", m.cfg.SessionID)
	})
}

// NotifyVoiceUnavailable records permanent voice degradation. The capture
// engine guarantees it fires at most once.
func (m *Machine) NotifyVoiceUnavailable() {
	m.post(func() {
		if m.events.OnVoiceAvailabilityChanged != nil {
			m.events.OnVoiceAvailabilityChanged(false)
		}
		m.emitError(ErrPermissionDenied, "microphone unavailable, continuing with typed answers", false)
	})
}

// NotifyRecognitionFailure surfaces a transient capture failure as a notice.
func (m *Machine) NotifyRecognitionFailure(msg string) {
	m.post(func() { m.emitError(ErrRecognitionFailure, msg, true) })
}

// NotifySynthesisFailure surfaces a speech output failure; the interview
// continues with on-screen questions.
func (m *Machine) NotifySynthesisFailure(msg string) {
	m.post(func() { m.emitError(ErrSynthesisUnavailable, msg, false) })
}

// SetSpeechEnabled toggles spoken questions.
func (m *Machine) SetSpeechEnabled(on bool) {
	if m.speaker != nil {
		m.speaker.SetEnabled(on)
	}
}

// Status returns a snapshot of the session.
func (m *Machine) Status() Status {
	reply := make(chan Status, 1)
	m.post(func() {
		st := Status{
			SessionID:      m.cfg.SessionID,
			State:          m.state,
			Turn:           m.turn,
			Question:       m.question,
			Progress:       m.progress(),
			History:        append([]dialogue.QA(nil), m.history...),
			Assessment:     m.assessment,
			VoiceAvailable: m.voice.Supported(),
		}
		if m.speaker != nil {
			st.SpeechEnabled = m.speaker.Enabled()
		}
		reply <- st
	})
	select {
	case st := <-reply:
		return st
	case <-m.done:
		select {
		case st := <-reply:
			return st
		default:
			return Status{SessionID: m.cfg.SessionID}
		}
	}
}

// Record returns the built record; meaningful only once complete.
func (m *Machine) Record() record.Record {
	reply := make(chan record.Record, 1)
	m.post(func() { reply <- m.rec })
	select {
	case r := <-reply:
		return r
	case <-m.done:
		return record.Record{}
	}
}

func (m *Machine) snapshot() dialogue.Snapshot {
	return dialogue.Snapshot{
		Patient:        m.cfg.Patient,
		Variant:        m.cfg.Variant,
		History:        append([]dialogue.QA(nil), m.history...),
		QuestionNumber: len(m.history) + 1,
		UnknownCount:   m.unknownCount,
		MaxQuestions:   m.cfg.MaxQuestions,
		MaxUnknowns:    m.cfg.MaxUnknowns,
	}
}

func (m *Machine) progress() dialogue.Progress {
	current := len(m.history)
	if m.state == StateAwaitingAnswer || m.state == StateSubmitting {
		current = m.turn + 1
	}
	return dialogue.ComputeProgress(current, m.cfg.MaxQuestions, m.unknownCount, m.cfg.MaxUnknowns)
}

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if s != StateError {
		m.failedStage = stageNone
	}
	if m.events.OnStateChanged != nil {
		m.events.OnStateChanged(s)
	}
}

func (m *Machine) emitProgress() {
	if m.events.OnProgressChanged != nil {
		m.events.OnProgressChanged(m.progress())
	}
}

func (m *Machine) emitError(kind ErrorKind, msg string, retryable bool) {
	log.Printf("[%s] %s: %s (retryable=%v)", m.cfg.SessionID, kind, msg, retryable)
	if m.events.OnError != nil {
		m.events.OnError(kind, msg, retryable)
	}
}

// isUnknownAnswer applies the non-answer policy.
func isUnknownAnswer(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "don't know") || strings.Contains(lower, "not sure")
}
