package speech

import (
	"context"
	"log"
	"sync"
)

// Synthesizer turns question text into a stream of 48kHz PCM chunks. The
// error channel carries at most one failure and both channels are closed
// when synthesis ends.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (<-chan []byte, <-chan error)
}

// Player is the paced audio output a sequencer drives.
type Player interface {
	WritePCM(pcm []byte)
	FlushTail()
	Reset()
}

// Handle identifies one playback request. Done is closed when playback for
// the request finishes, is superseded, or is discarded.
type Handle struct {
	Turn int
	done chan struct{}
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Sequencer serializes question audio: at most one playback is live, and
// only the most recent turn may produce sound. Synthesis for an older turn
// that finishes late is discarded on arrival, never played.
type Sequencer struct {
	synth  Synthesizer
	player Player
	onErr  func(err error)

	mu         sync.Mutex
	latestTurn int
	enabled    bool
	cancel     context.CancelFunc
}

// NewSequencer constructs an enabled sequencer. onErr reports synthesis
// failures for the current turn and may be nil.
func NewSequencer(synth Synthesizer, player Player, onErr func(error)) *Sequencer {
	return &Sequencer{synth: synth, player: player, onErr: onErr, latestTurn: -1, enabled: true}
}

// Enabled reports whether speech output is on.
func (s *Sequencer) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled toggles speech output. Disabling stops the active playback
// immediately; re-enabling affects only future turns.
func (s *Sequencer) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if !on {
		if cancel != nil {
			cancel()
		}
		s.player.Reset()
	}
}

// Stop halts the active playback, if any. The turn watermark is unchanged,
// so a late synthesis result for that turn still cannot start.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.player.Reset()
}

// Reset returns the sequencer to its initial watermark for a fresh
// interview. Any active playback is stopped.
func (s *Sequencer) Reset() {
	s.Stop()
	s.mu.Lock()
	s.latestTurn = -1
	s.mu.Unlock()
}

// Speak requests playback of the question for the given turn. A request
// older than the newest one seen is discarded. The returned handle is nil
// only for discarded requests.
func (s *Sequencer) Speak(turn int, text, language string) *Handle {
	s.mu.Lock()
	if turn < s.latestTurn {
		s.mu.Unlock()
		log.Printf("discarding stale playback request for turn %d", turn)
		return nil
	}
	s.latestTurn = turn
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	enabled := s.enabled && s.synth != nil
	var ctx context.Context
	var cancel context.CancelFunc
	if enabled {
		ctx, cancel = context.WithCancel(context.Background())
		s.cancel = cancel
	}
	s.mu.Unlock()

	s.player.Reset()

	h := &Handle{Turn: turn, done: make(chan struct{})}
	if !enabled {
		close(h.done)
		return h
	}
	go s.run(ctx, cancel, turn, text, language, h)
	return h
}

func (s *Sequencer) run(ctx context.Context, cancel context.CancelFunc, turn int, text, language string, h *Handle) {
	defer close(h.done)
	defer cancel()

	pcmCh, errCh := s.synth.Synthesize(ctx, text, language)
	played := false
	for chunk := range pcmCh {
		if !s.mayPlay(turn) {
			return
		}
		s.player.WritePCM(chunk)
		played = true
	}
	if played && s.mayPlay(turn) {
		s.player.FlushTail()
	}
	if err := <-errCh; err != nil {
		log.Printf("speech synthesis failed for turn %d: %v", turn, err)
		if s.onErr != nil && s.mayPlay(turn) {
			s.onErr(err)
		}
	}
}

// mayPlay reports whether audio for the given turn is still allowed out.
func (s *Sequencer) mayPlay(turn int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled && turn == s.latestTurn
}
