package capture

import (
	"sync"
	"time"
)

// SilenceTimer is a restartable countdown that fires a single callback if it
// is not re-armed within the window. Arming while armed resets the deadline;
// Disarm guarantees the callback will not fire for the current arm.
type SilenceTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	armed bool
	fire  func()
}

// NewSilenceTimer constructs a disarmed timer with the given fire callback.
func NewSilenceTimer(fire func()) *SilenceTimer {
	return &SilenceTimer{fire: fire}
}

// Arm starts (or restarts) the countdown.
func (t *SilenceTimer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = true
	if t.timer == nil {
		t.timer = time.AfterFunc(d, t.onExpire)
		return
	}
	t.timer.Stop()
	t.timer.Reset(d)
}

// Disarm cancels the pending countdown, if any.
func (t *SilenceTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Armed reports whether a countdown is pending.
func (t *SilenceTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// onExpire runs on the timer goroutine. The armed flag guards the race
// between an in-flight expiry and a concurrent Disarm.
func (t *SilenceTimer) onExpire() {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	fire := t.fire
	t.mu.Unlock()
	if fire != nil {
		fire()
	}
}
