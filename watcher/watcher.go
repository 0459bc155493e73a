// Package watcher coalesces bursts of document mutations into rate-limited
// rescans.
package watcher

import (
	"sync"
	"time"
)

// DefaultWindow is the debounce window between a mutation and its rescan.
const DefaultWindow = 250 * time.Millisecond

// State is the watcher's position in Idle -> Scheduled -> Scanning -> Idle.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateScanning:
		return "scanning"
	default:
		return "unknown"
	}
}

// Config holds watcher settings.
type Config struct {
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// DefaultConfig returns a 250ms window.
func DefaultConfig() Config {
	return Config{Debounce: DefaultWindow}
}

// Watcher runs scan at most once per window no matter how many mutations are
// reported. A mutation while Scheduled joins the pending scan; a mutation
// while Scanning queues exactly one trailing scan.
type Watcher struct {
	window time.Duration
	scan   func()

	mu       sync.Mutex
	state    State
	trailing bool
	stopped  bool
	timer    *time.Timer
	scans    int
}

// New creates a watcher. A non-positive window falls back to DefaultWindow.
func New(config Config, scan func()) *Watcher {
	window := config.Debounce
	if window <= 0 {
		window = DefaultWindow
	}
	return &Watcher{window: window, scan: scan}
}

// Notify reports a mutation. It never blocks on the scan.
func (w *Watcher) Notify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	switch w.state {
	case StateIdle:
		w.schedule()
	case StateScanning:
		w.trailing = true
	}
}

// State returns the current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Scans returns how many scans have run.
func (w *Watcher) Scans() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scans
}

// Stop cancels any scheduled scan. A scan already running finishes, but no
// trailing scan follows it.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	w.trailing = false
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.state == StateScheduled {
		w.state = StateIdle
	}
}

// schedule arms the timer. Callers hold w.mu.
func (w *Watcher) schedule() {
	w.state = StateScheduled
	w.timer = time.AfterFunc(w.window, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.stopped || w.state != StateScheduled {
		w.mu.Unlock()
		return
	}
	w.state = StateScanning
	w.mu.Unlock()

	w.scan()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.scans++
	if w.trailing && !w.stopped {
		w.trailing = false
		w.schedule()
		return
	}
	w.state = StateIdle
}
