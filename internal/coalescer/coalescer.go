// Package coalescer implements the StreamCoalescer (component C7): it
// debounces and force-commits rapidly-mutating interim values per logical
// stream key, so downstream consumers see a bounded update rate without
// missing the final value.
package coalescer

import (
	"sync"
	"time"

	"github.com/lectervox/lecturepipe/internal/clock"
)

// DefaultDebounce and DefaultMaxHold are the §4.6 defaults.
const (
	DefaultDebounce = 120 * time.Millisecond
	DefaultMaxHold  = 400 * time.Millisecond
)

// EmitFunc delivers a coalesced value for a stream key.
type EmitFunc func(key string, value string)

type streamState struct {
	latest        string
	lastEmitted   string
	lastEmitTS    int64
	firstChangeTS int64
	hasPending    bool
	timer         *time.Timer
}

// Coalescer debounces per-key interim updates and force-commits on a hold
// timeout, guaranteeing the last value before a Final call is always
// observed. Safe for concurrent use.
type Coalescer struct {
	debounce time.Duration
	maxHold  time.Duration
	clk      clock.Clock
	emit     EmitFunc

	mu      sync.Mutex
	streams map[string]*streamState

	suppressedCount map[string]int
}

// New creates a Coalescer. debounce/maxHold <= 0 use spec defaults.
func New(debounce, maxHold time.Duration, clk clock.Clock, emit EmitFunc) *Coalescer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxHold <= 0 {
		maxHold = DefaultMaxHold
	}
	return &Coalescer{
		debounce:        debounce,
		maxHold:         maxHold,
		clk:             clk,
		emit:            emit,
		streams:         make(map[string]*streamState),
		suppressedCount: make(map[string]int),
	}
}

// Update records a new interim value for key and emits it immediately if
// the debounce window has already elapsed; otherwise it schedules a
// force-commit timer and suppresses the update until one of the two
// conditions fires.
func (c *Coalescer) Update(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.streamLocked(key)
	if value == st.lastEmitted {
		return
	}
	now := c.clk.NowMillis()

	if !st.hasPending {
		st.firstChangeTS = now
		st.hasPending = true
	}
	st.latest = value

	if now-st.lastEmitTS >= c.debounce.Milliseconds() {
		c.emitLocked(key, st, now)
		return
	}

	c.scheduleForceCommitLocked(key, st)
	c.suppressedCount[key]++
}

// Final emits value immediately and clears all coalescing state for key,
// per §4.6's guarantee that the last value before a final is observed.
func (c *Coalescer) Final(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.streamLocked(key)
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(c.streams, key)
	c.emit(key, value)
}

// streamLocked fetches or creates the state for key. Called with c.mu held.
func (c *Coalescer) streamLocked(key string) *streamState {
	st, ok := c.streams[key]
	if !ok {
		st = &streamState{}
		c.streams[key] = st
	}
	return st
}

// emitLocked delivers the latest value, resets the pending window, and
// cancels any scheduled force-commit. Called with c.mu held.
func (c *Coalescer) emitLocked(key string, st *streamState, now int64) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.lastEmitted = st.latest
	st.lastEmitTS = now
	st.hasPending = false
	c.emit(key, st.latest)
}

// scheduleForceCommitLocked arms a timer that fires the force-commit path
// once max_hold_ms has elapsed since the first suppressed change. Called
// with c.mu held.
func (c *Coalescer) scheduleForceCommitLocked(key string, st *streamState) {
	if st.timer != nil {
		return
	}
	st.timer = time.AfterFunc(c.maxHold, func() { c.forceCommit(key) })
}

func (c *Coalescer) forceCommit(key string) {
	c.mu.Lock()
	st, ok := c.streams[key]
	if !ok || !st.hasPending {
		c.mu.Unlock()
		return
	}
	now := c.clk.NowMillis()
	st.timer = nil
	c.emitLocked(key, st, now)
	c.mu.Unlock()
}

// SuppressedCount reports how many updates were suppressed (not yet
// delivered) for key, for metrics surfacing.
func (c *Coalescer) SuppressedCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressedCount[key]
}
