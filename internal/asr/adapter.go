// Package asr implements the AsrAdapter contract (component C2): it owns
// the streaming ASR connection, converts audio frames into interim/final
// TranscriptSegments, and manages the connection state machine with
// reconnection on transport failure.
package asr

import (
	"strings"
	"sync"
	"time"
)

// State is the AsrAdapter connection state machine (§4.1).
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDraining     State = "draining"
)

// Segment mirrors TranscriptSegment (§3): id, text, final flag, timing,
// confidence, and detected language.
type Segment struct {
	ID         string
	Text       string
	IsFinal    bool
	Confidence float64
	StartTS    int64
	EndTS      int64
	Language   string
}

// ErrorKind classifies an ASR failure per §7.
type ErrorKind string

const (
	ErrorTransport   ErrorKind = "transport"
	ErrorAuthInvalid ErrorKind = "auth"
)

// ConnError is a connection-level failure surfaced on the status channel.
type ConnError struct {
	Kind ErrorKind
	Err  error
}

// Adapter is the AsrAdapter contract (§4.1).
type Adapter interface {
	// Connect opens the vendor stream for sourceLang, with targetLangHint
	// passed through opaquely where the vendor supports it.
	Connect(sourceLang, targetLangHint string) error
	// SendAudio enqueues one PCM16LE frame. Safe for concurrent use
	// alongside the background receive loop. Must not block; frames are
	// dropped oldest-first under backpressure (§5).
	SendAudio(frame []byte)
	// Finalize flushes any pending interim into a final, even if the
	// vendor has not emitted one, after utterance_end_ms of silence.
	Finalize()
	// Close tears down the connection.
	Close() error

	// Segments delivers interim and final TranscriptSegments in emission
	// order.
	Segments() <-chan Segment
	// StateChanges delivers state transitions.
	StateChanges() <-chan State
	// Errors delivers connection-level failures (auth is fatal; transport
	// is retried internally and not necessarily surfaced here).
	Errors() <-chan ConnError

	// State reports the current connection state.
	State() State
	// DroppedFrames reports the cumulative count of audio frames dropped
	// due to a full send buffer (§5).
	DroppedFrames() int
}

// stableSegmentIDTracker implements the "stable prefix" id synthesis rule
// (§4.1): an incoming interim sharing the current in-flight interim's
// leading 3 words updates that segment id; otherwise a new id is minted.
type stableSegmentIDTracker struct {
	mu          sync.Mutex
	currentID   string
	currentText string
	next        func() string
}

func newStableSegmentIDTracker(next func() string) *stableSegmentIDTracker {
	return &stableSegmentIDTracker{next: next}
}

// IDFor returns the segment id to use for an interim/final with text. If
// final is true, the id is retired after return (a subsequent interim
// must mint a fresh id even if the text happens to share a prefix).
func (t *stableSegmentIDTracker) IDFor(text string, final bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentID != "" && sharesLeadingWords(t.currentText, text, 3) {
		id := t.currentID
		t.currentText = text
		if final {
			t.currentID = ""
			t.currentText = ""
		}
		return id
	}

	id := t.next()
	if final {
		// Retired immediately: a final never leaves an in-flight id.
		return id
	}
	t.currentID = id
	t.currentText = text
	return id
}

func sharesLeadingWords(a, b string, n int) bool {
	aw := leadingWords(a, n)
	bw := leadingWords(b, n)
	return aw != "" && aw == bw
}

func leadingWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// FrameGate buffers outbound audio frames between SendAudio and the
// vendor send loop, dropping the oldest frame on overflow (§5) and
// discarding frames entirely while paused — adapted from the discard-
// while-paused idiom, but push-based: SendAudio is the producer instead
// of a pulled io.Reader.
type FrameGate struct {
	mu      sync.Mutex
	paused  bool
	buf     [][]byte
	maxLen  int
	dropped int
	notify  chan struct{}
}

// NewFrameGate creates a gate with a bounded buffer of maxLen frames.
func NewFrameGate(maxLen int) *FrameGate {
	if maxLen <= 0 {
		maxLen = 50 // ~1s at 20ms frames
	}
	return &FrameGate{maxLen: maxLen, notify: make(chan struct{}, 1)}
}

// SetPaused gates frame acceptance; while paused, Push discards frames
// without buffering them (§4.9: audio is not fed while paused).
func (g *FrameGate) SetPaused(paused bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = paused
}

// Push enqueues a frame, dropping the oldest buffered frame if full.
func (g *FrameGate) Push(frame []byte) {
	g.mu.Lock()
	if g.paused {
		g.mu.Unlock()
		return
	}
	if len(g.buf) >= g.maxLen {
		g.buf = g.buf[1:]
		g.dropped++
	}
	g.buf = append(g.buf, frame)
	g.mu.Unlock()

	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest buffered frame, blocking (via the
// returned ok=false + caller poll) when empty. Callers typically loop:
// for { f, ok := g.Pop(); if !ok { wait on Wait channel }; ... }.
func (g *FrameGate) Pop() ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.buf) == 0 {
		return nil, false
	}
	f := g.buf[0]
	g.buf = g.buf[1:]
	return f, true
}

// Wait returns a channel that receives when a frame becomes available.
func (g *FrameGate) Wait() <-chan struct{} {
	return g.notify
}

// Dropped reports the cumulative dropped-frame count.
func (g *FrameGate) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}

// utteranceEndTimer fires fn after d of inactivity since the last Reset.
type utteranceEndTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	d     time.Duration
	fn    func()
}

func newUtteranceEndTimer(d time.Duration, fn func()) *utteranceEndTimer {
	return &utteranceEndTimer{d: d, fn: fn}
}

func (u *utteranceEndTimer) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.timer == nil {
		u.timer = time.AfterFunc(u.d, u.fn)
		return
	}
	u.timer.Reset(u.d)
}

func (u *utteranceEndTimer) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.timer != nil {
		u.timer.Stop()
	}
}
