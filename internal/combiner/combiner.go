// Package combiner implements the SentenceCombiner (component C4): it
// groups consecutive final transcript segments into sentence-level units
// using a terminator/max-segments/timeout rule.
package combiner

import (
	"strings"
	"sync"
	"time"

	"github.com/lectervox/lecturepipe/internal/clock"
)

// terminators are the sentence-ending runes recognized across Latin and
// CJK punctuation (§4.3).
var terminators = []string{".", "!", "?", "。", "！", "？"}

func endsWithTerminator(s string) bool {
	s = strings.TrimRight(s, " \t\n")
	for _, t := range terminators {
		if strings.HasSuffix(s, t) {
			return true
		}
	}
	return false
}

// Final mirrors the subset of segment.Final the combiner needs, decoupled
// to avoid an import cycle with package segment.
type Final struct {
	SegmentID string
	Text      string
	StartTS   int64
	EndTS     int64
}

// Sentence is the combiner's output unit.
type Sentence struct {
	ID         string
	SegmentIDs []string
	SourceText string
	StartTS    int64
	EndTS      int64
}

// EmitFunc receives each completed Sentence.
type EmitFunc func(Sentence)

// Options configures the combination rule; zero values fall back to
// spec defaults.
type Options struct {
	MinSegments int           // default 1
	MaxSegments int           // default 3
	Timeout     time.Duration // default 1200ms
}

func (o Options) withDefaults() Options {
	if o.MinSegments <= 0 {
		o.MinSegments = 1
	}
	if o.MaxSegments <= 0 {
		o.MaxSegments = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 1200 * time.Millisecond
	}
	return o
}

// Combiner accumulates finals into sentences. Safe for concurrent use;
// Append and ForceEmit may be called from different goroutines, and a
// background timer drives the timeout path.
type Combiner struct {
	opts Options
	ids  *clock.IDGen
	emit EmitFunc

	mu    sync.Mutex
	buf   []Final
	timer *time.Timer
}

// New creates a Combiner. ids mints SentenceIds (prefix "sent" by
// convention). emit is invoked synchronously from whichever goroutine
// triggers the flush (Append, the timeout timer, or ForceEmit); callers
// that need async delivery should make emit non-blocking themselves.
func New(opts Options, ids *clock.IDGen, emit EmitFunc) *Combiner {
	return &Combiner{opts: opts.withDefaults(), ids: ids, emit: emit}
}

// Append adds one final segment's text to the buffer and evaluates the
// combination rule. An empty final (text after trim is empty) is ignored.
func (c *Combiner) Append(f Final) {
	if strings.TrimSpace(f.Text) == "" {
		return
	}

	c.mu.Lock()
	c.buf = append(c.buf, f)
	full := c.bufferedText()
	shouldEmit := endsWithTerminator(full) || len(c.buf) >= c.opts.MaxSegments
	if shouldEmit && len(c.buf) < c.opts.MinSegments {
		shouldEmit = false
	}

	if shouldEmit {
		s := c.flushLocked()
		c.stopTimerLocked()
		c.mu.Unlock()
		c.emit(s)
		return
	}

	c.resetTimerLocked()
	c.mu.Unlock()
}

// ForceEmit flushes any partial buffer as a sentence even without a
// terminator. Called by the orchestrator on stop. No-op if the buffer is
// empty.
func (c *Combiner) ForceEmit() {
	c.mu.Lock()
	if len(c.buf) == 0 {
		c.stopTimerLocked()
		c.mu.Unlock()
		return
	}
	s := c.flushLocked()
	c.stopTimerLocked()
	c.mu.Unlock()
	c.emit(s)
}

// bufferedText concatenates the buffer's text; called with c.mu held.
func (c *Combiner) bufferedText() string {
	var b strings.Builder
	for _, f := range c.buf {
		b.WriteString(f.Text)
	}
	return b.String()
}

// flushLocked builds a Sentence from the current buffer and clears it.
// Called with c.mu held.
func (c *Combiner) flushLocked() Sentence {
	ids := make([]string, len(c.buf))
	for i, f := range c.buf {
		ids[i] = f.SegmentID
	}
	s := Sentence{
		ID:         c.ids.Next(),
		SegmentIDs: ids,
		SourceText: c.bufferedText(),
		StartTS:    c.buf[0].StartTS,
		EndTS:      c.buf[len(c.buf)-1].EndTS,
	}
	c.buf = nil
	return s
}

// resetTimerLocked (re)starts the timeout timer; called with c.mu held.
func (c *Combiner) resetTimerLocked() {
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.opts.Timeout, c.onTimeout)
}

// stopTimerLocked cancels any pending timeout timer; called with c.mu held.
func (c *Combiner) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// onTimeout fires on the timeout path: if the buffer is still non-empty
// (no append raced it to a terminator/max-segments emit), it flushes. If
// the buffer is empty, no event is produced (§4.3 edge case).
func (c *Combiner) onTimeout() {
	c.mu.Lock()
	if len(c.buf) == 0 {
		c.mu.Unlock()
		return
	}
	s := c.flushLocked()
	c.mu.Unlock()
	c.emit(s)
}
