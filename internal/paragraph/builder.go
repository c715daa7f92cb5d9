// Package paragraph implements the optional ParagraphBuilder (component
// C5): it groups CombinedSentences into 20-60s paragraphs for a
// higher-quality, lower-frequency history translation track.
package paragraph

import (
	"strings"
	"sync"
	"time"

	"github.com/lectervox/lecturepipe/internal/clock"
)

// Sentence is the subset of combiner.Sentence the builder consumes,
// decoupled to avoid an import cycle.
type Sentence struct {
	ID         string
	SourceText string
	StartTS    int64
	EndTS      int64
}

// Status mirrors the Paragraph.status enum from the data model.
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Paragraph is the builder's output unit.
type Paragraph struct {
	ID          string
	SentenceIDs []string
	RawText     string
	CleanText   string
	StartTS     int64
	EndTS       int64
	WordCount   int
	Status      Status
}

// CleanupFunc performs optional filler-word removal on raw text,
// returning the cleaned text. Runs synchronously inside the builder; its
// result back-patches Paragraph.CleanText before the paragraph is emitted.
type CleanupFunc func(raw string) string

// EmitFunc receives each completed Paragraph once cleanup (if any) has
// back-patched CleanText.
type EmitFunc func(Paragraph)

// strongPauseThreshold is the pause duration after a terminator that
// counts as a "strong boundary" (§4.4).
const strongPauseThreshold = 800 * time.Millisecond

var terminators = []string{".", "!", "?", "。", "！", "？"}

func endsOnTerminator(s string) bool {
	s = strings.TrimRight(s, " \t\n")
	for _, t := range terminators {
		if strings.HasSuffix(s, t) {
			return true
		}
	}
	return false
}

// Options configures the paragraph window; zero values use spec defaults.
type Options struct {
	MinDuration time.Duration // default 20s
	MaxDuration time.Duration // default 60s
}

func (o Options) withDefaults() Options {
	if o.MinDuration <= 0 {
		o.MinDuration = 20 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 60 * time.Second
	}
	return o
}

// Builder accumulates sentences into paragraphs. Safe for concurrent use.
// Enabled reflects §4.4's "optional, may be disabled" flag; when disabled,
// Append is a no-op so the orchestrator can wire C5 unconditionally and
// gate it purely through configuration.
type Builder struct {
	opts    Options
	ids     *clock.IDGen
	cleanup CleanupFunc
	emit    EmitFunc
	enabled bool

	mu        sync.Mutex
	buf       []Sentence
	prevEndTS int64
}

// New creates a Builder. cleanup may be nil, in which case CleanText is
// left empty and downstream treats RawText as the translatable text.
func New(opts Options, ids *clock.IDGen, cleanup CleanupFunc, emit EmitFunc, enabled bool) *Builder {
	return &Builder{opts: opts.withDefaults(), ids: ids, cleanup: cleanup, emit: emit, enabled: enabled}
}

// Append adds a completed sentence to the current paragraph window and
// closes it if a boundary condition is met.
func (b *Builder) Append(s Sentence) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	pauseBeforeThis := s.StartTS - b.prevEndTS
	b.buf = append(b.buf, s)
	b.prevEndTS = s.EndTS

	duration := time.Duration(b.buf[len(b.buf)-1].EndTS-b.buf[0].StartTS) * time.Millisecond
	strongBoundary := endsOnTerminator(s.SourceText) && time.Duration(pauseBeforeThis)*time.Millisecond > strongPauseThreshold

	closes := duration >= b.opts.MaxDuration || (duration >= b.opts.MinDuration && strongBoundary)
	if !closes {
		b.mu.Unlock()
		return
	}
	p := b.flushLocked()
	b.mu.Unlock()
	b.deliver(p)
}

// Flush closes the current paragraph window unconditionally, for the
// orchestrator's stop sequence. No-op if the buffer is empty or the
// builder is disabled.
func (b *Builder) Flush() {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	p := b.flushLocked()
	b.mu.Unlock()
	b.deliver(p)
}

// flushLocked builds a Paragraph from the buffered sentences and clears
// it. Called with b.mu held.
func (b *Builder) flushLocked() Paragraph {
	ids := make([]string, len(b.buf))
	var raw strings.Builder
	for i, s := range b.buf {
		ids[i] = s.ID
		if i > 0 {
			raw.WriteString(" ")
		}
		raw.WriteString(s.SourceText)
	}
	p := Paragraph{
		ID:          b.ids.Next(),
		SentenceIDs: ids,
		RawText:     raw.String(),
		StartTS:     b.buf[0].StartTS,
		EndTS:       b.buf[len(b.buf)-1].EndTS,
		WordCount:   wordCount(raw.String()),
		Status:      StatusCollecting,
	}
	b.buf = nil
	return p
}

// deliver runs cleanup (if configured) and emits the paragraph with
// clean_text back-patched. Cleanup runs synchronously on the caller's
// goroutine, so tests can observe ordering deterministically.
func (b *Builder) deliver(p Paragraph) {
	p.Status = StatusProcessing
	if b.cleanup != nil {
		p.CleanText = b.cleanup(p.RawText)
	}
	p.Status = StatusCompleted
	b.emit(p)
}

// wordCount approximates word count per §4.7's rule: whitespace tokens
// for Latin text, CJK code points / 2 rounded up.
func wordCount(s string) int {
	fields := strings.Fields(s)
	latin := 0
	cjk := 0
	for _, f := range fields {
		isCJK := false
		for _, r := range f {
			if isCJKRune(r) {
				isCJK = true
				break
			}
		}
		if isCJK {
			cjk += len([]rune(f))
		} else {
			latin++
		}
	}
	return latin + (cjk+1)/2
}

func isCJKRune(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK unified ideographs
		(r >= 0x3040 && r <= 0x30FF) || // hiragana/katakana
		(r >= 0xAC00 && r <= 0xD7A3) // hangul syllables
}
