// Package summarizer implements the ProgressiveSummarizer (component C8):
// it tracks cumulative source word count across finalized segments and
// fires a summary job each time a threshold is crossed.
package summarizer

import (
	"strings"
	"sync"
)

// DefaultThresholds are the word-count checkpoints at which a summary job
// is first triggered (§4.7).
var DefaultThresholds = []int{400, 800, 1600, 2400}

// DefaultIncrement is the step applied after the highest configured
// threshold has been passed.
const DefaultIncrement = 800

// TriggerFunc is invoked each time a threshold is crossed, with the
// threshold value and the concatenation of finals since the last
// boundary.
type TriggerFunc func(thresholdWords int, sourceText string)

// Summarizer accumulates word counts and fires TriggerFunc at each
// threshold. Safe for concurrent use.
type Summarizer struct {
	thresholds []int
	increment  int
	trigger    TriggerFunc

	mu            sync.Mutex
	cumulative    int
	nextThreshIdx int
	sinceBoundary []string
}

// New creates a Summarizer. A nil/empty thresholds slice uses
// DefaultThresholds; increment <= 0 uses DefaultIncrement.
func New(thresholds []int, increment int, trigger TriggerFunc) *Summarizer {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	if increment <= 0 {
		increment = DefaultIncrement
	}
	return &Summarizer{thresholds: thresholds, increment: increment, trigger: trigger}
}

// AppendFinal feeds one finalized segment's source text into the running
// word count and fires a trigger if a threshold is newly reached.
func (s *Summarizer) AppendFinal(text string) {
	n := wordCount(text)
	if n == 0 {
		return
	}

	s.mu.Lock()
	s.cumulative += n
	s.sinceBoundary = append(s.sinceBoundary, text)

	next := s.nextThresholdLocked()
	if s.cumulative < next {
		s.mu.Unlock()
		return
	}

	source := strings.Join(s.sinceBoundary, "")
	s.sinceBoundary = nil
	s.nextThreshIdx++
	s.mu.Unlock()

	s.trigger(next, source)
}

// nextThresholdLocked returns the next threshold to check, extending past
// the configured list by increment once exhausted. Called with s.mu held.
func (s *Summarizer) nextThresholdLocked() int {
	if s.nextThreshIdx < len(s.thresholds) {
		return s.thresholds[s.nextThreshIdx]
	}
	overshoot := s.nextThreshIdx - len(s.thresholds) + 1
	return s.thresholds[len(s.thresholds)-1] + overshoot*s.increment
}

// CumulativeWords reports the running total for diagnostics/tests.
func (s *Summarizer) CumulativeWords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumulative
}

// wordCount approximates "words" per §4.7: whitespace tokens for Latin
// text, CJK code points / 2 rounded up.
func wordCount(s string) int {
	fields := strings.Fields(s)
	latin := 0
	cjkPoints := 0
	for _, f := range fields {
		isCJK := false
		for _, r := range f {
			if isCJKRune(r) {
				isCJK = true
				break
			}
		}
		if isCJK {
			cjkPoints += len([]rune(f))
		} else {
			latin++
		}
	}
	return latin + (cjkPoints+1)/2
}

func isCJKRune(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7A3)
}
