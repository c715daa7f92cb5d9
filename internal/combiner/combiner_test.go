package combiner

import (
	"testing"
	"time"

	"github.com/lectervox/lecturepipe/internal/clock"
)

func TestAppendEmitsOnTerminator(t *testing.T) {
	var got []Sentence
	c := New(Options{}, clock.NewIDGen("sent"), func(s Sentence) { got = append(got, s) })

	c.Append(Final{SegmentID: "seg-1", Text: "Hello.", StartTS: 0, EndTS: 100})

	if len(got) != 1 {
		t.Fatalf("expected 1 sentence, got %d", len(got))
	}
	if got[0].SourceText != "Hello." {
		t.Fatalf("unexpected text %q", got[0].SourceText)
	}
}

func TestAppendEmitsOnMaxSegments(t *testing.T) {
	var got []Sentence
	c := New(Options{MaxSegments: 2}, clock.NewIDGen("sent"), func(s Sentence) { got = append(got, s) })

	c.Append(Final{SegmentID: "seg-1", Text: "one", StartTS: 0, EndTS: 100})
	if len(got) != 0 {
		t.Fatalf("expected no emit yet, got %d", len(got))
	}
	c.Append(Final{SegmentID: "seg-2", Text: "two", StartTS: 100, EndTS: 200})
	if len(got) != 1 {
		t.Fatalf("expected emit at max segments, got %d", len(got))
	}
	if len(got[0].SegmentIDs) != 2 {
		t.Fatalf("expected 2 segment ids, got %v", got[0].SegmentIDs)
	}
}

func TestEmptyFinalIgnored(t *testing.T) {
	var got []Sentence
	c := New(Options{}, clock.NewIDGen("sent"), func(s Sentence) { got = append(got, s) })

	c.Append(Final{SegmentID: "seg-1", Text: "   ", StartTS: 0, EndTS: 100})

	if len(got) != 0 {
		t.Fatalf("expected empty final to be ignored, got %d emits", len(got))
	}
}

func TestForceEmitFlushesPartialBuffer(t *testing.T) {
	var got []Sentence
	c := New(Options{MaxSegments: 10}, clock.NewIDGen("sent"), func(s Sentence) { got = append(got, s) })

	c.Append(Final{SegmentID: "seg-1", Text: "no terminator yet", StartTS: 0, EndTS: 100})
	c.ForceEmit()

	if len(got) != 1 {
		t.Fatalf("expected force-emit to flush 1 sentence, got %d", len(got))
	}
}

func TestForceEmitOnEmptyBufferIsNoop(t *testing.T) {
	var got []Sentence
	c := New(Options{}, clock.NewIDGen("sent"), func(s Sentence) { got = append(got, s) })

	c.ForceEmit()

	if len(got) != 0 {
		t.Fatalf("expected no emit on empty buffer, got %d", len(got))
	}
}

func TestTimeoutFlushesBufferedTextWithoutTerminator(t *testing.T) {
	done := make(chan Sentence, 1)
	c := New(Options{Timeout: 20 * time.Millisecond, MaxSegments: 10}, clock.NewIDGen("sent"), func(s Sentence) {
		done <- s
	})

	c.Append(Final{SegmentID: "seg-1", Text: "trailing thought", StartTS: 0, EndTS: 100})

	select {
	case s := <-done:
		if s.SourceText != "trailing thought" {
			t.Fatalf("unexpected text %q", s.SourceText)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected timeout-driven emit")
	}
}
