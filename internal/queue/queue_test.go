package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lectervox/lecturepipe/internal/clock"
	"github.com/lectervox/lecturepipe/internal/llm"
)

type fakeAdapter struct {
	mu       sync.Mutex
	delay    time.Duration
	result   llm.StreamResult
	onCall   func(sourceText string)
	inFlight int
	maxSeen  int
}

func (f *fakeAdapter) TranslateStream(ctx context.Context, sourceText, sourceLang, targetLang string, profile llm.Profile, deltas func(llm.Delta)) llm.StreamResult {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.onCall != nil {
		f.onCall(sourceText)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return llm.StreamResult{Kind: llm.ErrorInternal, Err: ctx.Err()}
		}
	}
	if deltas != nil && f.result.FinalText != "" {
		deltas(llm.Delta{Text: f.result.FinalText})
	}
	return f.result
}

func newTestQueue(adapter llm.Adapter, opts Options) (*Queue, *[]Result) {
	var results []Result
	var mu sync.Mutex
	q := New(context.Background(), opts, adapter, clock.System{}, nil, func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	return q, &results
}

func waitForResults(t *testing.T, results *[]Result, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(*results) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d results, got %d", n, len(*results))
}

func TestEnqueueAndDispatchHappyPath(t *testing.T) {
	adapter := &fakeAdapter{result: llm.StreamResult{FinalText: "translated"}}
	q, results := newTestQueue(adapter, Options{})
	defer q.Stop()

	_, err := q.Enqueue(Job{ID: "job-1", Kind: KindRealtime, Priority: High, LinkedID: "seg-1", SourceText: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForResults(t, results, 1)
	r := (*results)[0]
	if r.Outcome != OutcomeOK || r.TargetText != "translated" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestResultCarriesJobThreshold(t *testing.T) {
	adapter := &fakeAdapter{result: llm.StreamResult{FinalText: "summary text"}}
	q, results := newTestQueue(adapter, Options{})
	defer q.Stop()

	_, err := q.Enqueue(Job{ID: "job-1", Kind: KindSummary, Priority: Low, LinkedID: "job-1", SourceText: "hello", Threshold: 400})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForResults(t, results, 1)
	if (*results)[0].Threshold != 400 {
		t.Fatalf("expected threshold 400 carried onto the result, got %d", (*results)[0].Threshold)
	}
}

func TestConcurrencyBounded(t *testing.T) {
	adapter := &fakeAdapter{delay: 100 * time.Millisecond, result: llm.StreamResult{FinalText: "x"}}
	q, results := newTestQueue(adapter, Options{MaxConcurrency: 2})
	defer q.Stop()

	for i := 0; i < 5; i++ {
		q.Enqueue(Job{ID: string(rune('a' + i)), Kind: KindHistory, Priority: Normal, LinkedID: string(rune('a' + i)), SourceText: "t"})
	}

	waitForResults(t, results, 5)
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.maxSeen > 2 {
		t.Fatalf("expected max concurrency 2, observed %d", adapter.maxSeen)
	}
}

func TestDedupReplacesQueuedJobWithSameKey(t *testing.T) {
	adapter := &fakeAdapter{delay: 50 * time.Millisecond, result: llm.StreamResult{FinalText: "final"}}
	q, results := newTestQueue(adapter, Options{MaxConcurrency: 1})
	defer q.Stop()

	// Occupy the single slot so both enqueues below stay queued.
	q.Enqueue(Job{ID: "occupy", Kind: KindRealtime, Priority: High, LinkedID: "occupy", SourceText: "occupy"})
	time.Sleep(10 * time.Millisecond)

	q.Enqueue(Job{ID: "first", Kind: KindHistory, Priority: Normal, LinkedID: "sent-1", SourceText: "first version"})
	q.Enqueue(Job{ID: "second", Kind: KindHistory, Priority: Normal, LinkedID: "sent-1", SourceText: "second version"})

	waitForResults(t, results, 2)
	var sawFirst, sawSecond bool
	for _, r := range *results {
		if r.SourceText == "first version" {
			sawFirst = true
		}
		if r.SourceText == "second version" {
			sawSecond = true
		}
	}
	if sawFirst {
		t.Fatal("expected first (replaced) version not to be dispatched")
	}
	if !sawSecond {
		t.Fatal("expected second (replacing) version to be dispatched")
	}
}

func TestQueueFullRejectsEnqueue(t *testing.T) {
	adapter := &fakeAdapter{delay: time.Second, result: llm.StreamResult{FinalText: "x"}}
	q, _ := newTestQueue(adapter, Options{MaxQueue: 1, MaxConcurrency: 1})
	defer q.Stop()

	_, err := q.Enqueue(Job{ID: "a", Kind: KindRealtime, Priority: High, LinkedID: "a", SourceText: "t"})
	if err != nil {
		t.Fatalf("unexpected error on first enqueue: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // let it get dispatched, occupying the slot

	_, err = q.Enqueue(Job{ID: "b", Kind: KindRealtime, Priority: High, LinkedID: "b", SourceText: "t"})
	_, err2 := q.Enqueue(Job{ID: "c", Kind: KindRealtime, Priority: High, LinkedID: "c", SourceText: "t"})
	if !errors.Is(err, ErrQueueFull) && !errors.Is(err2, ErrQueueFull) {
		t.Fatal("expected at least one enqueue to fail with ErrQueueFull once max_queue is reached")
	}
}

func TestTransientErrorRetriesBeforeSucceeding(t *testing.T) {
	attempts := 0
	adapter := &fakeAdapter{}
	adapter.onCall = func(sourceText string) {
		attempts++
	}
	// Wrap result selection in a closure-capable adapter via manual override.
	callCount := 0
	wrapped := &sequenceAdapter{
		results: []llm.StreamResult{
			{Kind: llm.ErrorTransport, Err: errors.New("transport blip")},
			{FinalText: "recovered"},
		},
		onCall: func() { callCount++ },
	}

	q, results := newTestQueue(wrapped, Options{})
	defer q.Stop()

	q.Enqueue(Job{ID: "job-1", Kind: KindRealtime, Priority: High, LinkedID: "seg-1", SourceText: "hi"})
	waitForResults(t, results, 1)

	if callCount != 2 {
		t.Fatalf("expected 2 attempts (1 retry), got %d", callCount)
	}
	if (*results)[0].Outcome != OutcomeOK || (*results)[0].TargetText != "recovered" {
		t.Fatalf("unexpected final result: %+v", (*results)[0])
	}
}

func TestAuthErrorFailsImmediatelyWithoutRetry(t *testing.T) {
	callCount := 0
	wrapped := &sequenceAdapter{
		results: []llm.StreamResult{
			{Kind: llm.ErrorAuthInvalid, Err: errors.New("bad credentials")},
		},
		onCall: func() { callCount++ },
	}

	q, results := newTestQueue(wrapped, Options{})
	defer q.Stop()

	q.Enqueue(Job{ID: "job-1", Kind: KindRealtime, Priority: High, LinkedID: "seg-1", SourceText: "hi"})
	waitForResults(t, results, 1)

	if callCount != 1 {
		t.Fatalf("expected exactly 1 attempt for auth failure, got %d", callCount)
	}
	if (*results)[0].Outcome != OutcomeError {
		t.Fatalf("expected error outcome, got %+v", (*results)[0])
	}
}

// sequenceAdapter returns results[i] on the i-th call, repeating the last
// entry once exhausted.
type sequenceAdapter struct {
	mu      sync.Mutex
	results []llm.StreamResult
	idx     int
	onCall  func()
}

func (s *sequenceAdapter) TranslateStream(ctx context.Context, sourceText, sourceLang, targetLang string, profile llm.Profile, deltas func(llm.Delta)) llm.StreamResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onCall != nil {
		s.onCall()
	}
	i := s.idx
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.idx++
	return s.results[i]
}
