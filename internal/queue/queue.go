// Package queue implements the TranslationQueue (component C6): a
// priority queue with bounded concurrency that dispatches translation
// work to an llm.Adapter, enforcing per-job timeouts and a starvation
// guard.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lectervox/lecturepipe/internal/clock"
	"github.com/lectervox/lecturepipe/internal/llm"
	"github.com/lectervox/lecturepipe/internal/metrics"
)

// Priority orders dispatch: High drains before Normal before Low.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// Kind mirrors TranslationJob.kind from the data model.
type Kind string

const (
	KindRealtime Kind = "realtime"
	KindHistory  Kind = "history"
	KindSummary  Kind = "summary"
	KindUser     Kind = "user"
)

// Outcome classifies how a job concluded.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// ErrQueueFull is returned by Enqueue when queued+active has reached
// max_queue.
var ErrQueueFull = errors.New("queue: full")

// Job is one unit of translation work (§3 TranslationJob).
type Job struct {
	ID         string
	Kind       Kind
	Priority   Priority
	Profile    llm.Profile
	LinkedID   string // segment id or sentence id; dedup key component
	SourceText string
	SourceLang string
	TargetLang string
	EnqueuedTS int64
	DeadlineTS int64
	Threshold  int // summary jobs only: the word-count threshold that triggered it (§4.7)
}

// Result is the terminal outcome of a dispatched job.
type Result struct {
	JobID      string
	Kind       Kind
	LinkedID   string
	SourceText string
	TargetText string
	Outcome    Outcome
	Err        error
	Threshold  int // carried from Job.Threshold for summary jobs (§4.7)
}

// DeltaFunc receives streaming translation_partial tokens for a job.
type DeltaFunc func(jobID, linkedID, text string)

// ResultFunc receives the terminal Result for a job.
type ResultFunc func(Result)

// Options configures queue behavior; zero values use spec defaults.
type Options struct {
	MaxQueue       int           // default 256
	MaxConcurrency int64         // default 3
	RequestTimeout time.Duration // default 7000ms
	MaxWait        time.Duration // default 15s
	StarvationPoll time.Duration // default 1s, internal promotion tick
}

func (o Options) withDefaults() Options {
	if o.MaxQueue <= 0 {
		o.MaxQueue = 256
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 3
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 7000 * time.Millisecond
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 15 * time.Second
	}
	if o.StarvationPoll <= 0 {
		o.StarvationPoll = time.Second
	}
	return o
}

type queuedJob struct {
	job      Job
	queuedAt time.Time
}

// Queue is the bounded-concurrency priority dispatcher. Safe for
// concurrent use.
type Queue struct {
	opts     Options
	adapter  llm.Adapter
	clk      clock.Clock
	onDelta  DeltaFunc
	onResult ResultFunc
	sem      *semaphore.Weighted

	mu     sync.Mutex
	byPrio map[Priority][]*queuedJob
	byKey  map[string]*queuedJob // key = kind+linked_id, queued-not-dispatched only
	active int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed bool
}

func dedupKey(kind Kind, linkedID string) string {
	return string(kind) + "|" + linkedID
}

// New creates a Queue bound to adapter. The returned Queue must be closed
// with Stop when the session ends; Stop cancels in-flight jobs (§7
// "session cancellation") and each cancelled job yields OutcomeCancelled
// without publishing translation_final, per the orchestrator's contract.
func New(ctx context.Context, opts Options, adapter llm.Adapter, clk clock.Clock, onDelta DeltaFunc, onResult ResultFunc) *Queue {
	opts = opts.withDefaults()
	qctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		opts:     opts,
		adapter:  adapter,
		clk:      clk,
		onDelta:  onDelta,
		onResult: onResult,
		sem:      semaphore.NewWeighted(opts.MaxConcurrency),
		byPrio:   make(map[Priority][]*queuedJob),
		byKey:    make(map[string]*queuedJob),
		ctx:      qctx,
		cancel:   cancel,
	}
	q.wg.Add(1)
	go q.driverLoop()
	return q
}

// Enqueue admits a job, replacing any queued-but-not-dispatched job with
// the same (kind, linked_id) key. Non-blocking; fails with ErrQueueFull
// if queued+active has reached max_queue.
func (q *Queue) Enqueue(job Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", fmt.Errorf("queue: closed")
	}

	key := dedupKey(job.Kind, job.LinkedID)
	if existing, ok := q.byKey[key]; ok {
		q.removeFromPrioLocked(existing)
		delete(q.byKey, key)
	} else if q.queuedLenLocked()+q.active >= q.opts.MaxQueue {
		return "", ErrQueueFull
	}

	qj := &queuedJob{job: job, queuedAt: time.Now()}
	q.byPrio[job.Priority] = append(q.byPrio[job.Priority], qj)
	q.byKey[key] = qj
	q.reportDepthLocked()
	return job.ID, nil
}

// reportDepthLocked publishes per-priority queue depth and active-job count
// to Prometheus. Callers must hold q.mu.
func (q *Queue) reportDepthLocked() {
	for prio, name := range map[Priority]string{Low: "low", Normal: "normal", High: "high"} {
		metrics.QueueDepth.WithLabelValues(name).Set(float64(len(q.byPrio[prio])))
	}
	metrics.QueueActive.Set(float64(q.active))
}

func (q *Queue) queuedLenLocked() int {
	n := 0
	for _, jobs := range q.byPrio {
		n += len(jobs)
	}
	return n
}

func (q *Queue) removeFromPrioLocked(target *queuedJob) {
	list := q.byPrio[target.job.Priority]
	for i, qj := range list {
		if qj == target {
			q.byPrio[target.job.Priority] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// driverLoop pulls the highest-priority job and dispatches it once a
// concurrency slot is free, promoting starved jobs on each tick.
func (q *Queue) driverLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.StarvationPoll)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.promoteStarvedLocked()
		default:
		}

		qj := q.popNext()
		if qj == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return
		}
		q.mu.Lock()
		q.active++
		q.reportDepthLocked()
		q.mu.Unlock()

		q.wg.Add(1)
		go q.dispatch(qj)
	}
}

// promoteStarvedLocked promotes any job older than max_wait_ms one
// priority level.
func (q *Queue) promoteStarvedLocked() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	// Walk from Normal down to Low so a job promoted in this pass is not
	// promoted again by the same pass.
	for prio := High - 1; prio >= Low; prio-- {
		var remaining []*queuedJob
		for _, qj := range q.byPrio[prio] {
			if now.Sub(qj.queuedAt) >= q.opts.MaxWait {
				qj.job.Priority = prio + 1
				q.byPrio[prio+1] = append(q.byPrio[prio+1], qj)
			} else {
				remaining = append(remaining, qj)
			}
		}
		q.byPrio[prio] = remaining
	}
	q.reportDepthLocked()
}

// popNext removes and returns the highest-priority, oldest queued job.
func (q *Queue) popNext() *queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	for prio := High; prio >= Low; prio-- {
		list := q.byPrio[prio]
		if len(list) == 0 {
			continue
		}
		qj := list[0]
		q.byPrio[prio] = list[1:]
		delete(q.byKey, dedupKey(qj.job.Kind, qj.job.LinkedID))
		q.reportDepthLocked()
		return qj
	}
	return nil
}

// dispatch runs one job to completion against the adapter, honoring the
// per-job timeout and the retry policy for transient/rate-limited errors.
func (q *Queue) dispatch(qj *queuedJob) {
	defer q.wg.Done()
	defer q.sem.Release(1)
	defer func() {
		q.mu.Lock()
		q.active--
		q.reportDepthLocked()
		q.mu.Unlock()
	}()

	job := qj.job
	jobCtx, cancel := context.WithTimeout(q.ctx, q.opts.RequestTimeout)
	defer cancel()

	dispatchStart := time.Now()
	result := q.runWithRetry(jobCtx, job)
	metrics.TranslationDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(dispatchStart).Seconds())
	if q.ctx.Err() != nil && result.Outcome != OutcomeTimeout {
		result.Outcome = OutcomeCancelled
		q.onResult(result) // orchestrator suppresses publish for cancelled, per §4.5/§7
		return
	}
	q.onResult(result)
}

// runWithRetry executes the adapter call, retrying transient/rate_limited
// failures up to 2 times with exponential backoff; auth/bad_request
// fail immediately (§4.5, §7).
func (q *Queue) runWithRetry(ctx context.Context, job Job) Result {
	const maxAttempts = 3 // first attempt + up to 2 retries
	var last llm.StreamResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Result{JobID: job.ID, Kind: job.Kind, LinkedID: job.LinkedID, SourceText: job.SourceText, Outcome: timeoutOrCancelled(ctx), Threshold: job.Threshold}
		}

		sr := q.adapter.TranslateStream(ctx, job.SourceText, job.SourceLang, job.TargetLang, job.Profile, func(d llm.Delta) {
			if q.onDelta != nil {
				q.onDelta(job.ID, job.LinkedID, d.Text)
			}
		})
		last = sr

		if sr.Err == nil {
			return Result{JobID: job.ID, Kind: job.Kind, LinkedID: job.LinkedID, SourceText: job.SourceText, TargetText: sr.FinalText, Outcome: OutcomeOK, Threshold: job.Threshold}
		}
		if sr.Kind != llm.ErrorTransport && sr.Kind != llm.ErrorRateLimited {
			break
		}
		if attempt < maxAttempts {
			time.Sleep(backoff(attempt))
		}
	}

	if ctx.Err() != nil {
		return Result{JobID: job.ID, Kind: job.Kind, LinkedID: job.LinkedID, SourceText: job.SourceText, Outcome: timeoutOrCancelled(ctx), Threshold: job.Threshold}
	}
	return Result{JobID: job.ID, Kind: job.Kind, LinkedID: job.LinkedID, SourceText: job.SourceText, Outcome: OutcomeError, Err: last.Err, Threshold: job.Threshold}
}

func timeoutOrCancelled(ctx context.Context) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	return OutcomeCancelled
}

func backoff(attempt int) time.Duration {
	base := 300 * time.Millisecond
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Stop cancels all in-flight and queued work and waits for the driver and
// any running jobs to unwind.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

// Depth returns the current queued and active job counts, for metrics.
func (q *Queue) Depth() (queued, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queuedLenLocked(), q.active
}
