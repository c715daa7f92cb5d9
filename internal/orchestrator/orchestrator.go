// Package orchestrator implements the PipelineOrchestrator (component
// C11): it wires C2-C10 into the data-flow graph described in §4.10,
// owns the per-session correlation id and the immutable SessionConfig
// captured at start_listening, and drives the teardown sequence on
// stop_listening.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lectervox/lecturepipe/internal/asr"
	"github.com/lectervox/lecturepipe/internal/clock"
	"github.com/lectervox/lecturepipe/internal/coalescer"
	"github.com/lectervox/lecturepipe/internal/combiner"
	"github.com/lectervox/lecturepipe/internal/config"
	"github.com/lectervox/lecturepipe/internal/event"
	"github.com/lectervox/lecturepipe/internal/eventbus"
	"github.com/lectervox/lecturepipe/internal/llm"
	"github.com/lectervox/lecturepipe/internal/metrics"
	"github.com/lectervox/lecturepipe/internal/paragraph"
	"github.com/lectervox/lecturepipe/internal/persistence"
	"github.com/lectervox/lecturepipe/internal/pipeline"
	"github.com/lectervox/lecturepipe/internal/queue"
	"github.com/lectervox/lecturepipe/internal/segment"
	"github.com/lectervox/lecturepipe/internal/summarizer"
)

// drainGrace is how long the orchestrator waits for in-flight translation
// jobs to finish on stop before forcing cancellation (§4.10).
const drainGrace = 5 * time.Second

// SessionConfig is captured once at start_listening and is immutable for
// the session's lifetime; language changes require a controlled restart
// (§4.9, §9).
type SessionConfig struct {
	SourceLang    string
	TargetLang    string
	CorrelationID string
}

// AsrFactory opens a fresh asr.Adapter for a session. Production wiring
// points this at asr.NewGoogleASRAdapter; tests substitute a fake.
type AsrFactory func(ctx context.Context, ids *clock.IDGen) (asr.Adapter, error)

// Orchestrator is the C11 component. One instance manages at most one
// active session at a time, matching the single-session scope of §4.9's
// state machine.
type Orchestrator struct {
	cfg        *config.Config
	llmAdapter llm.Adapter
	newAsr     AsrFactory
	store      *persistence.Store
	csvDir     string

	mu      sync.Mutex
	state   *pipeline.Machine
	session *sessionRuntime
}

// sessionRuntime holds every per-session collaborator; it is torn down
// and rebuilt on each start_listening/stop_listening cycle.
type sessionRuntime struct {
	cfg    SessionConfig
	bus    *eventbus.Bus
	ids    *clock.IDGen
	a      asr.Adapter
	store  *segment.Store
	comb   *combiner.Combiner
	para   *paragraph.Builder
	q      *queue.Queue
	coal   *coalescer.Coalescer
	summ   *summarizer.Summarizer
	csv    *persistence.CSVExporter
	jobIDs *clock.IDGen
	cancel context.CancelFunc
	wg     sync.WaitGroup

	audioDropStatus  int
	eventDropsByKind map[string]int
}

// New creates an Orchestrator bound to cfg (operational knobs, hot-
// reloadable) and the shared LLM adapter. newAsr constructs a fresh ASR
// adapter per session; store is the optional persistence collaborator
// (nil disables persistence entirely, per §6.5 "if configured").
func New(cfg *config.Config, llmAdapter llm.Adapter, newAsr AsrFactory, store *persistence.Store) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		llmAdapter: llmAdapter,
		newAsr:     newAsr,
		store:      store,
		csvDir:     "transcripts",
		state:      pipeline.New(),
	}
}

// ErrAlreadyRunning is returned by StartListening when a session is
// already listening (§8 round-trip property).
var ErrAlreadyRunning = fmt.Errorf("orchestrator: already running")

// State returns the current pipeline lifecycle state (get_state).
func (o *Orchestrator) State() pipeline.State {
	return o.state.Current()
}

// StartListening constructs the session graph and transitions
// idle -> starting -> listening. It mints a fresh CorrelationId.
func (o *Orchestrator) StartListening(ctx context.Context, sourceLang, targetLang string) (string, *eventbus.Subscription, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Current() != pipeline.StateIdle {
		return "", nil, ErrAlreadyRunning
	}
	if _, err := o.state.Fire(pipeline.EventStartCommand); err != nil {
		return "", nil, err
	}

	correlationID := clock.NewCorrelationID()
	sess, sub, err := o.buildSession(ctx, SessionConfig{SourceLang: sourceLang, TargetLang: targetLang, CorrelationID: correlationID})
	if err != nil {
		o.state.Fire(pipeline.EventAsrFatal)
		return "", nil, err
	}
	o.session = sess

	if err := sess.a.Connect(sourceLang, targetLang); err != nil {
		o.state.Fire(pipeline.EventAsrFatal)
		return "", nil, fmt.Errorf("connect asr: %w", err)
	}
	o.state.Fire(pipeline.EventAsrConnected)

	if o.store != nil {
		o.store.OnSessionStart(persistence.SessionMeta{
			SessionID:     correlationID,
			CorrelationID: correlationID,
			SourceLang:    sourceLang,
			TargetLang:    targetLang,
			StartedAt:     time.Now(),
		})
	}

	metrics.PipelineState.WithLabelValues(string(pipeline.StateListening)).Set(1)
	slog.Info("session started", "correlation_id", correlationID, "source_lang", sourceLang, "target_lang", targetLang)
	return correlationID, sub, nil
}

// buildSession wires C2-C10 per §4.10's data-flow description.
func (o *Orchestrator) buildSession(ctx context.Context, sc SessionConfig) (*sessionRuntime, *eventbus.Subscription, error) {
	sessCtx, cancel := context.WithCancel(ctx)

	bus := eventbus.New(sc.CorrelationID, eventbus.DefaultBufferSize)
	sub := bus.Subscribe()

	sess := &sessionRuntime{
		cfg:              sc,
		bus:              bus,
		ids:              clock.NewIDGen("seg"),
		cancel:           cancel,
		eventDropsByKind: make(map[string]int),
	}

	a, err := o.newAsr(sessCtx, sess.ids)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("new asr adapter: %w", err)
	}
	sess.a = a

	sess.store = segment.New(func(inserted segment.Final, atIndex int) {
		bus.Publish(event.KindStatus, event.Status{
			Level:   event.StatusWarn,
			Message: fmt.Sprintf("out-of-order final %s resynced at index %d", inserted.ID, atIndex),
		}, time.Now().UnixMilli())
	})

	sentIDs := clock.NewIDGen("sent")
	paraIDs := clock.NewIDGen("para")
	sess.jobIDs = clock.NewIDGen("job")

	sess.q = queue.New(sessCtx, queue.Options{
		MaxQueue:       o.cfg.Queue.MaxQueue,
		MaxConcurrency: int64(o.cfg.Queue.MaxConcurrency),
		RequestTimeout: o.cfg.Queue.RequestTimeout(),
		MaxWait:        o.cfg.Queue.MaxWait(),
	}, o.llmAdapter, clock.System{}, func(jobID, linkedID, text string) {
		sess.coal.Update(linkedID, text)
	}, func(res queue.Result) {
		o.onTranslationResult(sess, res)
	})

	sess.coal = coalescer.New(
		time.Duration(o.cfg.Coalescer.DebounceMs)*time.Millisecond,
		time.Duration(o.cfg.Coalescer.MaxHoldMs)*time.Millisecond,
		clock.System{},
		func(key, value string) {
			bus.Publish(event.KindTranslationPartial, event.TranslationPartial{
				LinkedID:   key,
				TargetText: value,
			}, time.Now().UnixMilli())
		},
	)

	sess.summ = summarizer.New(o.cfg.Summarizer.Thresholds, o.cfg.Summarizer.Increment, func(thresholdWords int, sourceText string) {
		o.enqueueSummary(sess, thresholdWords, sourceText)
	})

	sess.para = paragraph.New(paragraph.Options{
		MinDuration: time.Duration(o.cfg.Paragraph.TargetMinSeconds) * time.Second,
		MaxDuration: time.Duration(o.cfg.Paragraph.TargetMaxSeconds) * time.Second,
	}, paraIDs, nil, func(p paragraph.Paragraph) {
		bus.Publish(event.KindParagraphComplete, event.ParagraphComplete{
			ParagraphID: p.ID,
			SentenceIDs: p.SentenceIDs,
			RawText:     p.RawText,
			CleanText:   p.CleanText,
			StartTS:     p.StartTS,
			EndTS:       p.EndTS,
			WordCount:   p.WordCount,
		}, time.Now().UnixMilli())
		text := p.CleanText
		if text == "" {
			text = p.RawText
		}
		o.enqueueHistory(sess, p.ID, text)
	}, o.cfg.Paragraph.Enabled)

	sess.comb = combiner.New(combiner.Options{
		MinSegments: o.cfg.Combiner.MinSegments,
		MaxSegments: o.cfg.Combiner.MaxSegments,
		Timeout:     time.Duration(o.cfg.Combiner.TimeoutMs) * time.Millisecond,
	}, sentIDs, func(s combiner.Sentence) {
		bus.Publish(event.KindCombinedSentence, event.CombinedSentence{
			SentenceID: s.ID,
			SegmentIDs: s.SegmentIDs,
			SourceText: s.SourceText,
			StartTS:    s.StartTS,
			EndTS:      s.EndTS,
		}, time.Now().UnixMilli())

		sess.para.Append(paragraph.Sentence{ID: s.ID, SourceText: s.SourceText, StartTS: s.StartTS, EndTS: s.EndTS})
		if !o.cfg.Paragraph.Enabled {
			o.enqueueHistory(sess, s.ID, s.SourceText)
		}
	})

	if cfg, err := persistence.NewCSVExporter(o.csvDir, sc.CorrelationID); err == nil {
		sess.csv = cfg
	}

	sess.wg.Add(1)
	go o.runAsrLoop(sessCtx, sess)

	return sess, sub, nil
}

// statusHeartbeat is how often drop counters are snapshotted into a
// status event (§4.8, §3F).
const statusHeartbeat = 5 * time.Second

// runAsrLoop drains the ASR adapter's Segments/Errors channels and
// periodically surfaces drop counters for the lifetime of the session.
func (o *Orchestrator) runAsrLoop(ctx context.Context, sess *sessionRuntime) {
	defer sess.wg.Done()
	ticker := time.NewTicker(statusHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-sess.a.Segments():
			if !ok {
				return
			}
			o.onSegment(sess, seg)
		case connErr, ok := <-sess.a.Errors():
			if !ok {
				continue
			}
			o.onAsrError(sess, connErr)
		case <-ticker.C:
			o.publishDropCounters(sess)
		}
	}
}

// publishDropCounters surfaces the audio-frame drop count and the
// event-bus's per-kind drop counts as a status event, and mirrors the
// deltas since the last snapshot into Prometheus counters (§3F).
func (o *Orchestrator) publishDropCounters(sess *sessionRuntime) {
	audioDropped := sess.a.DroppedFrames()
	if delta := audioDropped - sess.audioDropStatus; delta > 0 {
		metrics.AudioFramesDroppedTotal.Add(float64(delta))
	}
	sess.audioDropStatus = audioDropped

	counts := map[string]int{"audio_frames_dropped": audioDropped}
	for kind, n := range sess.bus.DropCounts() {
		counts["events_dropped:"+string(kind)] = n
		if delta := n - sess.eventDropsByKind[string(kind)]; delta > 0 {
			metrics.EventsDroppedTotal.WithLabelValues(string(kind)).Add(float64(delta))
		}
		sess.eventDropsByKind[string(kind)] = n
	}
	if audioDropped == 0 && len(sess.bus.DropCounts()) == 0 {
		return
	}
	sess.bus.Publish(event.KindStatus, event.Status{Level: event.StatusInfo, Counts: counts}, time.Now().UnixMilli())
}

func (o *Orchestrator) onSegment(sess *sessionRuntime, seg asr.Segment) {
	now := time.Now().UnixMilli()
	if !seg.IsFinal {
		sess.coal.Update(seg.ID, seg.Text)
		sess.bus.Publish(event.KindAsrPartial, event.AsrPartial{
			SegmentID:  seg.ID,
			Text:       seg.Text,
			Confidence: seg.Confidence,
			StartTS:    seg.StartTS,
			EndTS:      seg.EndTS,
			Language:   seg.Language,
		}, now)
		return
	}

	sess.coal.Final(seg.ID, seg.Text)
	sess.bus.Publish(event.KindAsrFinal, event.AsrFinal{
		SegmentID:  seg.ID,
		Text:       seg.Text,
		Confidence: seg.Confidence,
		StartTS:    seg.StartTS,
		EndTS:      seg.EndTS,
		Language:   seg.Language,
	}, now)

	sess.store.AppendFinal(segment.Final{
		ID: seg.ID, Text: seg.Text, Confidence: seg.Confidence,
		StartTS: seg.StartTS, EndTS: seg.EndTS, Language: seg.Language,
	})
	sess.comb.Append(combiner.Final{SegmentID: seg.ID, Text: seg.Text, StartTS: seg.StartTS, EndTS: seg.EndTS})
	sess.summ.AppendFinal(seg.Text)

	o.enqueueRealtime(sess, seg)
}

func (o *Orchestrator) onAsrError(sess *sessionRuntime, connErr asr.ConnError) {
	if connErr.Kind == asr.ErrorAuthInvalid {
		o.mu.Lock()
		o.state.Fire(pipeline.EventFatal)
		o.mu.Unlock()
		sess.bus.Publish(event.KindError, event.Error{
			Code:        "auth_invalid",
			Message:     connErr.Err.Error(),
			Recoverable: false,
		}, time.Now().UnixMilli())
		return
	}
	sess.bus.Publish(event.KindStatus, event.Status{
		Level:   event.StatusWarn,
		Message: connErr.Err.Error(),
	}, time.Now().UnixMilli())
}

func (o *Orchestrator) enqueueRealtime(sess *sessionRuntime, seg asr.Segment) {
	job := queue.Job{
		ID:         sess.jobIDs.Next(),
		Kind:       queue.KindRealtime,
		Priority:   queue.High,
		Profile:    llm.ProfileRealtime,
		LinkedID:   seg.ID,
		SourceText: seg.Text,
		SourceLang: sess.cfg.SourceLang,
		TargetLang: sess.cfg.TargetLang,
		EnqueuedTS: time.Now().UnixMilli(),
	}
	if _, err := sess.q.Enqueue(job); err != nil {
		sess.bus.Publish(event.KindStatus, event.Status{Level: event.StatusWarn, Message: err.Error()}, time.Now().UnixMilli())
	}
}

func (o *Orchestrator) enqueueHistory(sess *sessionRuntime, linkedID, text string) {
	job := queue.Job{
		ID:         sess.jobIDs.Next(),
		Kind:       queue.KindHistory,
		Priority:   queue.Low,
		Profile:    llm.ProfileQuality,
		LinkedID:   linkedID,
		SourceText: text,
		SourceLang: sess.cfg.SourceLang,
		TargetLang: sess.cfg.TargetLang,
		EnqueuedTS: time.Now().UnixMilli(),
	}
	if _, err := sess.q.Enqueue(job); err != nil {
		sess.bus.Publish(event.KindStatus, event.Status{Level: event.StatusWarn, Message: err.Error()}, time.Now().UnixMilli())
	}
}

func (o *Orchestrator) enqueueSummary(sess *sessionRuntime, thresholdWords int, sourceText string) {
	id := sess.jobIDs.Next()
	job := queue.Job{
		ID:         id,
		Kind:       queue.KindSummary,
		Priority:   queue.Low,
		Profile:    llm.ProfileQuality,
		LinkedID:   id,
		SourceText: sourceText,
		SourceLang: sess.cfg.SourceLang,
		TargetLang: sess.cfg.TargetLang,
		EnqueuedTS: time.Now().UnixMilli(),
		Threshold:  thresholdWords,
	}
	metrics.CumulativeWords.Set(float64(sess.summ.CumulativeWords()))
	if _, err := sess.q.Enqueue(job); err != nil {
		sess.bus.Publish(event.KindStatus, event.Status{Level: event.StatusWarn, Message: err.Error()}, time.Now().UnixMilli())
		return
	}

	if o.store != nil {
		go func() {
			_ = o.store.OnSummary(sess.cfg.CorrelationID, persistence.Summary{
				Threshold: thresholdWords, WordCount: sess.summ.CumulativeWords(), Text: sourceText,
			})
		}()
	}
}

// onTranslationResult publishes a job's terminal Result as a
// translation_final event (or suppresses it entirely for a cancelled
// job, per §4.5/§7) and persists history results.
func (o *Orchestrator) onTranslationResult(sess *sessionRuntime, res queue.Result) {
	metrics.JobsTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome == queue.OutcomeCancelled {
		return
	}

	outcome := event.TranslationOutcome(res.Outcome)
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	sess.bus.Publish(event.KindTranslationFinal, event.TranslationFinal{
		JobID:      res.JobID,
		Kind:       string(res.Kind),
		LinkedID:   res.LinkedID,
		SourceText: res.SourceText,
		TargetText: res.TargetText,
		Outcome:    outcome,
		ErrorMsg:   errMsg,
	}, time.Now().UnixMilli())

	if res.Kind == queue.KindSummary && res.Outcome == queue.OutcomeOK {
		sess.bus.Publish(event.KindProgressiveSummary, event.ProgressiveSummary{
			ID:             res.JobID,
			ThresholdWords: res.Threshold,
			SourceText:     res.SourceText,
			TargetText:     res.TargetText,
			WordCount:      sess.summ.CumulativeWords(),
		}, time.Now().UnixMilli())
	}

	if res.Kind == queue.KindUser && res.Outcome == queue.OutcomeOK {
		o.onUserJobResult(sess, res)
	}

	if res.Outcome != queue.OutcomeOK {
		return
	}
	if res.Kind != queue.KindHistory {
		return
	}
	sentences := []persistence.HistorySentence{{SourceText: res.SourceText}}
	translations := []persistence.HistoryTranslation{{TargetText: res.TargetText, Outcome: string(res.Outcome)}}
	if o.store != nil {
		go func() {
			if err := o.store.OnHistoryBlock(sess.cfg.CorrelationID, sentences, translations); err != nil {
				sess.bus.Publish(event.KindStatus, event.Status{Level: event.StatusError, Message: "persistence: " + err.Error()}, time.Now().UnixMilli())
			}
		}()
	}
	if sess.csv != nil {
		go sess.csv.OnHistoryBlock(sentences, translations)
	}
}

// onUserJobResult dispatches a completed user-kind job (§3F) to its
// specific event: generate_vocabulary results become a vocabulary event,
// generate_final_report results become a final_report event and are
// persisted, since the bus never drops final_report (§4.8).
func (o *Orchestrator) onUserJobResult(sess *sessionRuntime, res queue.Result) {
	switch res.LinkedID {
	case "vocabulary":
		sess.bus.Publish(event.KindVocabulary, event.Vocabulary{
			Terms: parseVocabulary(res.TargetText),
			Raw:   res.TargetText,
		}, time.Now().UnixMilli())

	case "final_report":
		sess.bus.Publish(event.KindFinalReport, event.FinalReport{
			Markdown: res.TargetText,
		}, time.Now().UnixMilli())
		if o.store != nil {
			go func() {
				if err := o.store.OnFinalReport(sess.cfg.CorrelationID, res.TargetText); err != nil {
					sess.bus.Publish(event.KindStatus, event.Status{Level: event.StatusError, Message: "persistence: " + err.Error()}, time.Now().UnixMilli())
				}
			}()
		}
	}
}

// parseVocabulary extracts {term, gloss} pairs from the model's vocabulary
// response. The model is prompted to produce one term per line separated
// by a colon or dash; lines that don't match are simply skipped, since Raw
// always carries the full, unparsed response as a fallback render (§3F).
func parseVocabulary(raw string) []event.VocabularyTerm {
	var terms []event.VocabularyTerm
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		if line == "" {
			continue
		}
		sep := strings.IndexAny(line, ":-–—")
		if sep <= 0 || sep == len(line)-1 {
			continue
		}
		term := strings.TrimSpace(line[:sep])
		gloss := strings.TrimSpace(line[sep+1:])
		if term == "" || gloss == "" {
			continue
		}
		terms = append(terms, event.VocabularyTerm{Term: term, Gloss: gloss})
	}
	return terms
}

// PauseListening stops feeding audio while keeping the ASR connection
// open (§4.9: listening -> paused).
func (o *Orchestrator) PauseListening() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.state.Fire(pipeline.EventPauseCommand)
	return err
}

// ResumeListening resumes feeding audio (§4.9: paused -> listening).
func (o *Orchestrator) ResumeListening() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.state.Fire(pipeline.EventResumeCommand)
	return err
}

// SendAudioChunk forwards one PCM16LE frame to the active ASR adapter.
// Rejected unless the pipeline is in StateListening (§4.9 guard).
func (o *Orchestrator) SendAudioChunk(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.CanSendAudio() || o.session == nil {
		return fmt.Errorf("orchestrator: send_audio_chunk rejected in state %s", o.state.Current())
	}
	o.session.a.SendAudio(frame)
	return nil
}

// StopListening runs the teardown sequence in §4.10: stopping ->
// AsrAdapter.finalize -> ForceEmit -> drain the queue with a grace
// period -> idle.
func (o *Orchestrator) StopListening() error {
	o.mu.Lock()
	if _, err := o.state.Fire(pipeline.EventStopCommand); err != nil {
		o.mu.Unlock()
		return err
	}
	sess := o.session
	o.mu.Unlock()

	if sess == nil {
		o.mu.Lock()
		o.state.Fire(pipeline.EventDrained)
		o.mu.Unlock()
		return nil
	}

	sess.a.Finalize()
	sess.comb.ForceEmit()
	sess.para.Flush()

	deadline := time.Now().Add(drainGrace)
	for queued, active := sess.q.Depth(); queued+active > 0; queued, active = sess.q.Depth() {
		if time.Now().After(deadline) {
			slog.Warn("translation queue did not drain within grace period", "correlation_id", sess.cfg.CorrelationID)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	sess.q.Stop()

	sess.cancel()
	sess.wg.Wait()
	sess.a.Close()
	if sess.csv != nil {
		sess.csv.Close()
	}
	if o.store != nil {
		o.store.OnSessionEnd(sess.cfg.CorrelationID)
	}

	sess.bus.Publish(event.KindStatus, event.Status{Level: event.StatusInfo, State: string(pipeline.StateIdle)}, time.Now().UnixMilli())

	o.mu.Lock()
	o.state.Fire(pipeline.EventDrained)
	o.session = nil
	o.mu.Unlock()

	metrics.PipelineState.WithLabelValues(string(pipeline.StateListening)).Set(0)
	metrics.PipelineState.WithLabelValues(string(pipeline.StateIdle)).Set(1)
	slog.Info("session stopped", "correlation_id", sess.cfg.CorrelationID)
	return nil
}

// ClearHistory empties the session's segment store (C3) and, when a
// persistence store is configured, its persisted history. The sentence
// combiner, paragraph builder and summarizer keep their buffers and
// counters, and metrics are not touched.
func (o *Orchestrator) ClearHistory() error {
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("orchestrator: no active session")
	}
	sess.store.Clear()
	if o.store != nil {
		return o.store.ClearHistory(sess.cfg.CorrelationID)
	}
	return nil
}

// GenerateVocabulary enqueues a user/low-priority quality job over the
// full session transcript (§3F).
func (o *Orchestrator) GenerateVocabulary() error {
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("orchestrator: no active session")
	}

	transcript := transcriptOf(sess.store.Snapshot())
	job := queue.Job{
		ID:         sess.jobIDs.Next(),
		Kind:       queue.KindUser,
		Priority:   queue.Low,
		Profile:    llm.ProfileQuality,
		LinkedID:   "vocabulary",
		SourceText: "Extract technical terms and proper nouns with short glosses from this transcript:\n\n" + transcript,
		SourceLang: sess.cfg.SourceLang,
		TargetLang: sess.cfg.TargetLang,
		EnqueuedTS: time.Now().UnixMilli(),
	}
	_, err := sess.q.Enqueue(job)
	return err
}

// GenerateFinalReport enqueues a user/low-priority report-profile job
// over the full transcript (§3F); the bus never drops its result.
func (o *Orchestrator) GenerateFinalReport() error {
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("orchestrator: no active session")
	}

	transcript := transcriptOf(sess.store.Snapshot())
	job := queue.Job{
		ID:         sess.jobIDs.Next(),
		Kind:       queue.KindUser,
		Priority:   queue.Low,
		Profile:    llm.ProfileReport,
		LinkedID:   "final_report",
		SourceText: "Produce a structured Markdown report (headline, chronological sections, vocabulary appendix) from this transcript:\n\n" + transcript,
		SourceLang: sess.cfg.SourceLang,
		TargetLang: sess.cfg.TargetLang,
		EnqueuedTS: time.Now().UnixMilli(),
	}
	_, err := sess.q.Enqueue(job)
	return err
}

func transcriptOf(finals []segment.Final) string {
	out := ""
	for _, f := range finals {
		out += f.Text + " "
	}
	return out
}

// GetHistory is the get_history pass-through (§6.1, §3F).
func (o *Orchestrator) GetHistory(sessionID string, limit, offset int) (persistence.HistoryPage, error) {
	if o.store == nil {
		return persistence.HistoryPage{}, fmt.Errorf("orchestrator: no persistence collaborator configured")
	}
	return o.store.GetHistory(sessionID, limit, offset)
}

// LoadSession is the load_session pass-through (§6.1, §3F).
func (o *Orchestrator) LoadSession(sessionID string) (persistence.SessionMeta, persistence.HistoryPage, error) {
	if o.store == nil {
		return persistence.SessionMeta{}, persistence.HistoryPage{}, fmt.Errorf("orchestrator: no persistence collaborator configured")
	}
	return o.store.LoadSession(sessionID)
}
