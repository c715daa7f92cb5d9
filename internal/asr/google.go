package asr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/lectervox/lecturepipe/internal/clock"
	"github.com/lectervox/lecturepipe/internal/metrics"
	"github.com/lectervox/lecturepipe/internal/retry"
)

// GoogleASRAdapter implements Adapter against Google Cloud Speech-to-Text
// v1 streaming recognition.
type GoogleASRAdapter struct {
	client   *speech.Client
	altLangs []string

	endpointingMs  int32
	utteranceEndMs time.Duration
	interim        bool

	ids  *stableSegmentIDTracker
	gate *FrameGate

	state   atomic.Value // State
	segs    chan Segment
	states  chan State
	errs    chan ConnError
	stopped atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	utterTimer *utteranceEndTimer

	mu              sync.Mutex
	lastInterimText string
	lastInterimID   string
	lastEndTS       int64
}

// Option configures a GoogleASRAdapter.
type Option func(*GoogleASRAdapter)

// WithAlternateLanguages sets vendor alternative-language hints.
func WithAlternateLanguages(langs ...string) Option {
	return func(a *GoogleASRAdapter) { a.altLangs = langs }
}

// WithEndpointingMs overrides the vendor endpointing window (default 800).
func WithEndpointingMs(ms int32) Option {
	return func(a *GoogleASRAdapter) { a.endpointingMs = ms }
}

// WithUtteranceEndMs overrides the finalize-on-silence window (default
// 1000ms, §6.3).
func WithUtteranceEndMs(d time.Duration) Option {
	return func(a *GoogleASRAdapter) { a.utteranceEndMs = d }
}

// NewGoogleASRAdapter creates an unconnected GoogleASRAdapter. Call
// Connect to open the stream.
func NewGoogleASRAdapter(ctx context.Context, ids *clock.IDGen, opts ...Option) (*GoogleASRAdapter, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	a := &GoogleASRAdapter{
		client:         client,
		endpointingMs:  800,
		utteranceEndMs: 1000 * time.Millisecond,
		interim:        true,
		gate:           NewFrameGate(0),
		segs:           make(chan Segment, 256),
		states:         make(chan State, 16),
		errs:           make(chan ConnError, 4),
	}
	a.ids = newStableSegmentIDTracker(ids.Next)
	a.setState(StateDisconnected)
	for _, o := range opts {
		o(a)
	}
	a.utterTimer = newUtteranceEndTimer(a.utteranceEndMs, a.finalizeFromTimer)
	return a, nil
}

func (a *GoogleASRAdapter) setState(s State) {
	a.state.Store(s)
	select {
	case a.states <- s:
	default:
	}
}

// State implements Adapter.
func (a *GoogleASRAdapter) State() State {
	if s, ok := a.state.Load().(State); ok {
		return s
	}
	return StateDisconnected
}

// Connect implements Adapter. It opens the stream and starts the
// reconnecting receive loop; reconnection preserves segment id
// continuity via the shared stableSegmentIDTracker.
func (a *GoogleASRAdapter) Connect(sourceLang, targetLangHint string) error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.setState(StateConnecting)
	stream, err := a.openStream(ctx, sourceLang)
	if err != nil {
		a.setState(StateDisconnected)
		a.errs <- ConnError{Kind: classifyConnErr(err), Err: err}
		return err
	}
	a.setState(StateConnected)

	a.wg.Add(2)
	go a.sendLoop(ctx, stream)
	go a.recvLoop(ctx, stream, sourceLang)
	return nil
}

func (a *GoogleASRAdapter) openStream(ctx context.Context, sourceLang string) (speechpb.Speech_StreamingRecognizeClient, error) {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("start streaming: %w", err)
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            16000,
					LanguageCode:               sourceLang,
					AlternativeLanguageCodes:   a.altLangs,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: a.interim,
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("send config: %w", err)
	}
	return stream, nil
}

// sendLoop drains the FrameGate and writes audio content frames to the
// vendor stream; the single writer invariant (§5) is held by this
// goroutine alone.
func (a *GoogleASRAdapter) sendLoop(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient) {
	defer a.wg.Done()
	for {
		frame, ok := a.gate.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				_ = stream.CloseSend()
				return
			case <-a.gate.Wait():
				continue
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: frame},
		}); err != nil {
			slog.Error("asr: send audio error", "err", err)
			return
		}
	}
}

// recvLoop drains vendor results and normalizes them into Segments. On a
// transport error it runs the reconnect policy (§4.1); on auth failure it
// escalates as a fatal ConnError.
func (a *GoogleASRAdapter) recvLoop(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient, sourceLang string) {
	defer a.wg.Done()
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if a.stopped.Load() {
				return
			}
			kind := classifyConnErr(err)
			if kind == ErrorAuthInvalid {
				a.errs <- ConnError{Kind: kind, Err: err}
				return
			}
			a.reconnect(ctx, sourceLang)
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			a.emit(alt.Transcript, result.IsFinal, float64(alt.Confidence), result.GetLanguageCode())
		}
	}
}

// reconnect implements the §4.1 policy: up to N=5 attempts, base 500ms,
// factor 2, jitter ±20%, cap 8s, applying only while state was connected.
func (a *GoogleASRAdapter) reconnect(ctx context.Context, sourceLang string) {
	cfg := retry.Defaults(retry.Transient)
	err := retry.Do(ctx, cfg, func(error) bool { return true }, func(ctx context.Context) error {
		metrics.AsrReconnectsTotal.Inc()
		a.setState(StateConnecting)
		stream, err := a.openStream(ctx, sourceLang)
		if err != nil {
			return err
		}
		a.setState(StateConnected)
		a.wg.Add(2)
		go a.sendLoop(ctx, stream)
		go a.recvLoop(ctx, stream, sourceLang)
		return nil
	})
	if err != nil {
		a.setState(StateDisconnected)
		a.errs <- ConnError{Kind: ErrorTransport, Err: fmt.Errorf("asr reconnect exhausted: %w", err)}
	}
}

// emit normalizes one vendor result into a Segment using the stable-
// prefix id rule and publishes it.
func (a *GoogleASRAdapter) emit(text string, isFinal bool, confidence float64, lang string) {
	id := a.ids.IDFor(text, isFinal)
	now := time.Now().UnixMilli()

	a.mu.Lock()
	startTS := a.lastEndTS
	if startTS == 0 {
		startTS = now
	}
	a.lastEndTS = now
	a.mu.Unlock()

	seg := Segment{ID: id, Text: text, IsFinal: isFinal, Confidence: confidence, StartTS: startTS, EndTS: now, Language: lang}

	if isFinal {
		a.utterTimer.Stop()
		a.mu.Lock()
		a.lastInterimText = ""
		a.lastInterimID = ""
		a.mu.Unlock()
		slog.Info("asr final", "text", text, "lang", lang, "confidence", confidence)
	} else {
		a.mu.Lock()
		a.lastInterimText = text
		a.lastInterimID = id
		a.mu.Unlock()
		a.utterTimer.Reset()
	}
	a.segs <- seg
}

// finalizeFromTimer synthesizes a final for the pending interim after
// utterance_end_ms of silence (§4.1).
func (a *GoogleASRAdapter) finalizeFromTimer() {
	a.mu.Lock()
	text := a.lastInterimText
	id := a.lastInterimID
	a.lastInterimText = ""
	a.lastInterimID = ""
	a.mu.Unlock()

	if text == "" {
		return
	}
	// Retire the in-flight id so the next interim starts a new segment.
	a.ids.IDFor(text, true)
	now := time.Now().UnixMilli()
	a.segs <- Segment{ID: id, Text: text, IsFinal: true, StartTS: now, EndTS: now}
}

// SendAudio implements Adapter.
func (a *GoogleASRAdapter) SendAudio(frame []byte) {
	a.gate.Push(frame)
}

// Finalize implements Adapter: it flushes any pending interim
// immediately rather than waiting for the silence timer.
func (a *GoogleASRAdapter) Finalize() {
	a.finalizeFromTimer()
}

// Close implements Adapter.
func (a *GoogleASRAdapter) Close() error {
	a.stopped.Store(true)
	a.setState(StateDraining)
	if a.cancel != nil {
		a.cancel()
	}
	a.utterTimer.Stop()
	a.wg.Wait()
	a.setState(StateDisconnected)
	return a.client.Close()
}

// Segments implements Adapter.
func (a *GoogleASRAdapter) Segments() <-chan Segment { return a.segs }

// StateChanges implements Adapter.
func (a *GoogleASRAdapter) StateChanges() <-chan State { return a.states }

// Errors implements Adapter.
func (a *GoogleASRAdapter) Errors() <-chan ConnError { return a.errs }

// DroppedFrames implements Adapter.
func (a *GoogleASRAdapter) DroppedFrames() int { return a.gate.Dropped() }

func classifyConnErr(err error) ErrorKind {
	if err == nil {
		return ErrorTransport
	}
	s := err.Error()
	for _, marker := range []string{"PERMISSION_DENIED", "UNAUTHENTICATED", "401", "403"} {
		if strings.Contains(s, marker) {
			return ErrorAuthInvalid
		}
	}
	return ErrorTransport
}
