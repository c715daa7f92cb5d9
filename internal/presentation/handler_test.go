package presentation

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lectervox/lecturepipe/internal/asr"
	"github.com/lectervox/lecturepipe/internal/clock"
	"github.com/lectervox/lecturepipe/internal/config"
	"github.com/lectervox/lecturepipe/internal/llm"
	"github.com/lectervox/lecturepipe/internal/orchestrator"
)

type fakeAsr struct {
	segments chan asr.Segment
	errs     chan asr.ConnError
	states   chan asr.State
}

func newFakeAsr() *fakeAsr {
	return &fakeAsr{
		segments: make(chan asr.Segment, 8),
		errs:     make(chan asr.ConnError, 4),
		states:   make(chan asr.State, 4),
	}
}

func (f *fakeAsr) Connect(sourceLang, targetLangHint string) error { return nil }
func (f *fakeAsr) SendAudio(frame []byte)                          {}
func (f *fakeAsr) Finalize()                                       {}
func (f *fakeAsr) Close() error {
	return nil
}
func (f *fakeAsr) Segments() <-chan asr.Segment   { return f.segments }
func (f *fakeAsr) StateChanges() <-chan asr.State { return f.states }
func (f *fakeAsr) Errors() <-chan asr.ConnError    { return f.errs }
func (f *fakeAsr) State() asr.State                { return asr.StateConnected }
func (f *fakeAsr) DroppedFrames() int              { return 0 }

type fakeLLM struct{}

func (fakeLLM) TranslateStream(ctx context.Context, sourceText, sourceLang, targetLang string, profile llm.Profile, deltas func(llm.Delta)) llm.StreamResult {
	return llm.StreamResult{FinalText: sourceText}
}

func testOrchestrator() *orchestrator.Orchestrator {
	cfg := &config.Config{
		Combiner:   config.CombinerConfig{MinSegments: 1, MaxSegments: 3, TimeoutMs: 50},
		Paragraph:  config.ParagraphConfig{Enabled: false, TargetMinSeconds: 20, TargetMaxSeconds: 60},
		Queue:      config.QueueConfig{MaxQueue: 32, MaxConcurrency: 2, RequestTimeoutMs: 2000, MaxWaitMs: 5000},
		Coalescer:  config.CoalescerConfig{DebounceMs: 10, MaxHoldMs: 50},
		Summarizer: config.SummarizerConfig{Thresholds: []int{5}, Increment: 5},
	}
	newAsr := func(ctx context.Context, ids *clock.IDGen) (asr.Adapter, error) {
		return newFakeAsr(), nil
	}
	return orchestrator.New(cfg, fakeLLM{}, newAsr, nil)
}

func dialTestServer(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return out
}

func TestStartListeningReturnsAckWithCorrelationID(t *testing.T) {
	h := NewHandler(testOrchestrator())
	conn := dialTestServer(t, h)

	conn.WriteJSON(commandEnvelope{Command: "start_listening", Params: json.RawMessage(`{"source_lang":"ja","target_lang":"en"}`)})
	reply := readJSON(t, conn, 2*time.Second)

	if reply["kind"] != "ack" {
		t.Fatalf("expected ack, got %+v", reply)
	}
	if reply["correlation_id"] == "" || reply["correlation_id"] == nil {
		t.Fatalf("expected a correlation_id in ack, got %+v", reply)
	}
}

func TestUnknownCommandReturnsBadRequest(t *testing.T) {
	h := NewHandler(testOrchestrator())
	conn := dialTestServer(t, h)

	conn.WriteJSON(commandEnvelope{Command: "levitate", Params: json.RawMessage(`{}`)})
	reply := readJSON(t, conn, 2*time.Second)

	if reply["kind"] != "error" || reply["code"] != "bad_request" {
		t.Fatalf("expected bad_request error, got %+v", reply)
	}
}

func TestUnknownFieldInParamsReturnsBadRequest(t *testing.T) {
	h := NewHandler(testOrchestrator())
	conn := dialTestServer(t, h)

	conn.WriteJSON(commandEnvelope{Command: "start_listening", Params: json.RawMessage(`{"source_lang":"ja","target_lang":"en","bogus":true}`)})
	reply := readJSON(t, conn, 2*time.Second)

	if reply["kind"] != "error" || reply["code"] != "bad_request" {
		t.Fatalf("expected bad_request error for unknown field, got %+v", reply)
	}
}

func TestStopListeningWithoutActiveSessionReturnsError(t *testing.T) {
	h := NewHandler(testOrchestrator())
	conn := dialTestServer(t, h)

	conn.WriteJSON(commandEnvelope{Command: "stop_listening", Params: json.RawMessage(`{}`)})
	reply := readJSON(t, conn, 2*time.Second)

	if reply["kind"] != "error" {
		t.Fatalf("expected error stopping a session that never started, got %+v", reply)
	}
}
