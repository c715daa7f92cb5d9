// Package llm defines the LlmAdapter contract (§6.4) and a Gemini-backed
// implementation used by the translation queue (C6).
package llm

import "context"

// Profile selects the model/token budget for a job (§6.4); the adapter,
// not the core, maps profile to a concrete model.
type Profile string

const (
	ProfileRealtime Profile = "realtime"
	ProfileQuality  Profile = "quality"
	ProfileReport   Profile = "report"
)

// ErrorKind classifies an adapter failure per §7, carried alongside
// results rather than as distinct Go error types.
type ErrorKind string

const (
	ErrorNone        ErrorKind = ""
	ErrorTransport   ErrorKind = "transport"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorAuthInvalid ErrorKind = "auth"
	ErrorBadRequest  ErrorKind = "bad_request"
	ErrorInternal    ErrorKind = "internal"
)

// Delta is one incremental token batch from a streaming translation.
type Delta struct {
	Text string
}

// StreamResult is the terminal outcome of a translate_stream call.
type StreamResult struct {
	FinalText string
	Kind      ErrorKind
	Err       error
}

// Adapter is the LlmAdapter contract (§6.4): translate_stream streams
// delta tokens on deltas and returns the terminal StreamResult once the
// model signals completion or the adapter gives up. Implementations must
// respect ctx cancellation as an immediate abort point.
type Adapter interface {
	TranslateStream(ctx context.Context, sourceText, sourceLang, targetLang string, profile Profile, deltas func(Delta)) StreamResult
}
