package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/genai"
)

// GeminiAdapter implements Adapter against the Gemini API. It falls back
// to a secondary model on 429/503 responses and auto-recovers once the
// cooldown window elapses.
type GeminiAdapter struct {
	client        *genai.Client
	realtimeModel string
	qualityModel  string
	reportModel   string
	fallbackModel string

	degraded  atomic.Bool
	recoverAt atomic.Int64 // unix millis
}

// Option configures a GeminiAdapter.
type Option func(*GeminiAdapter)

// WithFallbackModel overrides the model used when the primary is rate
// limited or unavailable.
func WithFallbackModel(model string) Option {
	return func(a *GeminiAdapter) { a.fallbackModel = model }
}

// WithQualityModel overrides the model used for ProfileQuality jobs
// (vocabulary extraction).
func WithQualityModel(model string) Option {
	return func(a *GeminiAdapter) { a.qualityModel = model }
}

// WithReportModel overrides the model used for ProfileReport jobs (final
// Markdown report).
func WithReportModel(model string) Option {
	return func(a *GeminiAdapter) { a.reportModel = model }
}

// NewGeminiAdapter creates a GeminiAdapter. realtimeModel is used for
// ProfileRealtime jobs; quality/report profiles default to realtimeModel
// unless overridden via options.
func NewGeminiAdapter(ctx context.Context, apiKey, realtimeModel string, opts ...Option) (*GeminiAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	a := &GeminiAdapter{
		client:        client,
		realtimeModel: realtimeModel,
		qualityModel:  realtimeModel,
		reportModel:   realtimeModel,
		fallbackModel: "gemini-2.0-flash",
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// TranslateStream implements Adapter.
func (a *GeminiAdapter) TranslateStream(ctx context.Context, sourceText, sourceLang, targetLang string, profile Profile, deltas func(Delta)) StreamResult {
	if strings.TrimSpace(sourceText) == "" {
		return StreamResult{FinalText: ""}
	}

	prompt := buildPrompt(sourceText, sourceLang, targetLang, profile)
	model := a.activeModel(profile)

	text, err := a.streamOnce(ctx, model, prompt, deltas)
	if err != nil {
		kind := classify(err)
		if kind == ErrorRateLimited || kind == ErrorTransport {
			a.enterDegraded(model)
			fallbackText, fallbackErr := a.streamOnce(ctx, a.fallbackModel, prompt, deltas)
			if fallbackErr != nil {
				return StreamResult{Kind: classify(fallbackErr), Err: fmt.Errorf("gemini translate (fallback): %w", fallbackErr)}
			}
			text = fallbackText
		} else {
			return StreamResult{Kind: kind, Err: fmt.Errorf("gemini translate: %w", err)}
		}
	}

	text = strings.TrimSpace(text)
	if model != a.fallbackModel && looksLikeSource(text, sourceLang, targetLang) {
		slog.Warn("translation returned source language, retrying with fallback",
			"model", model, "source", sourceText, "result", text)
		retryText, retryErr := a.streamOnce(ctx, a.fallbackModel, prompt, deltas)
		if retryErr == nil {
			retryText = strings.TrimSpace(retryText)
			if !looksLikeSource(retryText, sourceLang, targetLang) {
				return StreamResult{FinalText: retryText}
			}
		}
		return StreamResult{FinalText: ""}
	}

	slog.Debug("translated", "from", sourceText, "to", text, "target", targetLang, "model", model, "profile", profile)
	return StreamResult{FinalText: text}
}

// streamOnce drives one genai streaming call, forwarding each delta chunk
// and accumulating the full text.
func (a *GeminiAdapter) streamOnce(ctx context.Context, model, prompt string, deltas func(Delta)) (string, error) {
	var full strings.Builder
	for resp, err := range a.client.Models.GenerateContentStream(ctx, model, genai.Text(prompt), nil) {
		if err != nil {
			return full.String(), err
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if deltas != nil {
			deltas(Delta{Text: chunk})
		}
	}
	return full.String(), nil
}

func buildPrompt(text, sourceLang, targetLang string, profile Profile) string {
	switch profile {
	case ProfileQuality:
		return fmt.Sprintf(
			"Extract technical terms and proper nouns from the following %s transcript. "+
				"For each, give the term and a short %s gloss as \"term — gloss\" lines.\n\n%s",
			sourceLang, targetLang, text)
	case ProfileReport:
		return fmt.Sprintf(
			"Produce a structured Markdown report in %s summarizing the following lecture transcript, "+
				"with a headline and chronological sections.\n\n%s",
			targetLang, text)
	default:
		return fmt.Sprintf(
			"Translate the following %s text to %s. "+
				"Output ONLY the translation, nothing else. "+
				"Keep it natural and concise (suitable for live subtitles). "+
				"For proper nouns and person names, output their romaji/romanization instead of translating them.\n\n%s",
			sourceLang, targetLang, text)
	}
}

// classify maps a raw genai error into the abstract ErrorKind enum (§7).
func classify(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}
	s := err.Error()
	switch {
	case strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED"):
		return ErrorRateLimited
	case strings.Contains(s, "503") || strings.Contains(s, "UNAVAILABLE"):
		return ErrorTransport
	case strings.Contains(s, "401") || strings.Contains(s, "403") || strings.Contains(s, "UNAUTHENTICATED") || strings.Contains(s, "PERMISSION_DENIED"):
		return ErrorAuthInvalid
	case strings.Contains(s, "400") || strings.Contains(s, "INVALID_ARGUMENT"):
		return ErrorBadRequest
	default:
		return ErrorInternal
	}
}

// enterDegraded switches the adapter to the fallback model for 30s.
func (a *GeminiAdapter) enterDegraded(from string) {
	if !a.degraded.Load() {
		slog.Warn("rate limited, falling back", "from", from, "to", a.fallbackModel, "duration", "30s")
	}
	a.degraded.Store(true)
	a.recoverAt.Store(time.Now().Add(30 * time.Second).UnixMilli())
}

// activeModel returns the current model for profile, auto-recovering from
// degraded state once the cooldown has elapsed.
func (a *GeminiAdapter) activeModel(profile Profile) string {
	primary := a.realtimeModel
	switch profile {
	case ProfileQuality:
		primary = a.qualityModel
	case ProfileReport:
		primary = a.reportModel
	}

	if a.degraded.Load() {
		if time.Now().UnixMilli() >= a.recoverAt.Load() {
			a.degraded.Store(false)
			slog.Info("recovered from rate limit, back to primary model", "model", primary)
			return primary
		}
		return a.fallbackModel
	}
	return primary
}

// looksLikeSource checks whether a translation result is still in the
// source language using a character-class heuristic (ja/zh/ko/latin).
func looksLikeSource(text, sourceLang, targetLang string) bool {
	if text == "" {
		return false
	}
	srcShort := strings.SplitN(strings.ToLower(sourceLang), "-", 2)[0]
	tgtShort := strings.SplitN(strings.ToLower(targetLang), "-", 2)[0]
	if srcShort == tgtShort {
		return false
	}

	jaCount, latinCount, cjkCount, total := 0, 0, 0, 0
	for _, r := range text {
		if r < 0x20 || r == ' ' {
			continue
		}
		total++
		switch {
		case (r >= 0x3040 && r <= 0x309F) || (r >= 0x30A0 && r <= 0x30FF):
			jaCount++
		case r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z':
			latinCount++
		case r >= 0x4E00 && r <= 0x9FFF:
			cjkCount++
		}
	}
	if total == 0 {
		return false
	}

	jaRatio := float64(jaCount) / float64(total)
	latinRatio := float64(latinCount) / float64(total)
	cjkRatio := float64(cjkCount) / float64(total)

	if srcShort == "ja" && tgtShort == "zh" && jaRatio > 0.3 {
		return true
	}
	if (tgtShort == "zh" || tgtShort == "ja" || tgtShort == "ko") && latinRatio > 0.5 {
		return true
	}
	if (tgtShort == "en" || tgtShort == "fr" || tgtShort == "de" || tgtShort == "es") && cjkRatio > 0.3 {
		return true
	}
	return false
}

// Close releases adapter resources. The genai client needs no explicit
// close.
func (a *GeminiAdapter) Close() {}
