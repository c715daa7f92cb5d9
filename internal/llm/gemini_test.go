package llm

import (
	"errors"
	"testing"
)

func TestLooksLikeSourceDetectsLeftoverKana(t *testing.T) {
	if !looksLikeSource("これは日本語です", "ja", "zh") {
		t.Fatal("expected kana-heavy text targeting zh to be flagged as untranslated")
	}
}

func TestLooksLikeSourceAcceptsProperTranslation(t *testing.T) {
	if looksLikeSource("这是中文", "ja", "zh") {
		t.Fatal("expected proper Chinese translation not to be flagged")
	}
}

func TestLooksLikeSourceSameLanguagePairNeverFlagged(t *testing.T) {
	if looksLikeSource("hello there", "en", "en") {
		t.Fatal("same source/target language should never be flagged")
	}
}

func TestLooksLikeSourceEmptyTextNeverFlagged(t *testing.T) {
	if looksLikeSource("", "ja", "zh") {
		t.Fatal("empty text should never be flagged")
	}
}

func TestClassifyMapsKnownErrorStrings(t *testing.T) {
	cases := map[string]ErrorKind{
		"429 RESOURCE_EXHAUSTED":       ErrorRateLimited,
		"503 UNAVAILABLE":              ErrorTransport,
		"401 UNAUTHENTICATED":          ErrorAuthInvalid,
		"400 INVALID_ARGUMENT: field":  ErrorBadRequest,
		"something unexpected blew up": ErrorInternal,
	}
	for msg, want := range cases {
		if got := classify(errors.New(msg)); got != want {
			t.Errorf("classify(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestClassifyNilErrorIsNone(t *testing.T) {
	if got := classify(nil); got != ErrorNone {
		t.Fatalf("expected ErrorNone, got %q", got)
	}
}

func TestBuildPromptVariesByProfile(t *testing.T) {
	realtime := buildPrompt("hello", "en", "ja", ProfileRealtime)
	quality := buildPrompt("hello", "en", "ja", ProfileQuality)
	report := buildPrompt("hello", "en", "ja", ProfileReport)

	if realtime == quality || quality == report || realtime == report {
		t.Fatal("expected distinct prompts per profile")
	}
}
