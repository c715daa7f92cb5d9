package persistence

import (
	"os"
	"strings"
	"testing"
)

func TestCSVExporterWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	exp, err := NewCSVExporter(dir, "sess-1")
	if err != nil {
		t.Fatalf("NewCSVExporter returned error: %v", err)
	}
	defer exp.Close()

	err = exp.OnHistoryBlock(
		[]HistorySentence{{SourceText: "Hello."}},
		[]HistoryTranslation{{TargetText: "Bonjour."}},
	)
	if err != nil {
		t.Fatalf("OnHistoryBlock returned error: %v", err)
	}

	data, err := os.ReadFile(exp.Path())
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "source_text,target_text") {
		t.Fatalf("expected header row in %q", content)
	}
	if !strings.Contains(content, "Hello.") || !strings.Contains(content, "Bonjour.") {
		t.Fatalf("expected written row in %q", content)
	}
}

func TestSanitizeReplacesUnsafeCharacters(t *testing.T) {
	got := sanitize(`a/b\c:d*e?f"g<h>i|j`)
	for _, r := range got {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			t.Fatalf("sanitize left unsafe character in %q", got)
		}
	}
}
