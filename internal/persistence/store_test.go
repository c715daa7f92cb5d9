package persistence

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOnSessionStartThenLoadSession(t *testing.T) {
	s := newTestStore(t)
	meta := SessionMeta{
		SessionID:     "sess-1",
		CorrelationID: "corr-1",
		SourceLang:    "ja",
		TargetLang:    "en",
		StartedAt:     time.Now().Truncate(time.Second),
	}
	if err := s.OnSessionStart(meta); err != nil {
		t.Fatalf("OnSessionStart returned error: %v", err)
	}

	loaded, _, err := s.LoadSession("sess-1")
	if err != nil {
		t.Fatalf("LoadSession returned error: %v", err)
	}
	if loaded.SourceLang != "ja" || loaded.TargetLang != "en" {
		t.Fatalf("expected loaded langs ja/en, got %s/%s", loaded.SourceLang, loaded.TargetLang)
	}
}

func TestOnHistoryBlockThenGetHistory(t *testing.T) {
	s := newTestStore(t)
	s.OnSessionStart(SessionMeta{SessionID: "sess-1", StartedAt: time.Now()})

	err := s.OnHistoryBlock("sess-1",
		[]HistorySentence{{SourceText: "Hello."}, {SourceText: "How are you?"}},
		[]HistoryTranslation{{TargetText: "Bonjour."}, {TargetText: "Comment ça va ?"}},
	)
	if err != nil {
		t.Fatalf("OnHistoryBlock returned error: %v", err)
	}

	page, err := s.GetHistory("sess-1", 10, 0)
	if err != nil {
		t.Fatalf("GetHistory returned error: %v", err)
	}
	if page.Total != 2 || len(page.Blocks) != 2 {
		t.Fatalf("expected 2 history blocks, got total=%d len=%d", page.Total, len(page.Blocks))
	}
	if page.Blocks[0].SourceText != "Hello." || page.Blocks[0].TargetText != "Bonjour." {
		t.Fatalf("unexpected first block: %+v", page.Blocks[0])
	}
}

func TestClearHistoryThenGetHistoryIsEmpty(t *testing.T) {
	s := newTestStore(t)
	s.OnSessionStart(SessionMeta{SessionID: "sess-1", StartedAt: time.Now()})
	s.OnHistoryBlock("sess-1", []HistorySentence{{SourceText: "x"}}, []HistoryTranslation{{TargetText: "y"}})

	if err := s.ClearHistory("sess-1"); err != nil {
		t.Fatalf("ClearHistory returned error: %v", err)
	}
	page, err := s.GetHistory("sess-1", 10, 0)
	if err != nil {
		t.Fatalf("GetHistory returned error: %v", err)
	}
	if len(page.Blocks) != 0 {
		t.Fatalf("expected empty history after clear, got %d blocks", len(page.Blocks))
	}
}

func TestOnSummaryAndOnFinalReportPersist(t *testing.T) {
	s := newTestStore(t)
	s.OnSessionStart(SessionMeta{SessionID: "sess-1", StartedAt: time.Now()})

	if err := s.OnSummary("sess-1", Summary{Threshold: 400, WordCount: 401, Text: "summary text"}); err != nil {
		t.Fatalf("OnSummary returned error: %v", err)
	}
	if err := s.OnFinalReport("sess-1", "# Report\n\nBody"); err != nil {
		t.Fatalf("OnFinalReport returned error: %v", err)
	}

	var count int
	s.db.QueryRow(`SELECT COUNT(*) FROM summaries WHERE session_id = ?`, "sess-1").Scan(&count)
	if count != 1 {
		t.Fatalf("expected 1 summary row, got %d", count)
	}
	s.db.QueryRow(`SELECT COUNT(*) FROM final_reports WHERE session_id = ?`, "sess-1").Scan(&count)
	if count != 1 {
		t.Fatalf("expected 1 final_report row, got %d", count)
	}
}

func TestOnSessionEndSetsEndedAt(t *testing.T) {
	s := newTestStore(t)
	s.OnSessionStart(SessionMeta{SessionID: "sess-1", StartedAt: time.Now()})

	if err := s.OnSessionEnd("sess-1"); err != nil {
		t.Fatalf("OnSessionEnd returned error: %v", err)
	}
	var endedAt sql.NullString
	s.db.QueryRow(`SELECT ended_at FROM sessions WHERE id = ?`, "sess-1").Scan(&endedAt)
	if !endedAt.Valid || endedAt.String == "" {
		t.Fatal("expected ended_at to be set after OnSessionEnd")
	}
}

func TestMigrateLegacyColumnsFoldsOldTranscriptsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	pre, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	pre.OnSessionStart(SessionMeta{SessionID: "sess-1", StartedAt: time.Now()})
	if _, err := pre.db.Exec(`CREATE TABLE transcripts (session_id TEXT, seq INTEGER, original TEXT, translated TEXT)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := pre.db.Exec(`INSERT INTO transcripts (session_id, seq, original, translated) VALUES ('sess-1', 0, 'legacy src', 'legacy tgt')`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	pre.Close()

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopening NewStore returned error: %v", err)
	}
	defer s.Close()

	page, err := s.GetHistory("sess-1", 10, 0)
	if err != nil {
		t.Fatalf("GetHistory returned error: %v", err)
	}
	if len(page.Blocks) != 1 || page.Blocks[0].SourceText != "legacy src" || page.Blocks[0].TargetText != "legacy tgt" {
		t.Fatalf("expected legacy row folded into history_blocks, got %+v", page.Blocks)
	}
}
