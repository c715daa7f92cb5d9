// Package persistence implements the best-effort collaborator described
// in spec §6.5: on_history_block, on_summary, on_final_report,
// on_session_start, and on_session_end. Every call here is advisory and
// never fails the pipeline. The orchestrator surfaces OnHistoryBlock and
// OnFinalReport failures as status events; it discards the errors of
// OnSessionStart, OnSummary and OnSessionEnd.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// HistorySentence is one combined-sentence/paragraph unit persisted
// alongside its translation.
type HistorySentence struct {
	SegmentIDs []string
	SourceText string
	StartTS    int64
	EndTS      int64
}

// HistoryTranslation is the translation paired with a HistorySentence
// at the same index.
type HistoryTranslation struct {
	TargetText string
	Outcome    string
}

// SessionMeta is the immutable session metadata captured at
// start_listening and handed to on_session_start.
type SessionMeta struct {
	SessionID     string
	CorrelationID string
	SourceLang    string
	TargetLang    string
	StartedAt     time.Time
}

// Summary is a progressive-summary snapshot persisted at each
// threshold crossing.
type Summary struct {
	Threshold int
	WordCount int
	Text      string
}

// HistoryPage is a page of persisted history blocks, newest-last
// within the page, returned by get_history.
type HistoryPage struct {
	Blocks []HistoryBlock
	Total  int
}

// HistoryBlock is one persisted (source_text, target_text) pair.
type HistoryBlock struct {
	Seq        int64
	SourceText string
	TargetText string
	CreatedAt  time.Time
}

// Store is the SQLite-backed persistence collaborator.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the SQLite database at path
// and applies its schema migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite only supports one writer at a time; limit the pool to one
	// connection to avoid SQLITE_BUSY under concurrent orchestrator access.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.migrateLegacyColumns(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate legacy columns: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			source_lang TEXT NOT NULL,
			target_lang TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS history_blocks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			source_text TEXT NOT NULL,
			target_text TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now', 'localtime')),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_history_session_seq ON history_blocks(session_id, seq);
		CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			threshold INTEGER NOT NULL,
			word_count INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now', 'localtime')),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS final_reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			markdown TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now', 'localtime')),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`)
	return err
}

// migrateLegacyColumns folds rows from a pre-standardization
// "transcripts" table (original/translated columns, per spec §9's
// note on the source's two field-name conventions) into
// history_blocks, then drops the legacy table. A fresh database has no
// such table and this is a no-op.
func (s *Store) migrateLegacyColumns() error {
	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name='transcripts'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	// Read through the transaction: the pool holds a single connection, so
	// an open query on s.db would keep Begin waiting forever.
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT session_id, seq, original, translated FROM transcripts ORDER BY session_id, seq`)
	if err != nil {
		return fmt.Errorf("read legacy transcripts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID string
		var seq int64
		var original, translated string
		if err := rows.Scan(&sessionID, &seq, &original, &translated); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO history_blocks (session_id, seq, source_text, target_text) VALUES (?, ?, ?, ?)`,
			sessionID, seq, original, translated,
		); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if _, err := tx.Exec(`DROP TABLE transcripts`); err != nil {
		return err
	}
	return tx.Commit()
}

// OnSessionStart records a new session. Called once at start_listening
// with the immutable SessionConfig snapshot.
func (s *Store) OnSessionStart(meta SessionMeta) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, correlation_id, source_lang, target_lang, started_at) VALUES (?, ?, ?, ?, ?)`,
		meta.SessionID, meta.CorrelationID, meta.SourceLang, meta.TargetLang, meta.StartedAt.Format(time.RFC3339),
	)
	return err
}

// OnHistoryBlock persists a batch of combined sentences paired with
// their translations. sentences and translations are parallel slices
// of equal length; a short translations slice leaves the remainder
// untranslated (empty target_text).
func (s *Store) OnHistoryBlock(sessionID string, sentences []HistorySentence, translations []HistoryTranslation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var nextSeq int64
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM history_blocks WHERE session_id = ?`, sessionID,
	).Scan(&nextSeq); err != nil {
		return err
	}

	for i, sent := range sentences {
		var target string
		if i < len(translations) {
			target = translations[i].TargetText
		}
		if _, err := tx.Exec(
			`INSERT INTO history_blocks (session_id, seq, source_text, target_text) VALUES (?, ?, ?, ?)`,
			sessionID, nextSeq+int64(i), sent.SourceText, target,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// OnSummary persists a progressive-summary snapshot.
func (s *Store) OnSummary(sessionID string, summary Summary) error {
	_, err := s.db.Exec(
		`INSERT INTO summaries (session_id, threshold, word_count, text) VALUES (?, ?, ?, ?)`,
		sessionID, summary.Threshold, summary.WordCount, summary.Text,
	)
	return err
}

// OnFinalReport persists the generated Markdown report.
func (s *Store) OnFinalReport(sessionID, markdown string) error {
	_, err := s.db.Exec(
		`INSERT INTO final_reports (session_id, markdown) VALUES (?, ?)`,
		sessionID, markdown,
	)
	return err
}

// OnSessionEnd marks the session as ended.
func (s *Store) OnSessionEnd(sessionID string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339), sessionID,
	)
	return err
}

// GetHistory implements the get_history command's pass-through (§6.1,
// §3F): a page of history blocks for sessionID, newest-last, with an
// accompanying total count.
func (s *Store) GetHistory(sessionID string, limit, offset int) (HistoryPage, error) {
	if limit <= 0 {
		limit = 100
	}
	var total int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM history_blocks WHERE session_id = ?`, sessionID,
	).Scan(&total); err != nil {
		return HistoryPage{}, err
	}

	rows, err := s.db.Query(
		`SELECT seq, source_text, target_text, created_at FROM history_blocks
		 WHERE session_id = ? ORDER BY seq ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return HistoryPage{}, err
	}
	defer rows.Close()

	page := HistoryPage{Total: total}
	for rows.Next() {
		var b HistoryBlock
		var createdAt string
		if err := rows.Scan(&b.Seq, &b.SourceText, &b.TargetText, &createdAt); err != nil {
			return HistoryPage{}, err
		}
		b.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		page.Blocks = append(page.Blocks, b)
	}
	return page, rows.Err()
}

// ClearHistory implements the clear_history command: deletes all
// history blocks for sessionID so a subsequent GetHistory returns
// empty (§8 round-trip property).
func (s *Store) ClearHistory(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM history_blocks WHERE session_id = ?`, sessionID)
	return err
}

// LoadSession implements the load_session command's pass-through:
// returns the session's metadata and its full history.
func (s *Store) LoadSession(sessionID string) (SessionMeta, HistoryPage, error) {
	var meta SessionMeta
	var startedAt string
	err := s.db.QueryRow(
		`SELECT id, correlation_id, source_lang, target_lang, started_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&meta.SessionID, &meta.CorrelationID, &meta.SourceLang, &meta.TargetLang, &startedAt)
	if err != nil {
		return SessionMeta{}, HistoryPage{}, fmt.Errorf("load session: %w", err)
	}
	meta.StartedAt, _ = time.Parse(time.RFC3339, startedAt)

	page, err := s.GetHistory(sessionID, 0, 0)
	if err != nil {
		return meta, HistoryPage{}, err
	}
	if page.Total > 0 {
		page, err = s.GetHistory(sessionID, page.Total, 0)
		if err != nil {
			return meta, HistoryPage{}, err
		}
	}
	return meta, page, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
