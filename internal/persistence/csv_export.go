package persistence

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CSVExporter writes one CSV file per session, alongside the SQLite
// store, for operators who want a plain-text transcript. One file is
// created per session (start_listening -> stop_listening) and columns
// are standardized on source_text/target_text (§9's compatibility
// note applies only to reading older files, not to new output).
type CSVExporter struct {
	mu        sync.Mutex
	file      *os.File
	writer    *csv.Writer
	sessionID string
	startTime time.Time
}

// NewCSVExporter creates a transcript file for sessionID under dir,
// named <dir>/<session_id>_<date>_<time>.csv.
func NewCSVExporter(dir, sessionID string) (*CSVExporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	now := time.Now()
	filename := fmt.Sprintf("%s_%s.csv", sanitize(sessionID), now.Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create transcript file: %w", err)
	}

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		f.Close()
		return nil, fmt.Errorf("write BOM: %w", err)
	}

	w := csv.NewWriter(f)
	w.Write([]string{"elapsed", "source_text", "target_text"})
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &CSVExporter{
		file:      f,
		writer:    w,
		sessionID: sessionID,
		startTime: now,
	}, nil
}

// OnHistoryBlock appends the sentence/translation pairs to the CSV.
// Satisfies the same best-effort shape as Store.OnHistoryBlock so the
// orchestrator can fan a single history block out to both collaborators.
func (e *CSVExporter) OnHistoryBlock(sentences []HistorySentence, translations []HistoryTranslation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		return fmt.Errorf("csv exporter closed")
	}
	for i, sent := range sentences {
		var target string
		if i < len(translations) {
			target = translations[i].TargetText
		}
		elapsed := time.Since(e.startTime)
		row := fmt.Sprintf("%d:%02d", int(elapsed.Minutes()), int(elapsed.Seconds())%60)
		if err := e.writer.Write([]string{row, sent.SourceText, target}); err != nil {
			return err
		}
	}
	e.writer.Flush()
	return e.writer.Error()
}

// Path returns the CSV file's path.
func (e *CSVExporter) Path() string {
	if e.file == nil {
		return ""
	}
	return e.file.Name()
}

// Close flushes and closes the file.
func (e *CSVExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer != nil {
		e.writer.Flush()
	}
	if e.file != nil {
		return e.file.Close()
	}
	return nil
}

// sanitize makes a filename-safe string.
func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			out = append(out, '_')
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}
