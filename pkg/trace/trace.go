// Package trace appends run outcomes to daily rotated JSONL files.
// Every entry is masked before it reaches disk so credentials pasted into
// chat never land in a trace file.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"conductor/pkg/session"
)

// Entry is one trace line. Omitted fields stay off the line entirely.
type Entry struct {
	Timestamp    string               `json:"timestamp"`
	RunID        string               `json:"run_id,omitempty"`
	SessionKey   string               `json:"session_key,omitempty"`
	Mode         session.Mode         `json:"mode,omitempty"`
	ReviewRound  int                  `json:"review_round,omitempty"`
	ReviewResult session.ReviewResult `json:"review_result,omitempty"`
	InputKind    string               `json:"input_kind,omitempty"`
	InputText    string               `json:"input_text,omitempty"`
	OutputText   string               `json:"output_text,omitempty"`
	Status       string               `json:"status,omitempty"`
	LatencyMS    int64                `json:"latency_ms,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

var (
	keyValuePattern = regexp.MustCompile(`(?i)(token|api[_-]?key|authorization)\s*[:=]\s*([^\s,;]+)`)
	bearerPattern   = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]+`)
)

// Mask redacts credential-looking substrings.
func Mask(s string) string {
	masked := keyValuePattern.ReplaceAllString(s, "$1=***")
	masked = bearerPattern.ReplaceAllString(masked, "Bearer ***")
	return masked
}

// Writer appends masked entries to one JSONL file per UTC day.
type Writer struct {
	dir         string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string

	now func() time.Time // test hook
}

// NewWriter creates a trace writer in dir, creating it with owner-only
// permissions.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	return &Writer{dir: dir, now: time.Now}, nil
}

// Dir returns the trace directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Append masks and writes one entry, rotating to a new file at UTC
// midnight. The file is synced per write; trace loss on crash would
// defeat its purpose.
func (w *Writer) Append(e *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	if err := w.rotateIfNeeded(now); err != nil {
		return fmt.Errorf("failed to rotate trace file: %w", err)
	}

	masked := *e
	masked.InputText = Mask(e.InputText)
	masked.OutputText = Mask(e.OutputText)
	masked.ErrorMessage = Mask(e.ErrorMessage)
	if masked.Timestamp == "" {
		masked.Timestamp = now.Format(time.RFC3339)
	}

	data, err := json.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("failed to serialize trace entry: %w", err)
	}

	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded(now time.Time) error {
	date := now.Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close trace file: %w", err)
		}
		w.currentFile = nil
	}

	path := filepath.Join(w.dir, fmt.Sprintf("trace-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open trace file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = date
	return nil
}

// CurrentFile returns the path of the active trace file, or "" before the
// first write.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.dir, fmt.Sprintf("trace-%s.jsonl", w.currentDate))
}

// Close closes the current trace file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close trace file: %w", err)
		}
	}
	return nil
}

// ReadEntries reads and parses entries from a trace file.
func ReadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	var entries []Entry
	var line []byte
	flush := func() error {
		if len(line) == 0 {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("failed to parse trace entry: %w", err)
		}
		entries = append(entries, e)
		line = line[:0]
		return nil
	}
	for _, b := range data {
		if b == '\n' {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		line = append(line, b)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListFiles returns all trace files in dir, oldest first.
func ListFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "trace-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list trace files: %w", err)
	}
	return files, nil
}
