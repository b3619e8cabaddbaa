package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"pricewatch/internal/history"
	"pricewatch/internal/rules"
)

var (
	// ErrStateNotFound means the state document does not exist yet.
	ErrStateNotFound = errors.New("storage: state file not found")
	// ErrCorruptState means the state document could not be decoded.
	ErrCorruptState = errors.New("storage: state file corrupt")
)

// RulesFile persists the rule registry document as JSON.
type RulesFile struct {
	path string
	mu   sync.Mutex
}

// NewRulesFile binds a rules document to path.
func NewRulesFile(path string) *RulesFile {
	return &RulesFile{path: path}
}

// Path returns the backing file location.
func (f *RulesFile) Path() string { return f.path }

// Load reads the document. Missing files yield ErrStateNotFound and
// undecodable ones ErrCorruptState.
func (f *RulesFile) Load() (rules.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var state rules.State
	if err := readJSON(f.path, &state); err != nil {
		return rules.State{}, err
	}
	return state, nil
}

// SaveRules rewrites the whole document atomically.
func (f *RulesFile) SaveRules(state rules.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeJSON(f.path, state)
}

// HistoryFile persists the price history document as JSON.
type HistoryFile struct {
	path string
	mu   sync.Mutex
}

// NewHistoryFile binds a history document to path.
func NewHistoryFile(path string) *HistoryFile {
	return &HistoryFile{path: path}
}

// Path returns the backing file location.
func (f *HistoryFile) Path() string { return f.path }

// Load reads the document with the same error contract as RulesFile.Load.
func (f *HistoryFile) Load() (history.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := make(history.Document)
	if err := readJSON(f.path, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveHistory rewrites the whole document atomically.
func (f *HistoryFile) SaveHistory(doc history.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeJSON(f.path, doc)
}

var (
	_ rules.Persister   = (*RulesFile)(nil)
	_ history.Persister = (*HistoryFile)(nil)
)

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrStateNotFound
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}
	return nil
}

// writeJSON writes to a sibling temp file and renames it over path so a
// crash never leaves a half-written document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
