package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Entry records the outcome of one processed message. Unknown fields in an
// existing ledger are preserved-by-ignore: decoding tolerates them and the
// full rewrite only emits the fields below.
type Entry struct {
	Subject     string   `json:"subject"`
	ProcessedAt string   `json:"processed_at"`
	OutputFiles []string `json:"output_files"`
	Status      string   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
}

// Store is the idempotency ledger: a JSON object on disk mapping message
// ids (folder::uid) to entries. Every mutation rewrites the whole file via
// a temp file and rename, so a crash never leaves a torn ledger behind.
type Store struct {
	path    string
	entries map[string]Entry
	logger  *slog.Logger
	now     func() time.Time
}

// Open loads the ledger at path. A missing file starts empty; a corrupt
// file is logged and also starts empty, so a damaged ledger never blocks a
// run (the worst case is reprocessing).
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:    path,
		entries: make(map[string]Entry),
		logger:  logger,
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		logger.Warn("state file is corrupt, starting from empty state", "path", path, "err", err)
		s.entries = make(map[string]Entry)
	}

	return s, nil
}

// IsKnown reports whether any entry exists for the message id.
func (s *Store) IsKnown(id string) bool {
	_, ok := s.entries[id]
	return ok
}

// KnownIDs returns the ids that should be skipped on this run. Failed
// entries are excluded so broken messages are retried until they succeed.
func (s *Store) KnownIDs() map[string]struct{} {
	known := make(map[string]struct{}, len(s.entries))
	for id, entry := range s.entries {
		if entry.Status == StatusDone {
			known[id] = struct{}{}
		}
	}
	return known
}

// All returns a copy of every recorded entry keyed by message id.
func (s *Store) All() map[string]Entry {
	entries := make(map[string]Entry, len(s.entries))
	for id, entry := range s.entries {
		entries[id] = entry
	}
	return entries
}

// Entry returns the recorded entry for id, if any.
func (s *Store) Entry(id string) (Entry, bool) {
	entry, ok := s.entries[id]
	return entry, ok
}

// MarkDone records a successful message and persists the ledger.
func (s *Store) MarkDone(id, subject string, outputFiles []string) error {
	if outputFiles == nil {
		outputFiles = []string{}
	}
	s.entries[id] = Entry{
		Subject:     subject,
		ProcessedAt: s.now().Format(time.RFC3339),
		OutputFiles: outputFiles,
		Status:      StatusDone,
	}
	return s.save()
}

// MarkFailed records a failed message and persists the ledger.
func (s *Store) MarkFailed(id, subject, reason string) error {
	s.entries[id] = Entry{
		Subject:     subject,
		ProcessedAt: s.now().Format(time.RFC3339),
		OutputFiles: []string{},
		Status:      StatusFailed,
		Reason:      reason,
	}
	return s.save()
}

// Summary aggregates the ledger for reporting.
type Summary struct {
	Total  int
	Done   int
	Failed int
}

func (s *Store) Summary() Summary {
	sum := Summary{Total: len(s.entries)}
	for _, entry := range s.entries {
		switch entry.Status {
		case StatusDone:
			sum.Done++
		case StatusFailed:
			sum.Failed++
		}
	}
	return sum
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
