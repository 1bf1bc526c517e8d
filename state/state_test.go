package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpen_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.IsKnown("mbox::x") {
		t.Error("Expected empty store for missing file")
	}
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := s.Summary().Total; got != 0 {
		t.Errorf("Expected empty store for corrupt file, got %d entries", got)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("", testLogger()); err == nil {
		t.Error("Expected error for empty state path")
	}
}

func TestMarkDone_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.MarkDone("INBOX::42", "三月发票", []string{"/tmp/a.pdf"}); err != nil {
		t.Fatalf("MarkDone() error = %v", err)
	}

	reloaded, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() after save error = %v", err)
	}
	entry, ok := reloaded.Entry("INBOX::42")
	if !ok {
		t.Fatal("Expected entry to survive reload")
	}
	if entry.Status != StatusDone {
		t.Errorf("Status = %q, want %q", entry.Status, StatusDone)
	}
	if len(entry.OutputFiles) != 1 || entry.OutputFiles[0] != "/tmp/a.pdf" {
		t.Errorf("OutputFiles = %v", entry.OutputFiles)
	}
	if _, err := time.Parse(time.RFC3339, entry.ProcessedAt); err != nil {
		t.Errorf("ProcessedAt %q is not RFC3339: %v", entry.ProcessedAt, err)
	}
}

func TestMarkDone_NilFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.MarkDone("INBOX::1", "subject", nil); err != nil {
		t.Fatalf("MarkDone() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := raw["INBOX::1"]["output_files"].([]any); !ok {
		t.Error("Expected output_files to serialize as an array, not null")
	}
}

func TestKnownIDs_ExcludesFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.MarkDone("INBOX::1", "done one", []string{"/tmp/a.pdf"}); err != nil {
		t.Fatalf("MarkDone() error = %v", err)
	}
	if err := s.MarkFailed("INBOX::2", "broken one", "URL无法下载"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	known := s.KnownIDs()
	if _, ok := known["INBOX::1"]; !ok {
		t.Error("Expected done entry in KnownIDs")
	}
	if _, ok := known["INBOX::2"]; ok {
		t.Error("Expected failed entry to be retried, not skipped")
	}

	// Both are still known to exist.
	if !s.IsKnown("INBOX::2") {
		t.Error("Expected failed entry to be recorded")
	}
}

func TestOpen_ToleratesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ledger := `{
  "INBOX::7": {
    "subject": "旧版本条目",
    "processed_at": "2025-01-02T03:04:05Z",
    "output_files": ["/tmp/x.pdf"],
    "status": "done",
    "some_future_field": {"nested": true}
  }
}`
	if err := os.WriteFile(path, []byte(ledger), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	entry, ok := s.Entry("INBOX::7")
	if !ok {
		t.Fatal("Expected entry despite unknown fields")
	}
	if entry.Subject != "旧版本条目" {
		t.Errorf("Subject = %q", entry.Subject)
	}
}

func TestSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC) }

	_ = s.MarkDone("a::1", "a", []string{"f"})
	_ = s.MarkDone("a::2", "b", []string{"g"})
	_ = s.MarkFailed("a::3", "c", "解析失败")

	sum := s.Summary()
	if sum.Total != 3 || sum.Done != 2 || sum.Failed != 1 {
		t.Errorf("Summary = %+v, want total=3 done=2 failed=1", sum)
	}
}

func TestSave_LeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.MarkDone("a::1", "a", []string{"f"}); err != nil {
		t.Fatalf("MarkDone() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temp file to be renamed away")
	}
}
