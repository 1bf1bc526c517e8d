package filer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fapiaokit/invoice-collector/invoice"
)

func parsedFields() invoice.Fields {
	return invoice.Fields{
		Date:    "20250305",
		Amount:  "1234.56",
		Service: "豪华间",
		ParseOK: true,
	}
}

func TestPlace_ByMonth(t *testing.T) {
	base := t.TempDir()
	r := New(base, false)

	path, err := r.Place([]byte("%PDF"), parsedFields(), "住宿发票", ".pdf")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}

	want := filepath.Join(base, "2025年03月", "20250305_1234.56_住宿发票.pdf")
	if path != want {
		t.Errorf("Place() = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "%PDF" {
		t.Errorf("File content = %q", data)
	}
}

func TestPlace_ConflictSuffix(t *testing.T) {
	base := t.TempDir()
	r := New(base, false)

	first, err := r.Place([]byte("one"), parsedFields(), "住宿发票", ".pdf")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	second, err := r.Place([]byte("two"), parsedFields(), "住宿发票", ".pdf")
	if err != nil {
		t.Fatalf("Place() second error = %v", err)
	}

	if first == second {
		t.Fatalf("Expected distinct paths, both %q", first)
	}
	want := filepath.Join(base, "2025年03月", "20250305_1234.56_住宿发票_2.pdf")
	if second != want {
		t.Errorf("second = %q, want %q", second, want)
	}
	third, err := r.Place([]byte("three"), parsedFields(), "住宿发票", ".pdf")
	if err != nil {
		t.Fatalf("Place() third error = %v", err)
	}
	if filepath.Base(third) != "20250305_1234.56_住宿发票_3.pdf" {
		t.Errorf("third = %q", third)
	}

	// Both payloads survived.
	if data, _ := os.ReadFile(first); string(data) != "one" {
		t.Errorf("first content = %q", data)
	}
	if data, _ := os.ReadFile(second); string(data) != "two" {
		t.Errorf("second content = %q", data)
	}
}

func TestPlace_Unclassified(t *testing.T) {
	base := t.TempDir()
	r := New(base, false)

	fields := invoice.Fields{RawText: "garbage", ParseOK: false}
	path, err := r.Place([]byte("PK\x03\x04"), fields, "其他发票", ".ofd")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	want := filepath.Join(base, UnclassifiedDir, "unknown.ofd")
	if path != want {
		t.Errorf("Place() = %q, want %q", path, want)
	}
	if !Unclassified(fields) {
		t.Error("Expected Unclassified() to report the fallback bucket")
	}
}

func TestPlace_MissingFieldPlaceholders(t *testing.T) {
	base := t.TempDir()
	r := New(base, false)

	fields := invoice.Fields{Amount: "88.00", ParseOK: true}
	path, err := r.Place([]byte("x"), fields, "其他发票", ".pdf")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	want := filepath.Join(base, UnclassifiedDir, "UNKNOWN_88.00_其他发票.pdf")
	if path != want {
		t.Errorf("Place() = %q, want %q", path, want)
	}

	fields = invoice.Fields{Date: "20250305", ParseOK: true}
	path, err = r.Place([]byte("x"), fields, "其他发票", ".pdf")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	want = filepath.Join(base, "2025年03月", "20250305_0.00_其他发票.pdf")
	if path != want {
		t.Errorf("Place() = %q, want %q", path, want)
	}
}

func TestPlace_Preview(t *testing.T) {
	base := t.TempDir()
	r := New(base, true)

	path, err := r.Place([]byte("%PDF"), parsedFields(), "住宿发票", ".pdf")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if path == "" {
		t.Fatal("Expected computed path in preview mode")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected preview mode to write nothing")
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no directories created, found %d", len(entries))
	}
}

func TestPlace_PreviewResolvesConflicts(t *testing.T) {
	base := t.TempDir()

	// Populate the archive first; a preview against it must report the
	// suffixed path a real run would use.
	if _, err := New(base, false).Place([]byte("one"), parsedFields(), "住宿发票", ".pdf"); err != nil {
		t.Fatalf("Place() error = %v", err)
	}

	path, err := New(base, true).Place([]byte("two"), parsedFields(), "住宿发票", ".pdf")
	if err != nil {
		t.Fatalf("Place() preview error = %v", err)
	}
	want := filepath.Join(base, "2025年03月", "20250305_1234.56_住宿发票_2.pdf")
	if path != want {
		t.Errorf("Place() preview = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected preview to write nothing")
	}
}
