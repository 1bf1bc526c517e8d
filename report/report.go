package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrorEntry records one failed message or link for the run error log.
type ErrorEntry struct {
	Subject   string
	MessageID string
	Reason    string
	Detail    string
}

// Summary accumulates per-run counters. The pipeline owns a single
// Summary and mutates it as messages are handled, so no locking here.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	Files     []string
	Errors    []ErrorEntry
}

func (s *Summary) AddFile(path string) {
	s.Files = append(s.Files, path)
}

func (s *Summary) AddError(entry ErrorEntry) {
	s.Errors = append(s.Errors, entry)
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"processed", s.Processed,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"files", len(s.Files),
		"errors", len(s.Errors),
	}
	if len(s.Errors) > 0 {
		last := s.Errors[len(s.Errors)-1]
		attrs = append(attrs, "lastError", last.Reason+": "+last.Subject)
	}
	return attrs
}

// WriteErrorLog writes the collected errors to a dated log file under dir
// and returns its path. With no errors it writes nothing.
func (s Summary) WriteErrorLog(dir string) (string, error) {
	if len(s.Errors) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create error log dir: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "运行时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "错误数量: %d\n\n", len(s.Errors))
	for _, entry := range s.Errors {
		fmt.Fprintf(&b, "[%s] %s\n", entry.Reason, entry.Subject)
		if entry.Detail != "" {
			fmt.Fprintf(&b, "  详情: %s\n", entry.Detail)
		}
		if entry.MessageID != "" {
			fmt.Fprintf(&b, "  UID: %s\n", entry.MessageID)
		}
		b.WriteString("\n")
	}

	path := filepath.Join(dir, "errors_"+time.Now().Format("20060102")+".log")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write error log: %w", err)
	}
	return path, nil
}
