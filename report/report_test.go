package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSummary_LogAttrs(t *testing.T) {
	var s Summary
	s.Processed = 2
	s.Skipped = 1
	s.AddFile("/tmp/a.pdf")
	s.AddError(ErrorEntry{Subject: "坏邮件", MessageID: "INBOX::9", Reason: "URL无法下载"})

	attrs := s.LogAttrs()
	if len(attrs)%2 != 0 {
		t.Fatalf("LogAttrs() returned odd-length slice: %v", attrs)
	}
	found := false
	for i := 0; i < len(attrs); i += 2 {
		if attrs[i] == "lastError" {
			found = true
			if !strings.Contains(attrs[i+1].(string), "URL无法下载") {
				t.Errorf("lastError = %v", attrs[i+1])
			}
		}
	}
	if !found {
		t.Error("Expected lastError attr when errors exist")
	}
}

func TestWriteErrorLog(t *testing.T) {
	dir := t.TempDir()
	var s Summary
	s.AddError(ErrorEntry{
		Subject:   "三月发票",
		MessageID: "INBOX::42",
		Reason:    "解析失败→未归类",
		Detail:    "unknown.pdf",
	})
	s.AddError(ErrorEntry{Subject: "无详情", MessageID: "mbox::x", Reason: "无发票内容"})

	path, err := s.WriteErrorLog(dir)
	if err != nil {
		t.Fatalf("WriteErrorLog() error = %v", err)
	}
	wantName := "errors_" + time.Now().Format("20060102") + ".log"
	if filepath.Base(path) != wantName {
		t.Errorf("path = %q, want dated name %q", path, wantName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"[解析失败→未归类] 三月发票",
		"详情: unknown.pdf",
		"UID: INBOX::42",
		"[无发票内容] 无详情",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Log missing %q in:\n%s", want, content)
		}
	}
	if strings.Contains(content, "详情: \n") {
		t.Error("Expected empty detail lines to be omitted")
	}
}

func TestWriteErrorLog_NoErrors(t *testing.T) {
	dir := t.TempDir()
	var s Summary
	path, err := s.WriteErrorLog(dir)
	if err != nil {
		t.Fatalf("WriteErrorLog() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty when nothing to write", path)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Error("Expected no log file for an error-free run")
	}
}
