// Package filer decides where an extracted invoice document lands on disk
// and writes it there without clobbering existing files.
package filer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fapiaokit/invoice-collector/invoice"
)

// UnclassifiedDir collects documents whose fields could not be parsed.
const UnclassifiedDir = "未归类"

// Router places invoice documents under a base directory, grouped by
// billing month. Preview mode computes target paths without touching disk.
type Router struct {
	baseDir string
	preview bool
}

func New(baseDir string, preview bool) *Router {
	return &Router{baseDir: baseDir, preview: preview}
}

// Place writes data to its computed target path and returns that path.
// In preview mode nothing is created but the returned path is the one a
// real run would use, conflict suffix included.
func (r *Router) Place(data []byte, fields invoice.Fields, category, ext string) (string, error) {
	dir, name := r.target(fields, category, ext)
	path := resolveConflict(dir, name)

	if r.preview {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write invoice file: %w", err)
	}
	return path, nil
}

// Unclassified reports whether fields would be filed under the
// unclassified directory.
func Unclassified(fields invoice.Fields) bool {
	return !fields.ParseOK
}

func (r *Router) target(fields invoice.Fields, category, ext string) (dir, name string) {
	if !fields.ParseOK {
		return filepath.Join(r.baseDir, UnclassifiedDir), "unknown" + ext
	}

	date := fields.Date
	if date == "" {
		date = "UNKNOWN"
	}
	amount := fields.Amount
	if amount == "" {
		amount = "0.00"
	}

	monthDir := monthFolder(fields.Date)
	name = date + "_" + amount + "_" + category + ext
	return filepath.Join(r.baseDir, monthDir), name
}

// monthFolder renders YYYYMMDD as "YYYY年MM月". Dates that are missing or
// malformed group under the unclassified folder name so they stay visible.
func monthFolder(date string) string {
	if len(date) < 6 {
		return UnclassifiedDir
	}
	return date[:4] + "年" + date[4:6] + "月"
}

// resolveConflict appends _2, _3 and so on before the extension until the
// path is free.
func resolveConflict(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
