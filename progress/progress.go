// Package progress renders the interactive terminal surface: a live
// spinner while messages stream in and the end-of-run summary tables.
package progress

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/fapiaokit/invoice-collector/model"
	"github.com/fapiaokit/invoice-collector/report"
)

// Spinner shows the message currently being processed. The message total
// is unknown up front (messages stream from a lazy iterator), so a
// spinner with a running count is used instead of a bar.
type Spinner struct {
	sp      *pterm.SpinnerPrinter
	count   int
	mu      sync.Mutex
	enabled bool
}

// New creates a spinner if logLevel is "info". At other levels the
// terminal belongs to the log output and the spinner stays disabled.
func New(logLevel string) *Spinner {
	s := &Spinner{enabled: logLevel == "info"}
	if s.enabled {
		sp, _ := pterm.DefaultSpinner.Start("处理中...")
		s.sp = sp
	}
	return s
}

// Update advances the spinner to the given message.
func (s *Spinner) Update(desc model.Descriptor) {
	if !s.enabled || s.sp == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	subject := desc.Subject
	if runes := []rune(subject); len(runes) > 40 {
		subject = string(runes[:37]) + "..."
	}
	s.sp.UpdateText(fmt.Sprintf("处理第 %d 封: %s", s.count, subject))
}

// Stop finalizes the spinner.
func (s *Spinner) Stop() {
	if !s.enabled || s.sp == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sp.Success(fmt.Sprintf("处理完成，共 %d 封", s.count))
}

// RenderSummary prints the run summary and, if any, the error detail
// table.
func RenderSummary(summary report.Summary, baseDir string, dryRun bool) {
	pterm.Println()
	pterm.DefaultSection.Println("处理汇总")
	if dryRun {
		pterm.Warning.Println("-- DRY RUN 模式，未写入文件 --")
	}

	rows := pterm.TableData{
		{"项目", "数量"},
		{"成功处理邮件", fmt.Sprintf("%d", summary.Processed)},
		{"跳过（无发票）", fmt.Sprintf("%d", summary.Skipped)},
		{"处理失败", fmt.Sprintf("%d", summary.Failed)},
		{"保存文件总数", fmt.Sprintf("%d", len(summary.Files))},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

	if len(summary.Files) > 0 {
		pterm.Info.Printf("输出目录: %s\n", baseDir)
		for _, f := range summary.Files {
			pterm.Printf("  %s\n", pterm.Gray(f))
		}
	}

	if len(summary.Errors) > 0 {
		pterm.Println()
		pterm.DefaultSection.Println("问题邮件明细")
		errRows := pterm.TableData{{"邮件主题", "问题类型", "详情"}}
		for _, e := range summary.Errors {
			errRows = append(errRows, []string{
				clip(e.Subject, 30), e.Reason, clip(e.Detail, 40),
			})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(errRows).Render()
	}
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
