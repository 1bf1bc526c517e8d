// Package pipeline drives a collection run end to end: pull unseen
// messages, extract invoice documents, parse and classify them, file them
// on disk and record the outcome in the ledger.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/fapiaokit/invoice-collector/extract"
	"github.com/fapiaokit/invoice-collector/filer"
	"github.com/fapiaokit/invoice-collector/filter"
	"github.com/fapiaokit/invoice-collector/invoice"
	"github.com/fapiaokit/invoice-collector/model"
	"github.com/fapiaokit/invoice-collector/report"
	"github.com/fapiaokit/invoice-collector/state"
)

// Source yields candidate messages newer than since whose identity is not
// in known, subject-filtered. Implemented by mailbox.Client and
// mboxfile.Source.
type Source interface {
	Unseen(since time.Time, known map[string]struct{}, subjects *filter.SubjectFilter) iter.Seq[model.Mail]
}

// Fetcher resolves an invoice URL to document bytes. Implemented by
// webfetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, model.Format, bool)
}

// Deps are the collaborators a run needs. All fields are required except
// Fetcher, which may be nil to disable link handling.
type Deps struct {
	Source  Source
	Fetcher Fetcher
	Ledger  *state.Store
	Filer   *filer.Router
	Logger  *slog.Logger
}

// Options control a single run.
type Options struct {
	Since    time.Time
	Keywords []string
	DryRun   bool

	// Progress, when set, is called once per message before processing.
	Progress func(desc model.Descriptor)
}

// Run processes every unseen message sequentially and returns the run
// summary. The returned error is fatal (ledger persistence or a broken
// message source); all per-message and per-document failures are absorbed
// into the summary.
func Run(ctx context.Context, deps Deps, opts Options) (report.Summary, error) {
	var summary report.Summary
	subjects := filter.NewSubject(opts.Keywords)

	for mail := range deps.Source.Unseen(opts.Since, deps.Ledger.KnownIDs(), subjects) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if opts.Progress != nil {
			opts.Progress(mail.Desc)
		}

		files, skipped := processMessage(ctx, deps, mail, &summary)

		switch {
		case len(files) > 0:
			summary.Processed++
			if !opts.DryRun {
				if err := deps.Ledger.MarkDone(mail.Desc.ID(), mail.Desc.Subject, files); err != nil {
					return summary, fmt.Errorf("record message %s: %w", mail.Desc.ID(), err)
				}
			}
		case skipped:
			summary.Skipped++
			if !opts.DryRun {
				if err := deps.Ledger.MarkFailed(mail.Desc.ID(), mail.Desc.Subject, "无发票内容"); err != nil {
					return summary, fmt.Errorf("record message %s: %w", mail.Desc.ID(), err)
				}
			}
		default:
			summary.Failed++
			if !opts.DryRun {
				if err := deps.Ledger.MarkFailed(mail.Desc.ID(), mail.Desc.Subject, failureReason(&summary, mail.Desc)); err != nil {
					return summary, fmt.Errorf("record message %s: %w", mail.Desc.ID(), err)
				}
			}
		}
	}

	// A source that stopped because it broke, not because it ran dry,
	// reports so through Err. Without this an unreachable mailbox would
	// look like a clean run with zero messages.
	if src, ok := deps.Source.(interface{ Err() error }); ok {
		if err := src.Err(); err != nil {
			return summary, fmt.Errorf("message source: %w", err)
		}
	}

	return summary, nil
}

// processMessage extracts and files every invoice document in one message
// and returns the written paths, plus whether the message carried no
// invoice content at all. Attachments win over links: a single PDF
// attachment suppresses link handling entirely.
func processMessage(ctx context.Context, deps Deps, mail model.Mail, summary *report.Summary) ([]string, bool) {
	var files []string
	desc := mail.Desc
	logger := deps.Logger.With("uid", desc.ID())

	attachments := extract.Attachments(mail.Entity, logger)
	hasPDF := false
	for _, att := range attachments {
		if att.Format == model.FormatPDF {
			hasPDF = true
		}
	}

	for _, att := range attachments {
		path, err := routeAndSave(deps, att.Data, att.Format, desc, "", summary)
		if err != nil {
			logger.Error("attachment save failed", "filename", att.Filename, "err", err)
			summary.AddError(report.ErrorEntry{
				Subject: desc.Subject, MessageID: desc.ID(),
				Reason: "附件保存异常", Detail: err.Error(),
			})
			continue
		}
		logger.Info("attachment filed", "format", string(att.Format), "path", path)
		files = append(files, path)
		summary.AddFile(path)
	}

	if hasPDF {
		return files, false
	}

	urls := extract.Links(mail.Entity, logger)
	for _, url := range urls {
		if deps.Fetcher == nil {
			break
		}
		data, format, ok := deps.Fetcher.Fetch(ctx, url)
		if !ok {
			logger.Warn("url yielded no document", "url", url)
			summary.AddError(report.ErrorEntry{
				Subject: desc.Subject, MessageID: desc.ID(),
				Reason: "URL无法下载", Detail: truncate(url, 80),
			})
			continue
		}
		path, err := routeAndSave(deps, data, format, desc, url, summary)
		if err != nil {
			logger.Error("url document save failed", "url", url, "err", err)
			summary.AddError(report.ErrorEntry{
				Subject: desc.Subject, MessageID: desc.ID(),
				Reason: "URL处理异常", Detail: err.Error(),
			})
			continue
		}
		logger.Info("url document filed", "format", string(format), "path", path)
		files = append(files, path)
		summary.AddFile(path)
	}

	if len(attachments) == 0 && len(urls) == 0 {
		logger.Info("no invoice content, skipping")
		summary.AddError(report.ErrorEntry{
			Subject: desc.Subject, MessageID: desc.ID(),
			Reason: "无发票内容", Detail: "无附件也无识别到的URL",
		})
		return nil, true
	}

	return files, false
}

// routeAndSave parses, classifies and files one document. Unparsable
// documents still land on disk (under the unclassified bucket) and are
// additionally surfaced as error entries so the operator can follow up.
func routeAndSave(deps Deps, data []byte, format model.Format, desc model.Descriptor, url string, summary *report.Summary) (string, error) {
	fields := invoice.Parse(data, format, deps.Logger)
	category := invoice.Classify(fields.Service, fields.RawText)

	path, err := deps.Filer.Place(data, fields, category, format.Ext())
	if err != nil {
		return "", err
	}

	if filer.Unclassified(fields) {
		detail := path
		if url != "" {
			detail = fmt.Sprintf("%s (%s)", path, truncate(url, 60))
		}
		summary.AddError(report.ErrorEntry{
			Subject: desc.Subject, MessageID: desc.ID(),
			Reason: "解析失败→未归类", Detail: detail,
		})
	}

	return path, nil
}

// failureReason picks the ledger reason for a zero-file message from its
// recorded error entries, newest first.
func failureReason(summary *report.Summary, desc model.Descriptor) string {
	id := desc.ID()
	for i := len(summary.Errors) - 1; i >= 0; i-- {
		if summary.Errors[i].MessageID == id {
			return summary.Errors[i].Reason
		}
	}
	return "处理失败"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
