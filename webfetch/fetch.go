// Package webfetch resolves a candidate invoice URL to document bytes. It
// tries a plain HTTP transfer first and falls back to driving a headless
// browser for pages that render their download links dynamically.
package webfetch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fapiaokit/invoice-collector/model"
)

const (
	directTimeout = 30 * time.Second

	// Some endpoints serve hundreds of MB of garbage on error paths.
	maxDocumentBytes = 64 << 20
)

var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte("PK\x03\x04")
)

// Servers behind the invoice platforms reject obviously non-browser
// clients, so the direct transfer masquerades as one.
var browserHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":     "application/pdf,application/octet-stream,*/*",
}

type Options struct {
	// Headless controls the fallback browser session.
	Headless bool

	// Timeout bounds browser navigation and download waits.
	Timeout time.Duration

	// HTTPClient overrides the client used for the direct transfer.
	HTTPClient *http.Client
}

type Fetcher struct {
	opts   Options
	logger *slog.Logger
	http   *http.Client
}

func New(opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = directTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: directTimeout}
	}
	return &Fetcher{opts: opts, logger: logger, http: httpClient}
}

// Fetch resolves url to document bytes and a format. A false result means
// the URL yielded nothing; that is an expected outcome, not an error, and
// the caller decides how to report it.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, model.Format, bool) {
	if data, format, ok := f.direct(ctx, url); ok {
		return data, format, true
	}
	return f.viaBrowser(ctx, url)
}

// direct issues a plain GET and classifies the response by content-type
// header first, then by byte signature. Any unrecognized outcome signals
// "try the browser", never an error.
func (f *Fetcher) direct(ctx context.Context, url string) ([]byte, model.Format, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.logger.Debug("direct fetch: bad url", "url", url, "err", err)
		return nil, "", false
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		f.logger.Debug("direct fetch failed", "url", url, "err", err)
		return nil, "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Debug("direct fetch: non-success status", "url", url, "status", resp.StatusCode)
		return nil, "", false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		f.logger.Debug("direct fetch: read body failed", "url", url, "err", err)
		return nil, "", false
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "ofd"),
		bytes.HasPrefix(data, zipMagic) && strings.Contains(strings.ToLower(url), ".ofd"):
		return data, model.FormatOFD, true
	case strings.Contains(contentType, "pdf"), bytes.HasPrefix(data, pdfMagic):
		return data, model.FormatPDF, true
	}

	f.logger.Debug("direct fetch: unrecognized content", "url", url, "contentType", contentType)
	return nil, "", false
}

// formatFromFilename classifies a downloaded file by its suggested name,
// defaulting to PDF when ambiguous.
func formatFromFilename(name string) model.Format {
	if strings.HasSuffix(strings.ToLower(name), ".ofd") {
		return model.FormatOFD
	}
	return model.FormatPDF
}
