package webfetch

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/fapiaokit/invoice-collector/model"
)

// navDownloadWindow is how long navigation gets to trigger a download on
// its own before the page is treated as a rendered document page.
const navDownloadWindow = 8 * time.Second

// Pages that bounce to an authentication path cannot be fetched
// non-interactively.
var loginPathPattern = regexp.MustCompile(`(?i)/(login|sso|auth|signin|oauth)`)

// Download triggers to try in order: explicit PDF/invoice downloads first,
// generic download controls, then a print action as last resort.
var downloadTriggers = []struct {
	Selector string
	Text     string
}{
	{"button, a", "下载PDF"},
	{"button, a", "下载发票"},
	{"button, a", "下载"},
	{"[class*='download-pdf']", ""},
	{"[class*='downloadPdf']", ""},
	{"[class*='download']", ""},
	{"button", "打印"},
}

// viaBrowser drives a headless browser session: navigate, capture a
// navigation-triggered download if one fires, otherwise hunt for a
// download trigger on the rendered page. The page itself is deliberately
// never printed to PDF as a fallback; a snapshot of an invoice page looks
// like success but carries no invoice data.
func (f *Fetcher) viaBrowser(ctx context.Context, url string) ([]byte, model.Format, bool) {
	dlDir, err := os.MkdirTemp("", "invoice-dl-*")
	if err != nil {
		f.logger.Warn("browser fetch: temp dir failed", "err", err)
		return nil, "", false
	}
	defer os.RemoveAll(dlDir)

	l := launcher.New().
		Headless(f.opts.Headless).
		Set("disable-blink-features", "AutomationControlled")
	wsURL, err := l.Launch()
	if err != nil {
		f.logger.Warn("browser fetch: launch failed", "url", url, "err", err)
		return nil, "", false
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(wsURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		f.logger.Warn("browser fetch: connect failed", "url", url, "err", err)
		return nil, "", false
	}
	defer func() { _ = browser.Close() }()

	page, err := stealth.Page(browser)
	if err != nil {
		f.logger.Warn("browser fetch: open page failed", "url", url, "err", err)
		return nil, "", false
	}
	defer func() { _ = page.Close() }()

	// Some URLs (tax-authority direct links) download on navigation
	// instead of rendering. Arm the download capture before navigating
	// and race it against the render path.
	waitNavDL := browser.WaitDownload(dlDir)
	navDownloads := make(chan *proto.PageDownloadWillBegin, 1)
	go func() {
		if info := waitNavDL(); info != nil {
			navDownloads <- info
		}
	}()

	if err := page.Timeout(f.opts.Timeout).Navigate(url); err != nil {
		// A navigation aborted by a starting download is the download
		// path, not a failure; give the capture its window below.
		f.logger.Debug("browser fetch: navigate returned error", "url", url, "err", err)
	}

	select {
	case info := <-navDownloads:
		return f.readDownload(dlDir, info, url)
	case <-time.After(navDownloadWindow):
	case <-ctx.Done():
		return nil, "", false
	}

	info, err := page.Info()
	if err == nil && loginPathPattern.MatchString(info.URL) {
		f.logger.Warn("browser fetch: redirected to login page, giving up", "url", url, "landed", info.URL)
		return nil, "", false
	}

	// Let dynamic pages settle; a timeout here only means the page kept
	// chattering, so proceed regardless.
	waitIdle := page.Timeout(f.opts.Timeout).WaitRequestIdle(time.Second, nil, nil, nil)
	waitIdle()

	for _, trigger := range downloadTriggers {
		var (
			found bool
			el    *rod.Element
		)
		if trigger.Text != "" {
			found, el, err = page.HasR(trigger.Selector, trigger.Text)
		} else {
			found, el, err = page.Has(trigger.Selector)
		}
		if err != nil || !found || el == nil {
			continue
		}

		waitDL := browser.WaitDownload(dlDir)
		if err := el.Timeout(5 * time.Second).Click(proto.InputMouseButtonLeft, 1); err != nil {
			f.logger.Debug("browser fetch: click failed", "url", url, "selector", trigger.Selector, "err", err)
			continue
		}

		downloads := make(chan *proto.PageDownloadWillBegin, 1)
		go func() {
			if info := waitDL(); info != nil {
				downloads <- info
			}
		}()

		select {
		case info := <-downloads:
			return f.readDownload(dlDir, info, url)
		case <-time.After(f.opts.Timeout):
		case <-ctx.Done():
			return nil, "", false
		}
	}

	f.logger.Info("browser fetch: no download trigger found, giving up", "url", url)
	return nil, "", false
}

func (f *Fetcher) readDownload(dir string, info *proto.PageDownloadWillBegin, url string) ([]byte, model.Format, bool) {
	data, err := os.ReadFile(filepath.Join(dir, info.GUID))
	if err != nil {
		f.logger.Warn("browser fetch: read downloaded file failed", "url", url, "err", err)
		return nil, "", false
	}
	if len(data) == 0 {
		return nil, "", false
	}
	return data, formatFromFilename(info.SuggestedFilename), true
}
