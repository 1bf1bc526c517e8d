package extract

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Ordered URL patterns for invoice-hosting platforms, plus generic
// .pdf/.ofd direct links and the OFD export marker used by the national
// tax platform.
var invoiceURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://[^\s"'<>]*baiwang\.com[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]*nuonuocs\.cn[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]*nuonuo\.com[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]+\.pdf[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]*fapiao\.com\.cn[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]*51fapiao\.cloud[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]*chinatax\.gov\.cn[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]*vpiaotong\.com[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]*newtimeai\.com[^\s"'<>]*`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]+\.ofd[^\s"'<>]*`),
	regexp.MustCompile(`https?://[^\s"'<>]*[Ww]jgs=OFD[^\s"'<>]*`),
}

// Image links also match the generic platform patterns (logos, QR codes
// embedded in HTML mail); the extension may sit inside a query string.
var imageURLPattern = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|gif|svg|bmp|webp)([?&#\s]|$)`)

// Useless links: XML exports no parser here can read, and bare platform
// homepages that carry no invoice path.
var uselessURLPattern = regexp.MustCompile(
	`(?i)[?&]Wjgs=XML\b` +
		`|^https?://(?:www\.)?(?:baiwang\.com|nuonuo\.com|fp\.nuonuo\.com|ntf\.nuonuo\.com` +
		`|nst\.nuonuo\.com|baoxiao\.nuonuo\.com|newtimeai\.com)(?:[/?#][^a-zA-Z0-9]*)?$`)

// Links collects the message's text/plain and text/html parts and returns
// the candidate invoice URLs found in them, deduplicated in first-seen
// order.
func Links(ent *message.Entity, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}

	var texts []string
	walk(ent, logger, func(part *message.Entity, rawBody bool) {
		ctype, _, _ := part.Header.ContentType()
		switch strings.ToLower(ctype) {
		case "text/plain", "text/html":
		default:
			return
		}
		data := partPayload(part, rawBody, logger)
		if len(data) == 0 {
			return
		}
		texts = append(texts, decodeText(data))
	})

	return LinksFromText(strings.Join(texts, "\n"), logger)
}

// LinksFromText applies the URL patterns and filters to already-decoded
// message text.
func LinksFromText(text string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}

	var found []string
	seen := make(map[string]struct{})
	for _, pattern := range invoiceURLPatterns {
		for _, url := range pattern.FindAllString(text, -1) {
			url = strings.TrimRight(url, ".,;)")
			if _, ok := seen[url]; ok {
				continue
			}
			if imageURLPattern.MatchString(url) {
				logger.Debug("filtered image url", "url", url)
				continue
			}
			if uselessURLPattern.MatchString(url) {
				logger.Debug("filtered useless url", "url", url)
				continue
			}
			seen[url] = struct{}{}
			found = append(found, url)
		}
	}
	return found
}

// decodeText interprets part bytes as UTF-8, falling back to GBK for the
// providers that send undeclared legacy encodings.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}
