// Package invoice extracts text from PDF/OFD invoice documents and parses
// the fields used for filing: issue date, tax-inclusive amount and the
// service name, plus the category classification.
package invoice

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/fapiaokit/invoice-collector/model"
)

// Minimum non-whitespace characters for extracted text to be considered a
// readable invoice. Below the threshold no field parsing is attempted:
// scanned-image PDFs would otherwise produce garbage partial matches.
const (
	pdfMinChars = 50
	ofdMinChars = 20
)

// Issue date, with all separator styles seen in the wild (年月日, slash,
// dash).
var datePattern = regexp.MustCompile(`开票日期[：:]\s*(\d{4})[年/\-](\d{1,2})[月/\-](\d{1,2})`)

// Amount patterns in priority order: a currency-prefixed number, the
// tax-inclusive total, the plain total, the parenthesized "in figures"
// value.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[¥￥]\s*([\d,]+\.?\d*)`),
	regexp.MustCompile(`价税合计[^¥￥\d]*([\d,]+\.\d{2})`),
	regexp.MustCompile(`合计金额[^¥￥\d]*([\d,]+\.\d{2})`),
	regexp.MustCompile(`小写[）\)]\s*[¥￥]?\s*([\d,]+\.\d{2})`),
}

// Service line: the tax category bracketed by asterisks, then the name
// (*住宿服务*豪华间 ...).
var servicePattern = regexp.MustCompile(`\*[^*]+\*(.+)`)

// columnBreak separates the service name from trailing tabular columns.
var columnBreak = regexp.MustCompile(`\s{2,}|\t`)

// Fields is the parse result for one document. ParseOK is true iff at
// least one of date/amount was matched; it decides whether the file is
// routed by metadata or dropped into the unclassified bucket.
type Fields struct {
	Date    string // YYYYMMDD, empty when not found
	Amount  string // two-decimal string, empty when not found
	Service string
	RawText string
	ParseOK bool
}

// Parse extracts text from the document and parses the invoice fields.
func Parse(data []byte, format model.Format, logger *slog.Logger) Fields {
	if logger == nil {
		logger = slog.Default()
	}
	switch format {
	case model.FormatOFD:
		return parseFields(extractOFDText(data, logger), ofdMinChars, logger)
	default:
		return parseFields(extractPDFText(data, logger), pdfMinChars, logger)
	}
}

func parseFields(text string, minChars int, logger *slog.Logger) Fields {
	fields := Fields{RawText: text}
	if nonWhitespaceLen(text) < minChars {
		logger.Warn("extracted text below minimum length, marking parse as failed",
			"chars", nonWhitespaceLen(text), "min", minChars)
		return fields
	}

	fields.Date = parseDate(text)
	fields.Amount = parseAmount(text)
	fields.Service = parseService(text)
	fields.ParseOK = fields.Date != "" || fields.Amount != ""
	return fields
}

func parseDate(text string) string {
	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return fmt.Sprintf("%s%02d%02d", m[1], month, day)
}

func parseAmount(text string) string {
	for _, pattern := range amountPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		return fmt.Sprintf("%.2f", value)
	}
	return ""
}

func parseService(text string) string {
	for _, line := range strings.Split(text, "\n") {
		m := servicePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(columnBreak.Split(strings.TrimSpace(m[1]), 2)[0])
		if name != "" {
			return name
		}
	}
	return ""
}

func nonWhitespaceLen(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
