package invoice

import (
	"bytes"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	pdfcpumodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDFText tries the layout-aware row extraction first. Invoices are
// tabular, so row grouping keeps labels next to their values; when the
// result is too short (common for generator-specific encodings) the raw
// content-stream extraction is used verbatim instead.
func extractPDFText(data []byte, logger *slog.Logger) string {
	text := extractTextByRows(data)
	if nonWhitespaceLen(text) >= pdfMinChars {
		return text
	}
	logger.Debug("row extraction yielded too little text, using content-stream extraction")
	return extractContentStreams(data, logger)
}

// extractTextByRows groups page text into visual rows. The library panics
// on malformed cross-reference tables, so the panic is converted into an
// empty result and the caller falls through to the second extractor.
func extractTextByRows(data []byte) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	reader, err := ledongthuc.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= reader.NumPage(); pageNr++ {
		page := reader.Page(pageNr)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			var line strings.Builder
			for _, word := range row.Content {
				line.WriteString(word.S)
			}
			if strings.TrimSpace(line.String()) == "" {
				continue
			}
			sb.WriteString(line.String())
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// extractContentStreams pulls text-showing operators straight out of the
// decoded page content streams.
func extractContentStreams(data []byte, logger *slog.Logger) string {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), pdfcpumodel.NewDefaultConfiguration())
	if err != nil {
		logger.Debug("pdfcpu read failed", "err", err)
		return ""
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil {
			continue
		}
		stream, err := io.ReadAll(r)
		if err != nil || len(stream) == 0 {
			continue
		}
		pageText := textFromContentStream(stream)
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(pageText)
	}
	return normalizeExtracted(sb.String())
}

// textFromContentStream scans a page content stream for the text-showing
// operators (Tj, TJ, ') and the line-positioning operators (Td/TD, T*)
// and reassembles their string operands.
func textFromContentStream(stream []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(stream, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			writeStringOperands(&sb, line, false)
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			writeStringOperands(&sb, line, true)
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

var stringLiteral = regexp.MustCompile(`\(([^)]*)\)`)

// writeStringOperands decodes every parenthesized string literal on an
// operator line and appends it; newline-first for the ' operator, which
// moves to the next text line before showing.
func writeStringOperands(sb *strings.Builder, line []byte, newlineFirst bool) {
	for _, m := range stringLiteral.FindAllSubmatch(line, -1) {
		text := decodePDFString(m[1])
		if text == "" {
			continue
		}
		if newlineFirst {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
}

// decodePDFString resolves backslash escapes, including octal sequences,
// inside a PDF string literal.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(c)
		default:
			if c < '0' || c > '7' {
				sb.WriteByte(c)
				break
			}
			val := int(c - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// normalizeExtracted collapses runs of spaces and drops unprintable runes
// while preserving line structure, which the service-name parser needs.
func normalizeExtracted(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		switch {
		case r == '\n':
			sb.WriteByte('\n')
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
