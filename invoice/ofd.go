package invoice

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

var xmlTag = regexp.MustCompile(`<[^>]+>`)

// extractOFDText reads every XML member of the OFD container (an OFD file
// is a ZIP archive of XML parts, GB/T 33190) and strips tags to
// whitespace. Layout is not reconstructed; the field patterns only need
// the text runs.
func extractOFDText(data []byte, logger *slog.Logger) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Warn("ofd is not a valid zip archive", "err", err)
		return ""
	}

	var texts []string
	for _, file := range zr.File {
		if !strings.HasSuffix(strings.ToLower(file.Name), ".xml") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			logger.Debug("open ofd member failed", "member", file.Name, "err", err)
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			logger.Debug("read ofd member failed", "member", file.Name, "err", err)
			continue
		}
		texts = append(texts, xmlTag.ReplaceAllString(string(content), " "))
	}
	return strings.Join(texts, "\n")
}
