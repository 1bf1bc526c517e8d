// Package extract pulls invoice evidence out of parsed mail messages:
// PDF/OFD attachments from the MIME tree and invoice-platform URLs from
// the text parts.
package extract

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-message"

	"github.com/fapiaokit/invoice-collector/mailbox"
	"github.com/fapiaokit/invoice-collector/model"
)

// Attachments walks every node of the message's MIME tree and returns the
// invoice-shaped binary attachments. If any PDF attachment exists, all OFD
// attachments are discarded: a PDF is always the preferred rendition of
// the same invoice.
func Attachments(ent *message.Entity, logger *slog.Logger) []model.Attachment {
	if logger == nil {
		logger = slog.Default()
	}

	var pdfs, ofds []model.Attachment

	walk(ent, logger, func(part *message.Entity, rawBody bool) {
		ctype, _, _ := part.Header.ContentType()
		ctype = strings.ToLower(ctype)
		filename := partFilename(part)
		dispRaw := strings.ToLower(part.Header.Get("Content-Disposition"))

		generic := ctype == "application/octet-stream"
		isPDF := ctype == "application/pdf" ||
			(generic && (strings.Contains(dispRaw, ".pdf") || strings.HasSuffix(strings.ToLower(filename), ".pdf")))
		isOFD := strings.Contains(ctype, "ofd") ||
			(generic && strings.HasSuffix(strings.ToLower(filename), ".ofd"))

		if !isPDF && !isOFD {
			return
		}

		data := partPayload(part, rawBody, logger)
		if len(data) == 0 {
			logger.Debug("attachment payload empty or undecodable, skipping", "filename", filename)
			return
		}

		if isPDF {
			if filename == "" {
				filename = "attachment.pdf"
			}
			pdfs = append(pdfs, model.Attachment{Filename: filename, Data: data, Format: model.FormatPDF})
		} else {
			if filename == "" {
				filename = "attachment.ofd"
			}
			ofds = append(ofds, model.Attachment{Filename: filename, Data: data, Format: model.FormatOFD})
		}
	})

	if len(pdfs) > 0 {
		return pdfs
	}
	return ofds
}

// walk visits every leaf of the MIME tree. rawBody is true when the part's
// transfer encoding was unknown to the parser and the body is still
// encoded, so the visitor must decode it manually.
func walk(ent *message.Entity, logger *slog.Logger, visit func(part *message.Entity, rawBody bool)) {
	mr := ent.MultipartReader()
	if mr == nil {
		visit(ent, false)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return
		}
		rawBody := false
		if err != nil {
			switch {
			case message.IsUnknownCharset(err):
				// Body bytes are intact, only the declared charset is odd.
			case message.IsUnknownEncoding(err):
				rawBody = true
			default:
				logger.Debug("malformed mime part, stopping walk", "err", err)
				return
			}
		}
		if part == nil {
			return
		}
		if part.MultipartReader() != nil {
			walk(part, logger, visit)
			continue
		}
		visit(part, rawBody)
	}
}

// partPayload reads the part's decoded body. When the parser left the body
// raw, the declared transfer encoding is applied manually; undecodable
// payloads yield nil.
func partPayload(part *message.Entity, rawBody bool, logger *slog.Logger) []byte {
	data, err := io.ReadAll(part.Body)
	if err != nil {
		logger.Debug("read attachment body failed", "err", err)
		return nil
	}
	if !rawBody {
		return data
	}

	encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))
	switch encoding {
	case "base64":
		cleaned := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', '\r', '\n':
				return -1
			}
			return r
		}, string(data))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil
		}
		return decoded
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil
		}
		return decoded
	default:
		return data
	}
}

// partFilename extracts the attachment filename from the disposition or
// content-type parameters and resolves encoded words the same way
// subjects are decoded.
func partFilename(part *message.Entity) string {
	_, dispParams, _ := part.Header.ContentDisposition()
	if name := dispParams["filename"]; name != "" {
		return mailbox.DecodeHeader(name)
	}
	_, ctParams, _ := part.Header.ContentType()
	if name := ctParams["name"]; name != "" {
		return mailbox.DecodeHeader(name)
	}
	return ""
}
