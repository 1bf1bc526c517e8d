// Package mboxfile reads an exported .mbox archive and yields the same
// message stream as a live mailbox, so a run can be replayed offline.
package mboxfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"

	"github.com/fapiaokit/invoice-collector/filter"
	"github.com/fapiaokit/invoice-collector/mailbox"
	"github.com/fapiaokit/invoice-collector/model"
)

// Folder is the pseudo folder name used in ledger ids for mbox messages,
// so offline and online runs never collide on identity.
const Folder = "mbox"

type Source struct {
	path    string
	logger  *slog.Logger
	iterErr error
}

func NewSource(path string, logger *slog.Logger) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("mbox file: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{path: path, logger: logger}, nil
}

// Unseen yields every message in the archive dated on or after since whose
// decoded subject passes the filter, skipping ids in known. Messages whose
// Date header is missing or unparsable are included rather than silently
// dropped. Malformed messages are logged and skipped. A failure to open or
// walk the archive ends the iteration and is reported by Err.
func (s *Source) Unseen(since time.Time, known map[string]struct{}, subjects *filter.SubjectFilter) iter.Seq[model.Mail] {
	return func(yield func(model.Mail) bool) {
		s.iterErr = nil

		f, err := os.Open(s.path)
		if err != nil {
			s.iterErr = err
			s.logger.Error("open mbox failed", "path", s.path, "err", err)
			return
		}
		defer f.Close()

		r := mboxlib.NewReader(f)
		for {
			msgReader, err := r.NextMessage()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				s.iterErr = fmt.Errorf("read mbox message: %w", err)
				s.logger.Error("read mbox message failed", "err", err)
				return
			}

			raw, err := io.ReadAll(msgReader)
			if err != nil {
				s.logger.Warn("read mbox message body failed", "err", err)
				continue
			}

			ent, err := message.Read(bytes.NewReader(raw))
			if err != nil && !message.IsUnknownCharset(err) {
				s.logger.Warn("parse mbox message failed", "err", err)
				continue
			}

			if date, ok := messageDate(ent); ok && date.Before(since) {
				continue
			}

			desc := model.Descriptor{Folder: Folder, UID: messageUID(ent, raw)}
			if _, ok := known[desc.ID()]; ok {
				continue
			}

			desc.Subject = mailbox.DecodeHeader(ent.Header.Get("Subject"))
			if !subjects.Allows(desc.Subject) {
				continue
			}

			if !yield(model.Mail{Desc: desc, Entity: ent}) {
				return
			}
		}
	}
}

// Err reports whether the last Unseen iteration ended because the archive
// could not be read, as opposed to reaching its end.
func (s *Source) Err() error {
	return s.iterErr
}

func messageDate(ent *message.Entity) (time.Time, bool) {
	raw := ent.Header.Get("Date")
	if raw == "" {
		return time.Time{}, false
	}
	date, err := mail.ParseDate(raw)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// messageUID derives a stable identity: the Message-Id header when
// present, otherwise a content hash.
func messageUID(ent *message.Entity, raw []byte) string {
	id := strings.TrimSpace(ent.Header.Get("Message-Id"))
	id = strings.Trim(id, "<>")
	if id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
