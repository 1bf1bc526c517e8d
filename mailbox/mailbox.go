// Package mailbox talks IMAP: it enumerates folders, searches by date
// window, fetches raw messages and decodes their multi-charset headers.
package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"

	"github.com/fapiaokit/invoice-collector/filter"
	"github.com/fapiaokit/invoice-collector/model"
)

var (
	// ErrAuth marks a rejected login, as opposed to a connectivity failure.
	ErrAuth = errors.New("imap authentication failed")
)

type Options struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Client is a live IMAP session. Connect must succeed before any other
// call; Disconnect is best-effort and safe to defer unconditionally.
type Client struct {
	opts    Options
	logger  *slog.Logger
	cl      *imapclient.Client
	iterErr error
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: opts, logger: logger}, nil
}

// Connect dials the server over TLS and logs in.
func (c *Client) Connect() error {
	address := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))

	cl, err := imapclient.DialTLS(address, &imapclient.Options{
		WordDecoder: headerDecoder,
	})
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := cl.Login(c.opts.Username, c.opts.Password).Wait(); err != nil {
		_ = cl.Close()
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	c.cl = cl
	c.logger.Debug("imap connection established", "address", address, "user", c.opts.Username)
	return nil
}

// Disconnect logs out and closes the connection. It never fails.
func (c *Client) Disconnect() {
	if c.cl == nil {
		return
	}
	if err := c.cl.Logout().Wait(); err != nil {
		c.logger.Debug("imap logout failed", "err", err)
	}
	_ = c.cl.Close()
	c.cl = nil
}

// ListFolders returns the names of all visible mail folders.
func (c *Client) ListFolders() ([]string, error) {
	mailboxes, err := c.cl.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	names := make([]string, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		names = append(names, mbox.Mailbox)
	}
	return names, nil
}

// Search selects the folder read-only and returns the UIDs of every
// message received on or after since. Only the protocol-level date filter
// is applied here; subject filtering happens after header decoding.
func (c *Client) Search(folder string, since time.Time) ([]string, error) {
	if _, err := c.cl.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	data, err := c.cl.UIDSearch(&imapv2.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}

	uids := data.AllUIDs()
	result := make([]string, 0, len(uids))
	for _, uid := range uids {
		result = append(result, strconv.FormatUint(uint64(uid), 10))
	}
	return result, nil
}

// Fetch retrieves a single message by UID and parses it into a MIME
// entity. A missing message yields (nil, nil).
func (c *Client) Fetch(folder, uid string) (*message.Entity, error) {
	n, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid uid %q: %w", uid, err)
	}

	if _, err := c.cl.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	fetchCmd := c.cl.Fetch(imapv2.UIDSetNum(imapv2.UID(n)), &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{{}},
	})
	defer fetchCmd.Close()

	var raw []byte
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			// The literal must be drained immediately: go-imap v2 blocks
			// the parser until it is consumed.
			if section, ok := item.(imapclient.FetchItemDataBodySection); ok && section.Literal != nil {
				raw, err = io.ReadAll(section.Literal)
				if err != nil {
					return nil, fmt.Errorf("read message %s/%s: %w", folder, uid, err)
				}
			}
		}
	}

	if len(raw) == 0 {
		return nil, nil
	}

	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message %s/%s: %w", folder, uid, err)
	}
	return ent, nil
}

// Unseen yields every message received since the given date, across all
// folders, that is not in known and whose decoded subject passes the
// filter. Messages are fetched lazily, one per pull, so the consumer can
// stop early without having fetched the rest. Per-folder failures are
// logged and skipped; a message that cannot be fetched is left for the
// next run (it is never recorded, so the ledger will retry it). A failure
// to enumerate folders at all ends the iteration and is reported by Err,
// so the caller can tell an empty mailbox from a broken session.
func (c *Client) Unseen(since time.Time, known map[string]struct{}, subjects *filter.SubjectFilter) iter.Seq[model.Mail] {
	return func(yield func(model.Mail) bool) {
		c.iterErr = nil

		folders, err := c.ListFolders()
		if err != nil {
			c.iterErr = err
			c.logger.Error("list folders failed", "err", err)
			return
		}

		for _, folder := range folders {
			uids, err := c.Search(folder, since)
			if err != nil {
				c.logger.Warn("folder search failed, skipping folder", "folder", folder, "err", err)
				continue
			}

			for _, uid := range uids {
				desc := model.Descriptor{Folder: folder, UID: uid}
				if _, ok := known[desc.ID()]; ok {
					continue
				}

				ent, err := c.Fetch(folder, uid)
				if err != nil {
					c.logger.Warn("fetch failed, message left for next run", "id", desc.ID(), "err", err)
					continue
				}
				if ent == nil {
					continue
				}

				desc.Subject = DecodeHeader(ent.Header.Get("Subject"))
				if !subjects.Allows(desc.Subject) {
					continue
				}

				if !yield(model.Mail{Desc: desc, Entity: ent}) {
					return
				}
			}
		}
	}
}

// Err reports whether the last Unseen iteration ended because the mailbox
// could not be enumerated, as opposed to running out of messages.
func (c *Client) Err() error {
	return c.iterErr
}
