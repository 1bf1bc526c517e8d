package extract

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/emersion/go-message"

	"github.com/fapiaokit/invoice-collector/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func parseMessage(t *testing.T, raw string) *message.Entity {
	t.Helper()
	raw = strings.ReplaceAll(raw, "\n", "\r\n")
	ent, err := message.Read(strings.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		t.Fatalf("message.Read() error = %v", err)
	}
	return ent
}

func TestAttachments_PDF(t *testing.T) {
	ent := parseMessage(t, `From: billing@example.com
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/plain

see attached
--b1
Content-Type: application/pdf
Content-Disposition: attachment; filename="invoice.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQ=
--b1--
`)

	atts := Attachments(ent, testLogger())
	if len(atts) != 1 {
		t.Fatalf("Attachments() returned %d, want 1", len(atts))
	}
	if atts[0].Format != model.FormatPDF {
		t.Errorf("Format = %q, want pdf", atts[0].Format)
	}
	if atts[0].Filename != "invoice.pdf" {
		t.Errorf("Filename = %q, want invoice.pdf", atts[0].Filename)
	}
	if string(atts[0].Data) != "%PDF-1.4" {
		t.Errorf("Data = %q, want decoded base64 payload", atts[0].Data)
	}
}

func TestAttachments_PDFPriorityOverOFD(t *testing.T) {
	ent := parseMessage(t, `From: billing@example.com
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: application/ofd
Content-Disposition: attachment; filename="invoice.ofd"

fake-ofd-bytes
--b1
Content-Type: application/pdf
Content-Disposition: attachment; filename="invoice.pdf"

fake-pdf-bytes
--b1--
`)

	atts := Attachments(ent, testLogger())
	if len(atts) != 1 {
		t.Fatalf("Attachments() returned %d, want only the PDF", len(atts))
	}
	if atts[0].Format != model.FormatPDF {
		t.Errorf("Format = %q, want pdf to win over ofd", atts[0].Format)
	}
}

func TestAttachments_OFDWhenNoPDF(t *testing.T) {
	ent := parseMessage(t, `From: billing@example.com
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/plain

body
--b1
Content-Type: application/ofd
Content-Disposition: attachment; filename="invoice.ofd"

fake-ofd-bytes
--b1--
`)

	atts := Attachments(ent, testLogger())
	if len(atts) != 1 {
		t.Fatalf("Attachments() returned %d, want 1", len(atts))
	}
	if atts[0].Format != model.FormatOFD {
		t.Errorf("Format = %q, want ofd", atts[0].Format)
	}
}

func TestAttachments_OctetStreamByFilename(t *testing.T) {
	ent := parseMessage(t, `From: billing@example.com
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: application/octet-stream
Content-Disposition: attachment; filename="dianzifapiao.PDF"

fake-pdf-bytes
--b1
Content-Type: application/octet-stream
Content-Disposition: attachment; filename="notes.txt"

just text
--b1--
`)

	atts := Attachments(ent, testLogger())
	if len(atts) != 1 {
		t.Fatalf("Attachments() returned %d, want 1 (txt must be ignored)", len(atts))
	}
	if atts[0].Format != model.FormatPDF {
		t.Errorf("Format = %q, want pdf from filename suffix", atts[0].Format)
	}
	if atts[0].Filename != "dianzifapiao.PDF" {
		t.Errorf("Filename = %q", atts[0].Filename)
	}
}

func TestAttachments_EncodedFilename(t *testing.T) {
	ent := parseMessage(t, `From: billing@example.com
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: application/pdf
Content-Disposition: attachment; filename="=?UTF-8?B?5Y+R56WoLnBkZg==?="

fake-pdf-bytes
--b1--
`)

	atts := Attachments(ent, testLogger())
	if len(atts) != 1 {
		t.Fatalf("Attachments() returned %d, want 1", len(atts))
	}
	if atts[0].Filename != "发票.pdf" {
		t.Errorf("Filename = %q, want decoded 发票.pdf", atts[0].Filename)
	}
}

func TestAttachments_EmptyPayloadSkipped(t *testing.T) {
	ent := parseMessage(t, `From: billing@example.com
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: application/pdf
Content-Disposition: attachment; filename="empty.pdf"

--b1--
`)

	atts := Attachments(ent, testLogger())
	if len(atts) != 0 {
		t.Errorf("Attachments() returned %d, want empty payload skipped", len(atts))
	}
}

func TestAttachments_NoAttachments(t *testing.T) {
	ent := parseMessage(t, `From: someone@example.com
Content-Type: text/plain

plain message, nothing attached
`)

	if atts := Attachments(ent, testLogger()); len(atts) != 0 {
		t.Errorf("Attachments() returned %d, want 0", len(atts))
	}
}

func TestAttachments_SinglePartPDF(t *testing.T) {
	ent := parseMessage(t, `From: billing@example.com
Content-Type: application/pdf
Content-Disposition: attachment; filename="direct.pdf"

fake-pdf-bytes
`)

	atts := Attachments(ent, testLogger())
	if len(atts) != 1 {
		t.Fatalf("Attachments() returned %d, want the single-part body", len(atts))
	}
}

func TestAttachments_NestedMultipart(t *testing.T) {
	ent := parseMessage(t, `From: billing@example.com
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain

text rendition
--inner
Content-Type: text/html

<p>html rendition</p>
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="nested.pdf"

fake-pdf-bytes
--outer--
`)

	atts := Attachments(ent, testLogger())
	if len(atts) != 1 {
		t.Fatalf("Attachments() returned %d, want 1 from nested tree", len(atts))
	}
	if atts[0].Filename != "nested.pdf" {
		t.Errorf("Filename = %q", atts[0].Filename)
	}
}
