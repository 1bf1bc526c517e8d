package model

// Format identifies an invoice document container.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatOFD Format = "ofd"
)

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Descriptor identifies one mail message. UID is unique only within its
// folder; the folder::uid pair is the global identity used in the ledger.
type Descriptor struct {
	Folder  string
	UID     string
	Subject string
}

// ID returns the composite ledger key for the message.
func (d Descriptor) ID() string {
	return d.Folder + "::" + d.UID
}

// Attachment is an invoice-shaped binary payload pulled out of a message.
type Attachment struct {
	Filename string
	Data     []byte
	Format   Format
}
