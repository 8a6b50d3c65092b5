package model

import "time"

// Record is the structured view of one Outlook template/message as read
// from its compound file. Fields are optional; the empty string (or zero
// time, or nil slice) means the source carried no value and downstream
// consumers emit nothing for it.
type Record struct {
	Sender  string
	To      string
	Cc      string
	Subject string

	// Date is the message timestamp when the source carried one the
	// extractor could parse. RawDate holds the verbatim date text when
	// parsing failed; it is emitted as-is instead of an RFC 5322 date.
	Date    time.Time
	RawDate string

	PlainBody string
	HTMLBody  string

	// Attachments in source order. Output parts preserve this order.
	Attachments []Attachment
}

// Attachment is one binary payload of a Record. Attachments without
// data are skipped during assembly.
type Attachment struct {
	Data          []byte
	LongFilename  string
	ShortFilename string
	ContentID     string
}

// Filename returns the display name: long name preferred, then short,
// then the literal "attachment".
func (a Attachment) Filename() string {
	if a.LongFilename != "" {
		return a.LongFilename
	}
	if a.ShortFilename != "" {
		return a.ShortFilename
	}
	return "attachment"
}

// Envelope wraps a scanned source file alongside its extracted record,
// or the error encountered while extracting it. Hash identifies the
// source content for duplicate detection.
type Envelope struct {
	Path   string
	Hash   string
	Record *Record
	Err    error
}

// Converted is one finished conversion: the serialized document plus
// the identity sinks and the state tracker need.
type Converted struct {
	Source string
	Name   string
	Hash   string
	Size   int64
	Date   time.Time
	Raw    []byte
}
