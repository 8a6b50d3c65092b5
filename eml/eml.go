// Package eml assembles extracted message records into serialized MIME
// documents. The output is a multipart/related tree whose first child is
// always a multipart/alternative container holding the text bodies,
// followed by inline image and attachment parts in source order.
package eml

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"mime/quotedprintable"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/oft-to-eml/model"
)

// ErrEncoding is returned when a text payload cannot be represented in
// the declared utf-8 charset.
var ErrEncoding = errors.New("text payload is not valid utf-8")

// DefaultAttachmentName is used when an attachment carries no filename.
const DefaultAttachmentName = "attachment"

// PartKind classifies an attachment part.
type PartKind string

const (
	// PartInline is an image referenced from the HTML body via Content-ID.
	PartInline PartKind = "inline"
	// PartAttachment is any other binary payload.
	PartAttachment PartKind = "attachment"
)

// Extensions recognized as inline-capable images, mapped to their MIME
// subtype. Anything else becomes application/octet-stream.
var inlineImageTypes = map[string]string{
	"png":  "png",
	"jpg":  "jpeg",
	"jpeg": "jpeg",
	"gif":  "gif",
	"bmp":  "bmp",
}

// Part is one classified attachment part of a Document.
type Part struct {
	Kind      PartKind
	Filename  string
	MIMEType  string
	ContentID string
	Data      []byte
}

type textPart struct {
	mediaType string
	body      string
}

// Document is an assembled message ready for serialization. Serializing
// the same Document twice produces byte-identical output.
type Document struct {
	header      mail.Header
	boundary    string
	altBoundary string
	texts       []textPart
	parts       []Part
}

// Assemble builds a Document from a record. It performs no I/O. Header
// fields are emitted only for non-empty record fields; attachments
// without data are skipped. It fails with ErrEncoding when a text field
// is not valid utf-8.
func Assemble(rec *model.Record) (*Document, error) {
	for _, f := range []struct{ name, text string }{
		{"subject", rec.Subject},
		{"plain body", rec.PlainBody},
		{"html body", rec.HTMLBody},
	} {
		if !utf8.ValidString(f.text) {
			return nil, fmt.Errorf("%s: %w", f.name, ErrEncoding)
		}
	}

	d := &Document{}
	if rec.PlainBody != "" {
		d.texts = append(d.texts, textPart{mediaType: "text/plain", body: rec.PlainBody})
	}
	if rec.HTMLBody != "" {
		d.texts = append(d.texts, textPart{mediaType: "text/html", body: rec.HTMLBody})
	}
	for _, att := range rec.Attachments {
		if p, ok := ClassifyAttachment(att); ok {
			d.parts = append(d.parts, p)
		}
	}

	// Boundaries must not occur inside any encoded payload. The encoded
	// forms are checked unwrapped; line wrapping only inserts CR, LF and
	// soft-break bytes, none of which appear in a candidate.
	var bodyPayloads [][]byte
	for _, t := range d.texts {
		bodyPayloads = append(bodyPayloads, encodeQuotedPrintable(t.body))
	}
	d.altBoundary = chooseBoundary(bodyPayloads)

	avoid := append([][]byte{[]byte(d.altBoundary)}, bodyPayloads...)
	for _, p := range d.parts {
		avoid = append(avoid, encodeBase64(p.Data))
	}
	d.boundary = chooseBoundary(avoid)

	// Set in reverse so the serialized header block reads conventionally.
	h := &d.header
	if !rec.Date.IsZero() {
		h.SetDate(rec.Date)
	} else if rec.RawDate != "" {
		h.Set("Date", rec.RawDate)
	}
	if rec.Subject != "" {
		h.SetText("Subject", rec.Subject)
	}
	if rec.Cc != "" {
		h.SetText("Cc", rec.Cc)
	}
	if rec.To != "" {
		h.SetText("To", rec.To)
	}
	if rec.Sender != "" {
		h.SetText("From", rec.Sender)
	}
	h.SetContentType("multipart/related", map[string]string{"boundary": d.boundary})

	return d, nil
}

// OutputName derives the output filename for a source path: the base
// name with its extension replaced by ".eml".
func OutputName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".eml"
}

// ClassifyAttachment decides whether an attachment serializes as an
// inline image or a regular attachment part. It reports false for
// attachments without data, which produce no part at all. An attachment
// is inline when it carries a Content-ID and its display name has a
// recognized image extension; jpg normalizes to jpeg.
func ClassifyAttachment(att model.Attachment) (Part, bool) {
	if len(att.Data) == 0 {
		return Part{}, false
	}
	name := att.Filename()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if att.ContentID != "" {
		if subtype, ok := inlineImageTypes[ext]; ok {
			return Part{
				Kind:      PartInline,
				Filename:  name,
				MIMEType:  "image/" + subtype,
				ContentID: att.ContentID,
				Data:      att.Data,
			}, true
		}
	}
	return Part{
		Kind:     PartAttachment,
		Filename: name,
		MIMEType: "application/octet-stream",
		Data:     att.Data,
	}, true
}

// Parts returns the classified attachment parts in serialization order.
func (d *Document) Parts() []Part {
	return d.parts
}

// Boundary returns the root multipart boundary.
func (d *Document) Boundary() string {
	return d.boundary
}

// WriteTo serializes the document. The first child of the root is the
// alternative container, written even when it has no text parts.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	mw, err := message.CreateWriter(cw, d.header.Header)
	if err != nil {
		return cw.n, fmt.Errorf("write message header: %w", err)
	}

	var alt message.Header
	alt.SetContentType("multipart/alternative", map[string]string{"boundary": d.altBoundary})
	aw, err := mw.CreatePart(alt)
	if err != nil {
		return cw.n, fmt.Errorf("create alternative part: %w", err)
	}
	for _, t := range d.texts {
		var th message.Header
		th.Set("Content-Transfer-Encoding", "quoted-printable")
		th.SetContentType(t.mediaType, map[string]string{"charset": "utf-8"})
		tw, err := aw.CreatePart(th)
		if err != nil {
			return cw.n, fmt.Errorf("create %s part: %w", t.mediaType, err)
		}
		if _, err := io.WriteString(tw, t.body); err != nil {
			return cw.n, fmt.Errorf("write %s part: %w", t.mediaType, err)
		}
		if err := tw.Close(); err != nil {
			return cw.n, fmt.Errorf("close %s part: %w", t.mediaType, err)
		}
	}
	if err := aw.Close(); err != nil {
		return cw.n, fmt.Errorf("close alternative part: %w", err)
	}

	for _, p := range d.parts {
		var ph message.Header
		ph.Set("Content-Transfer-Encoding", "base64")
		switch p.Kind {
		case PartInline:
			ph.Set("Content-ID", "<"+p.ContentID+">")
			ph.SetContentDisposition("inline", map[string]string{"filename": p.Filename})
		default:
			ph.SetContentDisposition("attachment", map[string]string{"filename": p.Filename})
		}
		ph.SetContentType(p.MIMEType, nil)
		pw, err := mw.CreatePart(ph)
		if err != nil {
			return cw.n, fmt.Errorf("create part %q: %w", p.Filename, err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			return cw.n, fmt.Errorf("write part %q: %w", p.Filename, err)
		}
		if err := pw.Close(); err != nil {
			return cw.n, fmt.Errorf("close part %q: %w", p.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return cw.n, fmt.Errorf("close message: %w", err)
	}
	return cw.n, nil
}

// Bytes serializes the document into memory.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func chooseBoundary(avoid [][]byte) string {
	for {
		candidate := multipart.NewWriter(io.Discard).Boundary()
		if !anyContains(avoid, []byte(candidate)) {
			return candidate
		}
	}
}

func anyContains(payloads [][]byte, sub []byte) bool {
	for _, p := range payloads {
		if bytes.Contains(p, sub) {
			return true
		}
	}
	return false
}

func encodeQuotedPrintable(s string) []byte {
	var buf bytes.Buffer
	qw := quotedprintable.NewWriter(&buf)
	io.WriteString(qw, s)
	qw.Close()
	return buf.Bytes()
}

func encodeBase64(data []byte) []byte {
	buf := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(buf, data)
	return buf
}

type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
