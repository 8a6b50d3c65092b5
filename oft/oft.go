// Package oft extracts message records from Outlook template and
// message files (.oft, .msg). Both formats are OLE2 compound files
// holding MAPI property streams; the extractor walks the streams and
// maps the properties onto a model.Record.
package oft

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/richardlehane/mscfb"

	"github.com/dhcgn/oft-to-eml/model"
	"github.com/dhcgn/oft-to-eml/runner"
)

var ErrNotCompoundFile = errors.New("not an OLE compound file")

// Extractor yields the structured record of one template file.
type Extractor interface {
	Extract(ctx context.Context, path string) (*model.Record, error)
}

// FileExtractor reads template files from the filesystem.
type FileExtractor struct {
	logger *slog.Logger
}

func NewFileExtractor(logger *slog.Logger) *FileExtractor {
	return &FileExtractor{logger: logger}
}

func (e *FileExtractor) Extract(ctx context.Context, path string) (*model.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer file.Close()
	return e.extract(ctx, file)
}

func (e *FileExtractor) extract(ctx context.Context, ra io.ReaderAt) (*model.Record, error) {
	doc, err := mscfb.New(ra)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCompoundFile, err)
	}

	b := newBuilder(e.logger)
	for entry, err := doc.Next(); !errors.Is(err, io.EOF); entry, err = doc.Next() {
		if err != nil {
			return nil, fmt.Errorf("walk compound file: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.apply(entry); err != nil {
			return nil, err
		}
	}
	return b.record(), nil
}

// builder accumulates properties in stream order; record() resolves
// them into the final Record once the walk is done.
type builder struct {
	logger *slog.Logger

	rec          model.Record
	senderName   string
	senderEmail  string
	headers      string
	submitTime   time.Time
	deliveryTime time.Time

	attachments map[int]*attachmentInfo
	recipients  map[int]*recipientInfo
}

type attachmentInfo struct {
	att    model.Attachment
	method uint32
}

type recipientInfo struct {
	name  string
	email string
	smtp  string
	typ   uint32
}

func newBuilder(logger *slog.Logger) *builder {
	return &builder{
		logger:      logger,
		attachments: make(map[int]*attachmentInfo),
		recipients:  make(map[int]*recipientInfo),
	}
}

func (b *builder) apply(entry *mscfb.File) error {
	switch len(entry.Path) {
	case 0:
		return b.applyMessage(entry)
	case 1:
		return b.applyNested(entry)
	default:
		// embedded message internals, not extracted
		return nil
	}
}

func (b *builder) applyMessage(entry *mscfb.File) error {
	if entry.Name == propertiesStream {
		data, err := readStream(entry)
		if err != nil {
			return err
		}
		b.setMessageFixed(parseFixedProperties(data, messageFixedHeaderLen))
		return nil
	}
	tag, typ, ok := parseStreamName(entry.Name)
	if !ok {
		return nil
	}
	data, err := readStream(entry)
	if err != nil {
		return err
	}
	b.setMessageProperty(tag, typ, data)
	return nil
}

func (b *builder) applyNested(entry *mscfb.File) error {
	parent := entry.Path[0]
	if idx, ok := storageIndex(parent, attachStoragePrefix); ok {
		return applyStorage(entry, b.attachment(idx))
	}
	if idx, ok := storageIndex(parent, recipStoragePrefix); ok {
		return applyStorage(entry, b.recipient(idx))
	}
	return nil
}

// propertySink receives one storage's decoded streams.
type propertySink interface {
	setProperty(tag, typ uint16, data []byte)
	setFixed(props []fixedProperty)
}

func applyStorage(entry *mscfb.File, sink propertySink) error {
	if entry.Name == propertiesStream {
		data, err := readStream(entry)
		if err != nil {
			return err
		}
		sink.setFixed(parseFixedProperties(data, storageFixedHeaderLen))
		return nil
	}
	tag, typ, ok := parseStreamName(entry.Name)
	if !ok {
		return nil
	}
	data, err := readStream(entry)
	if err != nil {
		return err
	}
	sink.setProperty(tag, typ, data)
	return nil
}

func (b *builder) attachment(idx int) *attachmentInfo {
	info, ok := b.attachments[idx]
	if !ok {
		info = &attachmentInfo{}
		b.attachments[idx] = info
	}
	return info
}

func (b *builder) recipient(idx int) *recipientInfo {
	info, ok := b.recipients[idx]
	if !ok {
		info = &recipientInfo{}
		b.recipients[idx] = info
	}
	return info
}

func (info *attachmentInfo) setProperty(tag, typ uint16, data []byte) {
	switch tag {
	case tagAttachData:
		if typ == typeBinary {
			info.att.Data = data
		}
	case tagAttachLongFilename:
		info.att.LongFilename = decodeString(typ, data)
	case tagAttachFilename:
		info.att.ShortFilename = decodeString(typ, data)
	case tagAttachContentID:
		info.att.ContentID = decodeString(typ, data)
	}
}

func (info *attachmentInfo) setFixed(props []fixedProperty) {
	for _, p := range props {
		if p.tag == tagAttachMethod && p.typ == typeInt32 {
			info.method = p.uint32()
		}
	}
}

func (info *recipientInfo) setProperty(tag, typ uint16, data []byte) {
	switch tag {
	case tagDisplayName:
		info.name = decodeString(typ, data)
	case tagEmailAddress:
		info.email = decodeString(typ, data)
	case tagSMTPAddress:
		info.smtp = decodeString(typ, data)
	}
}

func (info *recipientInfo) setFixed(props []fixedProperty) {
	for _, p := range props {
		if p.tag == tagRecipientType && p.typ == typeInt32 {
			info.typ = p.uint32()
		}
	}
}

func (b *builder) setMessageProperty(tag, typ uint16, data []byte) {
	switch tag {
	case tagSubject:
		b.rec.Subject = decodeString(typ, data)
	case tagSenderName:
		b.senderName = decodeString(typ, data)
	case tagSenderEmail:
		b.senderEmail = decodeString(typ, data)
	case tagDisplayTo:
		b.rec.To = decodeString(typ, data)
	case tagDisplayCc:
		b.rec.Cc = decodeString(typ, data)
	case tagBody:
		b.rec.PlainBody = decodeString(typ, data)
	case tagBodyHTML:
		b.rec.HTMLBody = decodeHTML(typ, data)
	case tagTransportHeaders:
		b.headers = decodeString(typ, data)
	}
}

func (b *builder) setMessageFixed(props []fixedProperty) {
	for _, p := range props {
		if p.typ != typeSystime {
			continue
		}
		switch p.tag {
		case tagClientSubmitTime:
			b.submitTime = p.filetime()
		case tagDeliveryTime:
			b.deliveryTime = p.filetime()
		}
	}
}

func (b *builder) record() *model.Record {
	rec := b.rec
	rec.Sender = formatAddress(b.senderName, b.senderEmail)
	if rec.To == "" {
		rec.To = b.recipientList(recipientTo)
	}
	if rec.Cc == "" {
		rec.Cc = b.recipientList(recipientCc)
	}
	b.resolveDate(&rec)
	rec.Attachments = b.orderedAttachments()
	return &rec
}

func (b *builder) resolveDate(rec *model.Record) {
	switch {
	case !b.submitTime.IsZero():
		rec.Date = b.submitTime
	case !b.deliveryTime.IsZero():
		rec.Date = b.deliveryTime
	default:
		value := headerValue(b.headers, "Date")
		if value == "" {
			return
		}
		if t, ok := parseDate(value); ok {
			rec.Date = t
		} else {
			rec.RawDate = value
		}
	}
}

func (b *builder) recipientList(typ uint32) string {
	indices := make([]int, 0, len(b.recipients))
	for idx, info := range b.recipients {
		if info.typ == typ {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)

	parts := make([]string, 0, len(indices))
	for _, idx := range indices {
		info := b.recipients[idx]
		email := info.smtp
		if email == "" {
			email = info.email
		}
		if addr := formatAddress(info.name, email); addr != "" {
			parts = append(parts, addr)
		}
	}
	return strings.Join(parts, "; ")
}

func (b *builder) orderedAttachments() []model.Attachment {
	indices := make([]int, 0, len(b.attachments))
	for idx := range b.attachments {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	atts := make([]model.Attachment, 0, len(indices))
	for _, idx := range indices {
		info := b.attachments[idx]
		if len(info.att.Data) == 0 && info.method != attachByValue && b.logger != nil {
			b.logger.Debug("attachment has no inline payload",
				"index", idx, "method", info.method, "name", info.att.Filename())
		}
		atts = append(atts, info.att)
	}
	return atts
}

func formatAddress(name, email string) string {
	switch {
	case name != "" && email != "" && !strings.EqualFold(name, email):
		return fmt.Sprintf("%s <%s>", name, email)
	case email != "":
		return email
	default:
		return name
	}
}

func readStream(entry *mscfb.File) ([]byte, error) {
	if entry.Size <= 0 {
		return nil, nil
	}
	data, err := io.ReadAll(entry)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", entry.Name, err)
	}
	return data, nil
}

// IsTemplate reports whether a path looks like a convertible file.
func IsTemplate(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".oft", ".msg":
		return true
	}
	return false
}

// Producer scans a directory tree for template files and streams one
// envelope per file into the pipeline.
type Producer struct {
	dir       string
	extractor Extractor
	runner    *runner.Runner
	logger    *slog.Logger
}

func NewProducer(dir string, ex Extractor, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("source dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", dir)
	}
	p := &Producer{dir: dir, extractor: ex, runner: r, logger: logger}
	r.AddStage("scan", p.run)
	return p, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseRecords()
	return p.scan(ctx, p.runner.RecordsWriter())
}

func (p *Producer) scan(ctx context.Context, out chan<- model.Envelope) error {
	return filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsTemplate(path) {
			return nil
		}

		env := p.load(ctx, path)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- env:
			return nil
		}
	})
}

func (p *Producer) load(ctx context.Context, path string) model.Envelope {
	hash, err := hashFile(path)
	if err != nil {
		return model.Envelope{Path: path, Err: err}
	}
	rec, err := p.extractor.Extract(ctx, path)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("extract failed", "path", path, "err", err)
		}
		return model.Envelope{Path: path, Hash: hash, Err: err}
	}
	return model.Envelope{Path: path, Hash: hash, Record: rec}
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
