package oft

import (
	"encoding/binary"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// MAPI property tags used by the extractor.
const (
	tagSubject            = 0x0037
	tagClientSubmitTime   = 0x0039
	tagTransportHeaders   = 0x007D
	tagRecipientType      = 0x0C15
	tagSenderName         = 0x0C1A
	tagSenderEmail        = 0x0C1F
	tagDisplayCc          = 0x0E03
	tagDisplayTo          = 0x0E04
	tagDeliveryTime       = 0x0E06
	tagBody               = 0x1000
	tagBodyHTML           = 0x1013
	tagDisplayName        = 0x3001
	tagEmailAddress       = 0x3003
	tagAttachData         = 0x3701
	tagAttachFilename     = 0x3704
	tagAttachMethod       = 0x3705
	tagAttachLongFilename = 0x3707
	tagAttachContentID    = 0x3712
	tagSMTPAddress        = 0x39FE
)

// MAPI property types.
const (
	typeInt32   = 0x0003
	typeString8 = 0x001E
	typeUnicode = 0x001F
	typeSystime = 0x0040
	typeBinary  = 0x0102
)

// Recipient type values of tagRecipientType.
const (
	recipientTo uint32 = 1
	recipientCc uint32 = 2
)

// Attachment method values of tagAttachMethod. Only by-value
// attachments carry their payload in the data stream.
const attachByValue uint32 = 1

const (
	substgStreamPrefix  = "__substg1.0_"
	propertiesStream    = "__properties_version1.0"
	attachStoragePrefix = "__attach_version1.0_#"
	recipStoragePrefix  = "__recip_version1.0_#"

	// The fixed property stream starts with a reserved header: 32 bytes
	// at message level, 8 inside attachment and recipient storages.
	messageFixedHeaderLen = 32
	storageFixedHeaderLen = 8
)

// parseStreamName splits a __substg1.0_XXXXTTTT stream name into its
// property tag and type.
func parseStreamName(name string) (tag, typ uint16, ok bool) {
	if !strings.HasPrefix(name, substgStreamPrefix) {
		return 0, 0, false
	}
	hexPart := name[len(substgStreamPrefix):]
	if len(hexPart) != 8 {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint16(v >> 16), uint16(v), true
}

// storageIndex extracts the hex sequence number from an attachment or
// recipient storage name. The sequence number is the source order.
func storageIndex(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	v, err := strconv.ParseUint(name[len(prefix):], 16, 32)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// fixedProperty is one 16-byte entry of a __properties_version1.0
// stream: a 32-bit tag, 32 bits of flags and an 8-byte value.
type fixedProperty struct {
	tag   uint16
	typ   uint16
	value [8]byte
}

func parseFixedProperties(data []byte, headerLen int) []fixedProperty {
	if len(data) < headerLen {
		return nil
	}
	data = data[headerLen:]

	props := make([]fixedProperty, 0, len(data)/16)
	for len(data) >= 16 {
		v := binary.LittleEndian.Uint32(data[0:4])
		p := fixedProperty{tag: uint16(v >> 16), typ: uint16(v)}
		copy(p.value[:], data[8:16])
		props = append(props, p)
		data = data[16:]
	}
	return props
}

func (p fixedProperty) uint32() uint32 {
	return binary.LittleEndian.Uint32(p.value[:4])
}

// filetime interprets the value as a Windows FILETIME: 100ns ticks
// since 1601-01-01 UTC.
func (p fixedProperty) filetime() time.Time {
	return filetimeToTime(binary.LittleEndian.Uint64(p.value[:]))
}

// Ticks between the FILETIME epoch and the Unix epoch.
const filetimeUnixDelta = 116444736000000000

func filetimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	return time.Unix(0, (int64(ft)-filetimeUnixDelta)*100).UTC()
}

// decodeString decodes a property stream into text according to its
// declared type: UTF-16LE for unicode properties, Windows-1252 for
// 8-bit ones. Trailing NULs are stripped.
func decodeString(typ uint16, data []byte) string {
	switch typ {
	case typeUnicode:
		return decodeUnicode(data)
	case typeString8:
		return decodeANSI(data)
	default:
		return strings.TrimRight(string(data), "\x00")
	}
}

// decodeHTML handles the HTML body, which is stored as a raw binary
// stream in most files. ANSI decoding is the fallback for payloads
// that are not valid UTF-8; it cannot fail.
func decodeHTML(typ uint16, data []byte) string {
	if typ != typeBinary {
		return decodeString(typ, data)
	}
	if utf8.Valid(data) {
		return strings.TrimRight(string(data), "\x00")
	}
	return decodeANSI(data)
}

func decodeUnicode(data []byte) string {
	if len(data)%2 == 1 {
		data = data[:len(data)-1]
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := decoder.Bytes(data)
	if err != nil {
		return strings.TrimRight(string(data), "\x00")
	}
	return strings.TrimRight(string(out), "\x00")
}

func decodeANSI(data []byte) string {
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.TrimRight(string(data), "\x00")
	}
	return strings.TrimRight(string(out), "\x00")
}

// headerValue pulls one field out of a transport header block. Outlook
// prepends a "Microsoft Mail Internet Headers" preamble line to the
// block, so this scans lines instead of using a strict MIME parser.
func headerValue(headers, key string) string {
	if headers == "" {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(headers, "\r\n", "\n"), "\n")
	prefix := strings.ToLower(key) + ":"
	for i, line := range lines {
		if line == "" {
			break
		}
		if !strings.HasPrefix(strings.ToLower(line), prefix) {
			continue
		}
		value := strings.TrimSpace(line[len(prefix):])
		for _, cont := range lines[i+1:] {
			if cont == "" || (cont[0] != ' ' && cont[0] != '\t') {
				break
			}
			value += " " + strings.TrimSpace(cont)
		}
		return value
	}
	return ""
}

// parseDate tries the RFC 5322 parser first, then the lenient one.
// Unparseable values are passed through verbatim by the caller.
func parseDate(value string) (time.Time, bool) {
	if t, err := mail.ParseDate(value); err == nil {
		return t, true
	}
	if t, err := dateparse.ParseAny(value); err == nil {
		return t, true
	}
	return time.Time{}, false
}
