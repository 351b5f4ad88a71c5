package serializer

import (
	"bytes"
	"errors"
	"strings"

	"github.com/relaycache/relaycache/pkg/header"
)

// ErrCorruptRecord is returned when stored bytes do not parse as a record.
var ErrCorruptRecord = errors.New("corrupt cache record")

// Record is a cached origin response as stored on disk:
//
//	<status-line>\r\n
//	<Name>: <value>\r\n   (per header, in insertion order)
//	\r\n
//	<raw body bytes>
type Record struct {
	StatusLine string
	Header     header.Header
	Body       []byte
}

var crlf = []byte("\r\n")

// RecordToBytes serializes a record into its on-disk representation.
func RecordToBytes(rec Record) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(rec.StatusLine)
	buf.Write(crlf)
	for _, f := range rec.Header {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.Write(crlf)
	}
	buf.Write(crlf)
	buf.Write(rec.Body)
	return buf.Bytes()
}

// BytesToRecord parses stored bytes back into a record. Header lines are
// split on the first ": " occurrence; a record whose header block cannot
// be parsed this way fails with ErrCorruptRecord.
func BytesToRecord(b []byte) (Record, error) {
	sep := bytes.Index(b, []byte("\r\n\r\n"))
	if sep < 0 {
		return Record{}, ErrCorruptRecord
	}
	head := b[:sep]
	body := b[sep+4:]

	lines := bytes.Split(head, crlf)
	statusLine := string(lines[0])
	if statusLine == "" {
		return Record{}, ErrCorruptRecord
	}

	var h header.Header
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(string(line), ": ")
		if !ok {
			return Record{}, ErrCorruptRecord
		}
		h.Add(name, value)
	}
	return Record{StatusLine: statusLine, Header: h, Body: body}, nil
}
