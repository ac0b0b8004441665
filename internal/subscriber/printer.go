package subscriber

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
)

// PayloadFormat selects how the payload line renders message bytes.
type PayloadFormat string

const (
	// FormatRepr renders a byte-string literal, e.g. b'\x01\x02'.
	FormatRepr PayloadFormat = "repr"

	// FormatHex renders lowercase hex, e.g. 0102.
	FormatHex PayloadFormat = "hex"

	// FormatText writes the bytes as text. Invalid UTF-8 is replaced and
	// embedded newlines are kept, so one payload may span several lines.
	FormatText PayloadFormat = "text"
)

// ParsePayloadFormat maps a configured name to a PayloadFormat.
func ParsePayloadFormat(name string) (PayloadFormat, error) {
	switch f := PayloadFormat(strings.ToLower(name)); f {
	case FormatRepr, FormatHex, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPayloadFormat, name)
	}
}

// FormatPayload renders payload according to format.
func FormatPayload(format PayloadFormat, payload []byte) string {
	switch format {
	case FormatHex:
		return hex.EncodeToString(payload)
	case FormatText:
		return strings.ToValidUTF8(string(payload), "�")
	default:
		return reprBytes(payload)
	}
}

// reprBytes renders b as a quoted byte-string literal. Printable ASCII is
// kept, \t \n \r and the quote and backslash are escaped, everything else
// becomes \xNN. Double quotes are used only when b contains a single quote
// and no double quote.
func reprBytes(b []byte) string {
	quote := byte('\'')
	if bytes.IndexByte(b, '\'') >= 0 && bytes.IndexByte(b, '"') < 0 {
		quote = '"'
	}

	var sb strings.Builder
	sb.Grow(len(b) + 3)
	sb.WriteByte('b')
	sb.WriteByte(quote)
	for _, c := range b {
		switch {
		case c == quote || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, c)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}

// Printer writes status and message lines to an output stream.
//
// Each call is a single write under a lock, so the lines of one event are
// never interleaved with another's.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	format PayloadFormat
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, format PayloadFormat) *Printer {
	return &Printer{w: w, format: format}
}

// Status prints the connect line: "connect <host> status <code>".
func (p *Printer) Status(host string, code byte) error {
	return p.write(fmt.Sprintf("connect %s status %d\n", host, code))
}

// Message prints "topic=<topic>" and "payload=<payload>" as two lines.
func (p *Printer) Message(topic string, payload []byte) error {
	return p.write(fmt.Sprintf("topic=%s\npayload=%s\n", topic, FormatPayload(p.format, payload)))
}

func (p *Printer) write(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, s)
	return err
}
