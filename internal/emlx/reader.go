// Package emlx parses Apple Mail .emlx files.
//
// The .emlx format stores one message per file:
//   - Line 1: decimal byte count of the raw MIME content
//   - Next N bytes: raw RFC 5322 MIME message
//   - Remainder (optional): XML plist with Apple Mail metadata
package emlx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"howett.net/plist"
)

// Apple Mail flag bits.
const (
	FlagRead     = 1 << 0
	FlagDeleted  = 1 << 1
	FlagAnswered = 1 << 2
	FlagFlagged  = 1 << 4
)

// appleEpoch is the zero point of plist date-sent values.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Message represents a parsed .emlx file.
type Message struct {
	// Raw is the RFC 5322 MIME content.
	Raw []byte

	// PlistDate is the date-sent value from the plist metadata.
	// Zero if the plist is missing or the field is absent.
	PlistDate time.Time

	// Flags is the Apple Mail flags integer from the plist.
	Flags int64
}

func (m *Message) Read() bool     { return m.Flags&FlagRead != 0 }
func (m *Message) Answered() bool { return m.Flags&FlagAnswered != 0 }
func (m *Message) Flagged() bool  { return m.Flags&FlagFlagged != 0 }

// Parse parses an .emlx file from its raw bytes.
func Parse(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("emlx: empty file")
	}

	newline := bytes.IndexByte(data, '\n')
	if newline < 0 {
		return nil, fmt.Errorf("emlx: no newline after byte count")
	}
	countStr := strings.TrimSpace(string(data[:newline]))
	byteCount, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("emlx: invalid byte count %q: %w", countStr, err)
	}
	if byteCount < 0 {
		return nil, fmt.Errorf("emlx: negative byte count %d", byteCount)
	}

	mimeStart := newline + 1
	mimeEnd := int64(mimeStart) + byteCount
	if mimeEnd > int64(len(data)) {
		return nil, fmt.Errorf(
			"emlx: byte count %d exceeds file size (available: %d)",
			byteCount, len(data)-mimeStart,
		)
	}

	msg := &Message{Raw: data[mimeStart:mimeEnd]}
	if int(mimeEnd) < len(data) {
		parseMetadata(data[mimeEnd:], msg)
	}
	return msg, nil
}

// parseMetadata fills msg from the trailing plist. Malformed metadata is
// ignored; the message content is what matters.
func parseMetadata(data []byte, msg *Message) {
	start := bytes.Index(data, []byte("<?xml"))
	if start < 0 {
		start = bytes.Index(data, []byte("<plist"))
	}
	if start < 0 {
		return
	}

	var meta map[string]any
	if _, err := plist.Unmarshal(data[start:], &meta); err != nil {
		return
	}

	if v, ok := number(meta["date-sent"]); ok {
		msg.PlistDate = appleEpoch.Add(time.Duration(v * float64(time.Second)))
	}
	if v, ok := number(meta["flags"]); ok {
		msg.Flags = int64(v)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
