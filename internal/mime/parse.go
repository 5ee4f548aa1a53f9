// Package mime parses raw RFC 5322 messages into store records using enmime.
package mime

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
	"github.com/wesm/tagmail/internal/textutil"
)

// capturedHeaders are the header fields copied onto the record.
var capturedHeaders = []string{
	store.HeaderFrom,
	store.HeaderTo,
	store.HeaderCc,
	store.HeaderBcc,
	store.HeaderReplyTo,
	store.HeaderSender,
	store.HeaderSubject,
	store.HeaderDate,
	store.HeaderMessageID,
	store.HeaderInReplyTo,
	store.HeaderReferences,
}

var addressHeaders = map[string]bool{
	store.HeaderFrom:    true,
	store.HeaderTo:      true,
	store.HeaderCc:      true,
	store.HeaderBcc:     true,
	store.HeaderReplyTo: true,
	store.HeaderSender:  true,
}

// Parser turns raw messages into records. Attachment content goes to the
// blob store; a nil blob store only computes handles.
type Parser struct {
	blobs  *store.BlobStore
	logger *slog.Logger
}

// NewParser returns a parser writing attachment content to blobs.
func NewParser(blobs *store.BlobStore, logger *slog.Logger) *Parser {
	if blobs == nil {
		blobs = store.NewBlobStore("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{blobs: blobs, logger: logger}
}

// MessageID derives the record identifier: the Message-ID header without
// angle brackets, or a content hash when the header is missing.
func MessageID(header string, raw []byte) string {
	id := strings.TrimSpace(header)
	id = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">"))
	if id != "" {
		return id
	}
	return "sha256-" + store.Handle(raw)[:32]
}

// Parse parses raw into a record with an empty tag set.
func (p *Parser) Parse(raw []byte) (*store.Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty message")
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	headers := make(map[string]string)
	for _, name := range capturedHeaders {
		var v string
		if addressHeaders[name] {
			v = formatAddressList(env, name)
		} else {
			v = env.GetHeader(name)
		}
		v = strings.TrimSpace(textutil.EnsureUTF8(v))
		if v != "" {
			headers[name] = v
		}
	}

	msg := &store.Message{
		ID:      MessageID(headers[store.HeaderMessageID], raw),
		Headers: headers,
		Body: store.Body{
			Text: textutil.EnsureUTF8(env.Text),
			HTML: textutil.EnsureUTF8(env.HTML),
		},
		Tags: tagset.New(),
	}
	if d := headers[store.HeaderDate]; d != "" {
		msg.Date = parseDate(d)
	}

	parts := append(append([]*enmime.Part(nil), env.Attachments...), env.Inlines...)
	for _, part := range parts {
		if isBodyPart(part) {
			continue
		}
		handle, err := p.blobs.Put(part.Content)
		if err != nil {
			return nil, fmt.Errorf("store attachment %q: %w", part.FileName, err)
		}
		msg.Attachments = append(msg.Attachments, store.AttachmentRef{
			Handle:      handle,
			Filename:    textutil.EnsureUTF8(part.FileName),
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
		})
	}

	for _, e := range env.Errors {
		p.logger.Debug("mime parse warning", "id", msg.ID, "warning", e.Error())
	}
	return msg, nil
}

// formatAddressList normalizes an address header to "Name <addr>" entries
// with lowercased addresses. Unparseable lists keep the decoded raw value.
func formatAddressList(env *enmime.Envelope, header string) string {
	list, err := env.AddressList(header)
	if err != nil || len(list) == 0 {
		return env.GetHeader(header)
	}
	parts := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		email := strings.ToLower(addr.Address)
		if addr.Name != "" {
			parts = append(parts, addr.Name+" <"+email+">")
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}

// isBodyPart reports whether part is body content rather than an attachment:
// text/plain and text/html parts without a filename and without an explicit
// attachment disposition.
func isBodyPart(part *enmime.Part) bool {
	contentType := strings.ToLower(part.ContentType)
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType != "text/plain" && contentType != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	disposition := strings.ToLower(part.Disposition)
	if idx := strings.Index(disposition, ";"); idx >= 0 {
		disposition = strings.TrimSpace(disposition[:idx])
	}
	return disposition != "attachment"
}

var dateFormats = []string{
	time.RFC1123Z,                           // "Mon, 02 Jan 2006 15:04:05 -0700"
	time.RFC1123,                            // "Mon, 02 Jan 2006 15:04:05 MST"
	"Mon, 2 Jan 2006 15:04:05 -0700",        // single-digit day
	"Mon, 2 Jan 2006 15:04:05 MST",          // single-digit day, named TZ
	"2 Jan 2006 15:04:05 -0700",             // no weekday
	"2 Jan 2006 15:04:05 MST",               // no weekday, named TZ
	"02 Jan 2006 15:04:05 -0700",            // no weekday, zero-padded
	"02 Jan 2006 15:04:05 MST",              // no weekday, zero-padded, named TZ
	time.RFC822Z,                            // "02 Jan 06 15:04 -0700"
	time.RFC822,                             // "02 Jan 06 15:04 MST"
	time.RFC850,                             // "Monday, 02-Jan-06 15:04:05 MST"
	time.ANSIC,                              // "Mon Jan _2 15:04:05 2006"
	time.UnixDate,                           // "Mon Jan _2 15:04:05 MST 2006"
	"Mon, 02 Jan 2006 15:04:05 -0700 (MST)", // parenthesized TZ
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate tries the common mail date layouts and returns the time in UTC,
// or the zero time if none match.
func parseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")

	// Try without a trailing "(UTC)" style comment first.
	base := s
	if idx := strings.LastIndex(s, "("); idx > 0 {
		base = strings.TrimSpace(s[:idx])
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, base); err == nil {
			return t.UTC()
		}
	}
	if base != s {
		for _, format := range dateFormats {
			if t, err := time.Parse(format, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
