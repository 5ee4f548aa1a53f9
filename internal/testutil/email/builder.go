// Package email provides test helpers for constructing raw RFC 5322 messages.
package email

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Attachment represents a MIME attachment for the builder.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte // raw bytes; will be base64-encoded
}

// MessageBuilder constructs raw MIME messages with a fluent API.
// Messages use \r\n line endings unless LF is called.
type MessageBuilder struct {
	headerKeys  []string
	headerVals  []string
	body        string
	html        string
	attachments []Attachment
	boundary    string
	lf          bool
}

// NewMessage creates a MessageBuilder with sensible defaults.
func NewMessage() *MessageBuilder {
	b := &MessageBuilder{
		body:     "This is a test message body.",
		boundary: "boundary123",
	}
	return b.
		Header("From", "sender@example.com").
		Header("To", "recipient@example.com").
		Header("Subject", "Test Message").
		Header("Date", "Mon, 01 Jan 2024 12:00:00 +0000")
}

// Header sets (or with an empty value, removes) a header. Order of first
// appearance is preserved.
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	for i, k := range b.headerKeys {
		if strings.EqualFold(k, key) {
			if value == "" {
				b.headerKeys = append(b.headerKeys[:i], b.headerKeys[i+1:]...)
				b.headerVals = append(b.headerVals[:i], b.headerVals[i+1:]...)
			} else {
				b.headerVals[i] = value
			}
			return b
		}
	}
	if value != "" {
		b.headerKeys = append(b.headerKeys, key)
		b.headerVals = append(b.headerVals, value)
	}
	return b
}

func (b *MessageBuilder) From(v string) *MessageBuilder      { return b.Header("From", v) }
func (b *MessageBuilder) To(v string) *MessageBuilder        { return b.Header("To", v) }
func (b *MessageBuilder) Cc(v string) *MessageBuilder        { return b.Header("Cc", v) }
func (b *MessageBuilder) Subject(v string) *MessageBuilder   { return b.Header("Subject", v) }
func (b *MessageBuilder) Date(v string) *MessageBuilder      { return b.Header("Date", v) }
func (b *MessageBuilder) MessageID(v string) *MessageBuilder { return b.Header("Message-ID", v) }

// Body sets the text/plain body.
func (b *MessageBuilder) Body(v string) *MessageBuilder { b.body = v; return b }

// HTML adds a text/html alternative (or, with an empty Body, the only part).
func (b *MessageBuilder) HTML(v string) *MessageBuilder { b.html = v; return b }

// WithAttachment adds an attachment to the message.
func (b *MessageBuilder) WithAttachment(filename, contentType string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	})
	return b
}

// LF switches to bare \n line endings, as found in most mbox files.
func (b *MessageBuilder) LF() *MessageBuilder { b.lf = true; return b }

// Bytes builds the complete MIME message.
func (b *MessageBuilder) Bytes() []byte {
	nl := "\r\n"
	if b.lf {
		nl = "\n"
	}

	var s strings.Builder
	for i, k := range b.headerKeys {
		s.WriteString(k + ": " + b.headerVals[i] + nl)
	}

	switch {
	case len(b.attachments) > 0:
		s.WriteString("MIME-Version: 1.0" + nl)
		s.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q", b.boundary) + nl)
		s.WriteString(nl)

		s.WriteString("--" + b.boundary + nl)
		s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl)
		s.WriteString(nl)
		s.WriteString(b.body + nl)

		for _, att := range b.attachments {
			ct := att.ContentType
			if ct == "" {
				ct = "application/octet-stream"
			}
			s.WriteString("--" + b.boundary + nl)
			s.WriteString(fmt.Sprintf("Content-Type: %s; name=%q", ct, att.Filename) + nl)
			s.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=%q", att.Filename) + nl)
			s.WriteString("Content-Transfer-Encoding: base64" + nl)
			s.WriteString(nl)
			s.WriteString(base64.StdEncoding.EncodeToString(att.Data) + nl)
		}
		s.WriteString("--" + b.boundary + "--" + nl)

	case b.html != "" && b.body != "":
		s.WriteString("MIME-Version: 1.0" + nl)
		s.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", b.boundary) + nl)
		s.WriteString(nl)
		s.WriteString("--" + b.boundary + nl)
		s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl + nl)
		s.WriteString(b.body + nl)
		s.WriteString("--" + b.boundary + nl)
		s.WriteString(`Content-Type: text/html; charset="utf-8"` + nl + nl)
		s.WriteString(b.html + nl)
		s.WriteString("--" + b.boundary + "--" + nl)

	case b.html != "":
		s.WriteString(`Content-Type: text/html; charset="utf-8"` + nl)
		s.WriteString(nl)
		s.WriteString(b.html + nl)

	default:
		s.WriteString(`Content-Type: text/plain; charset="utf-8"` + nl)
		s.WriteString(nl)
		s.WriteString(b.body + nl)
	}

	return []byte(s.String())
}
