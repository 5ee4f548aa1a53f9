package testutil

import (
	"time"

	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
)

// MessageBuilder provides a fluent API for constructing store.Message in tests.
type MessageBuilder struct {
	m store.Message
}

// NewMessage creates a builder with sensible defaults. The Message-ID header
// is set to id.
func NewMessage(id string) *MessageBuilder {
	return &MessageBuilder{
		m: store.Message{
			ID: id,
			Headers: map[string]string{
				store.HeaderFrom:      "Sender <sender@example.com>",
				store.HeaderTo:        "recipient@example.com",
				store.HeaderSubject:   "Test Subject",
				store.HeaderMessageID: "<" + id + ">",
			},
			Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Body: store.Body{Text: "Test body"},
			Tags: tagset.New(),
		},
	}
}

func (b *MessageBuilder) WithFrom(v string) *MessageBuilder {
	b.m.Headers[store.HeaderFrom] = v
	return b
}

func (b *MessageBuilder) WithTo(v string) *MessageBuilder {
	b.m.Headers[store.HeaderTo] = v
	return b
}

func (b *MessageBuilder) WithCc(v string) *MessageBuilder {
	b.m.Headers[store.HeaderCc] = v
	return b
}

func (b *MessageBuilder) WithSubject(v string) *MessageBuilder {
	b.m.Headers[store.HeaderSubject] = v
	return b
}

// WithHeader sets an arbitrary header; an empty value removes it.
func (b *MessageBuilder) WithHeader(name, value string) *MessageBuilder {
	if value == "" {
		delete(b.m.Headers, name)
		return b
	}
	b.m.Headers[name] = value
	return b
}

// WithDate sets the message date to midnight UTC of the given day.
func (b *MessageBuilder) WithDate(y int, mo time.Month, d int) *MessageBuilder {
	b.m.Date = time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	return b
}

func (b *MessageBuilder) WithTime(t time.Time) *MessageBuilder {
	b.m.Date = t
	return b
}

func (b *MessageBuilder) WithBody(v string) *MessageBuilder {
	b.m.Body.Text = v
	return b
}

func (b *MessageBuilder) WithHTML(v string) *MessageBuilder {
	b.m.Body.HTML = v
	return b
}

func (b *MessageBuilder) WithTags(tags ...string) *MessageBuilder {
	b.m.Tags = tagset.New(tags...)
	return b
}

func (b *MessageBuilder) WithAttachment(filename, contentType string, size int64) *MessageBuilder {
	b.m.Attachments = append(b.m.Attachments, store.AttachmentRef{
		Handle:      store.Handle([]byte(filename)),
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
	})
	return b
}

// Build returns a copy of the constructed message.
func (b *MessageBuilder) Build() *store.Message {
	return b.m.Clone()
}
