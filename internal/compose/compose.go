// Package compose builds reply drafts and renders drafts into RFC 5322
// messages ready for delivery.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	stdmime "mime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/textutil"
)

// LineWidth is the hard wrap column for rendered body lines.
const LineWidth = 78

// ErrInvalidDraft is matched by every draft validation failure.
var ErrInvalidDraft = errors.New("invalid draft")

// Attachment is attachment content carried by a draft.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Draft is an outgoing message: header fields keyed by name, a plain text
// body and optional attachments.
type Draft struct {
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// Header returns the named header, matching case-insensitively.
func (d *Draft) Header(name string) string {
	if v, ok := d.Headers[name]; ok {
		return v
	}
	for k, v := range d.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (d *Draft) hasHeader(name string) bool {
	for k := range d.Headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// Reply derives a reply draft from orig. The reply is sent from the
// original recipients to the Reply-To (or From) address, keeps Cc, and
// threads through In-Reply-To and References when orig has a Message-ID.
func Reply(orig *store.Message, now time.Time) (*Draft, error) {
	var h mail.Header
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	newID, err := h.MessageID()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	to := orig.Header(store.HeaderReplyTo)
	if strings.TrimSpace(to) == "" {
		to = orig.Header(store.HeaderFrom)
	}

	headers := map[string]string{
		store.HeaderMessageID: "<" + newID + ">",
		store.HeaderDate:      now.Format(time.RFC1123Z),
		store.HeaderFrom:      orig.Header(store.HeaderTo),
		store.HeaderTo:        to,
		store.HeaderCc:        orig.Header(store.HeaderCc),
		store.HeaderBcc:       "",
		store.HeaderSubject:   ReplySubject(orig.Header(store.HeaderSubject)),
	}
	if id := strings.Trim(strings.TrimSpace(orig.Header(store.HeaderMessageID)), "<>"); id != "" {
		ref := "<" + id + ">"
		headers[store.HeaderInReplyTo] = ref
		headers[store.HeaderReferences] = strings.TrimSpace(orig.Header(store.HeaderReferences) + " " + ref)
	}

	return &Draft{Headers: headers, Body: replyBody(orig)}, nil
}

// Prepare returns a copy of d with a Date and Message-ID filled in when the
// draft lacks them. Existing values are kept.
func Prepare(d *Draft, now time.Time) (*Draft, error) {
	out := &Draft{
		Headers:     make(map[string]string, len(d.Headers)+2),
		Body:        d.Body,
		Attachments: d.Attachments,
	}
	for k, v := range d.Headers {
		out.Headers[k] = v
	}
	if strings.TrimSpace(out.Header(store.HeaderDate)) == "" {
		out.Headers[store.HeaderDate] = now.Format(time.RFC1123Z)
	}
	if strings.TrimSpace(out.Header(store.HeaderMessageID)) == "" {
		var h mail.Header
		if err := h.GenerateMessageID(); err != nil {
			return nil, fmt.Errorf("generate message id: %w", err)
		}
		id, err := h.MessageID()
		if err != nil {
			return nil, fmt.Errorf("generate message id: %w", err)
		}
		out.Headers[store.HeaderMessageID] = "<" + id + ">"
	}
	return out, nil
}

// ReplySubject prefixes subject with "Re: " unless it already has one.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

func replyBody(orig *store.Message) string {
	var b strings.Builder
	b.WriteString("\n")
	from := orig.Header(store.HeaderFrom)
	if orig.Date.IsZero() {
		fmt.Fprintf(&b, "%s wrote:\n", from)
	} else {
		fmt.Fprintf(&b, "On %s, %s wrote:\n", orig.Date.Format(time.RFC1123Z), from)
	}
	b.WriteString(Quote(textutil.BodyText(orig.Body.Text, orig.Body.HTML)))
	return b.String()
}

// Quote prefixes every line of text with "> ". Empty lines become ">".
func Quote(text string) string {
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + line
		}
	}
	return strings.Join(lines, "\n")
}

// Wrap hard-wraps every line of body at width characters and joins lines
// with CRLF.
func Wrap(body string, width int) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(body, "\n") {
		runes := []rune(line)
		if len(runes) <= width {
			out = append(out, line)
			continue
		}
		for len(runes) > width {
			out = append(out, string(runes[:width]))
			runes = runes[width:]
		}
		out = append(out, string(runes))
	}
	return strings.Join(out, "\r\n")
}

var addressHeaders = map[string]bool{
	"from":     true,
	"to":       true,
	"cc":       true,
	"bcc":      true,
	"reply-to": true,
	"sender":   true,
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// encodeHeader RFC 2047-encodes non-ASCII header values. Address lists keep
// their addresses readable and only encode display names.
func encodeHeader(name, value string) string {
	if isASCII(value) {
		return value
	}
	if addressHeaders[strings.ToLower(name)] {
		if addrs, err := mail.ParseAddressList(value); err == nil {
			parts := make([]string, len(addrs))
			for i, a := range addrs {
				parts[i] = a.String()
			}
			return strings.Join(parts, ", ")
		}
	}
	return stdmime.QEncoding.Encode("utf-8", value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validField reports whether name is an RFC 5322 field name: printable
// ASCII other than ':' and space.
func validField(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c <= ' ' || c > '~' || c == ':' {
			return false
		}
	}
	return true
}

// checkHeaders rejects header names that are not field names and values
// that would start a new header line.
func checkHeaders(d *Draft) error {
	for k, v := range d.Headers {
		if !validField(k) {
			return fmt.Errorf("%w: invalid header name %q", ErrInvalidDraft, k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("%w: header %s contains a line break", ErrInvalidDraft, k)
		}
	}
	return nil
}

// Render produces the RFC 5322 form of d. Headers appear sorted by name,
// Bcc is blinded to an empty field, headers with empty values are left out,
// and body lines are wrapped at LineWidth. Drafts with attachments render as
// multipart/mixed and drop Bcc entirely.
func Render(d *Draft) ([]byte, error) {
	if err := checkHeaders(d); err != nil {
		return nil, err
	}
	if len(d.Attachments) > 0 {
		return renderMultipart(d)
	}

	headers := make(map[string]string, len(d.Headers)+3)
	for k, v := range d.Headers {
		headers[k] = v
	}
	if !isASCII(d.Body) && !d.hasHeader("Content-Type") {
		headers["MIME-Version"] = "1.0"
		headers["Content-Type"] = "text/plain; charset=utf-8"
		headers["Content-Transfer-Encoding"] = "8bit"
	}

	var lines []string
	for _, k := range sortedKeys(headers) {
		v := headers[k]
		switch {
		case strings.EqualFold(k, store.HeaderBcc):
			lines = append(lines, k+":")
		case strings.TrimSpace(v) == "":
			continue
		default:
			lines = append(lines, k+": "+encodeHeader(k, v))
		}
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\r\n"))
	b.WriteString("\r\n\r\n")
	b.WriteString(Wrap(d.Body, LineWidth))
	return []byte(b.String()), nil
}

func renderMultipart(d *Draft) ([]byte, error) {
	var h mail.Header
	for _, k := range sortedKeys(d.Headers) {
		v := d.Headers[k]
		if strings.EqualFold(k, store.HeaderBcc) || strings.TrimSpace(v) == "" {
			continue
		}
		switch {
		case addressHeaders[strings.ToLower(k)]:
			addrs, err := mail.ParseAddressList(v)
			if err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidDraft, k, err)
			}
			h.SetAddressList(k, addrs)
		case strings.EqualFold(k, store.HeaderSubject):
			h.SetSubject(v)
		default:
			h.Set(k, v)
		}
	}
	h.SetContentType("multipart/mixed", nil)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		mw.Close()
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := tw.Write([]byte(Wrap(d.Body, LineWidth))); err != nil {
		tw.Close()
		mw.Close()
		return nil, fmt.Errorf("write text part: %w", err)
	}
	tw.Close()

	for _, att := range d.Attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		var ah mail.AttachmentHeader
		ah.SetContentType(ct, nil)
		ah.SetFilename(att.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			mw.Close()
			return nil, fmt.Errorf("create attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			aw.Close()
			mw.Close()
			return nil, fmt.Errorf("write attachment %s: %w", att.Filename, err)
		}
		aw.Close()
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parseAddresses(name, value string) ([]*mail.Address, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidDraft, name, err)
	}
	return addrs, nil
}

// Sender returns the envelope sender: the Sender header when present, which
// must hold exactly one address, otherwise the single From address.
func Sender(d *Draft) (string, error) {
	if err := checkHeaders(d); err != nil {
		return "", err
	}
	if d.hasHeader(store.HeaderSender) && strings.TrimSpace(d.Header(store.HeaderSender)) != "" {
		addrs, err := parseAddresses(store.HeaderSender, d.Header(store.HeaderSender))
		if err != nil {
			return "", err
		}
		if len(addrs) != 1 {
			return "", fmt.Errorf("%w: must have exactly one Sender address", ErrInvalidDraft)
		}
		return addrs[0].Address, nil
	}

	addrs, err := parseAddresses(store.HeaderFrom, d.Header(store.HeaderFrom))
	if err != nil {
		return "", err
	}
	switch len(addrs) {
	case 0:
		return "", fmt.Errorf("%w: missing From address", ErrInvalidDraft)
	case 1:
		return addrs[0].Address, nil
	default:
		return "", fmt.Errorf("%w: Sender is required with multiple From addresses", ErrInvalidDraft)
	}
}

// Destinations returns every envelope recipient: To, then Cc, then Bcc.
func Destinations(d *Draft) ([]string, error) {
	if err := checkHeaders(d); err != nil {
		return nil, err
	}
	var out []string
	for _, name := range []string{store.HeaderTo, store.HeaderCc, store.HeaderBcc} {
		addrs, err := parseAddresses(name, d.Header(name))
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			out = append(out, a.Address)
		}
	}
	return out, nil
}
