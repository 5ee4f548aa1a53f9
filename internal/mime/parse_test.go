package mime

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jhillyerd/enmime"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/testutil"
	testemail "github.com/wesm/tagmail/internal/testutil/email"
)

// mustParse calls Parse with a handle-only blob store and fails the test on error.
func mustParse(t *testing.T, raw []byte) *store.Message {
	t.Helper()
	msg, err := NewParser(nil, nil).Parse(raw)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return msg
}

func assertHeader(t *testing.T, msg *store.Message, name, want string) {
	t.Helper()
	if got := msg.Header(name); got != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}

func TestParse_MinimalMessage(t *testing.T) {
	raw := testemail.NewMessage().
		From("Alice Example <Alice@Example.COM>").
		Date("Mon, 02 Jan 2006 15:04:05 -0700").
		MessageID("<abc@example.com>").
		Body("Body text").
		Bytes()

	msg := mustParse(t, raw)

	if msg.ID != "abc@example.com" {
		t.Errorf("ID = %q, want abc@example.com", msg.ID)
	}
	assertHeader(t, msg, store.HeaderFrom, "Alice Example <alice@example.com>")
	assertHeader(t, msg, store.HeaderTo, "recipient@example.com")
	assertHeader(t, msg, store.HeaderSubject, "Test Message")
	assertHeader(t, msg, store.HeaderMessageID, "<abc@example.com>")
	if want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC); !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
	if got := strings.TrimSpace(msg.Body.Text); got != "Body text" {
		t.Errorf("Body.Text = %q, want %q", got, "Body text")
	}
	if msg.Tags == nil || len(msg.Tags) != 0 {
		t.Errorf("Tags = %v, want empty set", msg.Tags)
	}
	if _, ok := msg.Headers[store.HeaderCc]; ok {
		t.Error("absent Cc header should not be recorded")
	}
}

func TestParse_IDFromContentHash(t *testing.T) {
	raw := testemail.NewMessage().Body("no id here").Bytes()

	a := mustParse(t, raw)
	b := mustParse(t, raw)
	if !strings.HasPrefix(a.ID, "sha256-") || len(a.ID) != len("sha256-")+32 {
		t.Fatalf("ID = %q, want sha256-<32 hex>", a.ID)
	}
	if a.ID != b.ID {
		t.Errorf("content-hash ID not stable: %q vs %q", a.ID, b.ID)
	}

	other := mustParse(t, testemail.NewMessage().Body("different").Bytes())
	if other.ID == a.ID {
		t.Error("different content produced the same ID")
	}
}

func TestMessageID(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"<abc@example.com>", "abc@example.com"},
		{"  <abc@example.com>  ", "abc@example.com"},
		{"abc@example.com", "abc@example.com"},
		{"<>", "sha256-" + store.Handle([]byte("raw"))[:32]},
		{"", "sha256-" + store.Handle([]byte("raw"))[:32]},
	}
	for _, tt := range tests {
		if got := MessageID(tt.header, []byte("raw")); got != tt.want {
			t.Errorf("MessageID(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := NewParser(nil, nil).Parse([]byte(" \r\n ")); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestParse_HTMLAlternative(t *testing.T) {
	raw := testemail.NewMessage().
		Body("plain version").
		HTML("<p>html <b>version</b></p>").
		Bytes()

	msg := mustParse(t, raw)
	if got := strings.TrimSpace(msg.Body.Text); got != "plain version" {
		t.Errorf("Body.Text = %q", got)
	}
	testutil.AssertContainsAll(t, msg.Body.HTML, "<b>version</b>")
	if len(msg.Attachments) != 0 {
		t.Errorf("alternative parts recorded as attachments: %+v", msg.Attachments)
	}
}

func TestParse_Attachments(t *testing.T) {
	data := []byte("%PDF-1.4 fake pdf content")
	raw := testemail.NewMessage().
		Body("see attached").
		WithAttachment("report.pdf", "application/pdf", data).
		Bytes()

	blobs := store.NewBlobStore(t.TempDir())
	msg, err := NewParser(blobs, nil).Parse(raw)
	testutil.MustNoErr(t, err, "Parse")

	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments = %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "report.pdf" || att.ContentType != "application/pdf" {
		t.Errorf("attachment = %+v", att)
	}
	if att.Size != int64(len(data)) || att.Handle != store.Handle(data) {
		t.Errorf("attachment size/handle = %d %q", att.Size, att.Handle)
	}

	got, err := blobs.Get(att.Handle)
	testutil.MustNoErr(t, err, "blobs.Get")
	if string(got) != string(data) {
		t.Errorf("stored content = %q, want %q", got, data)
	}
	if strings.TrimSpace(msg.Body.Text) != "see attached" {
		t.Errorf("Body.Text = %q", msg.Body.Text)
	}
}

func TestParse_Latin1Charset(t *testing.T) {
	raw := []byte("From: sender@example.com\r\nTo: recipient@example.com\r\nSubject: Caf\xe9\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n\r\nCaf\xe9 au lait")

	msg := mustParse(t, raw)
	if msg.Body.Text != "Café au lait" {
		t.Errorf("Body.Text = %q, want %q", msg.Body.Text, "Café au lait")
	}
	if s := msg.Header(store.HeaderSubject); !utf8.ValidString(s) || s == "" {
		t.Errorf("Subject = %q, want non-empty valid UTF-8", s)
	}
}

func TestParse_InvalidCharset(t *testing.T) {
	raw := testemail.NewMessage().
		Header("Content-Type", "text/plain; charset=invalid-charset-xyz").
		Body("Body text").
		Bytes()

	msg := mustParse(t, raw)
	assertHeader(t, msg, store.HeaderSubject, "Test Message")
	if !utf8.ValidString(msg.Body.Text) {
		t.Errorf("Body.Text is not valid UTF-8: %q", msg.Body.Text)
	}
}

func TestParse_EncodedSubject(t *testing.T) {
	raw := testemail.NewMessage().Subject("=?UTF-8?B?R3LDvMOfZQ==?=").Bytes()
	msg := mustParse(t, raw)
	assertHeader(t, msg, store.HeaderSubject, "Grüße")
}

func TestParse_GroupAddress(t *testing.T) {
	msg := mustParse(t, testemail.NewMessage().
		To("team: alice@example.com, bob@example.com;").
		Body("Body").
		Bytes())
	assertHeader(t, msg, store.HeaderTo, "alice@example.com, bob@example.com")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time // zero means unparseable
	}{
		{"RFC1123Z", "Mon, 02 Jan 2006 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"no weekday", "02 Jan 2006 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"parenthesized zone", "Mon, 02 Jan 2006 15:04:05 -0700 (PST)",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"double space after comma", "Mon,  2 Dec 2024 11:42:03 +0000 (UTC)",
			time.Date(2024, 12, 2, 11, 42, 3, 0, time.UTC)},
		{"ISO 8601 UTC", "2006-01-02T15:04:05Z",
			time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"ISO 8601 offset", "2006-01-02T15:04:05-07:00",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"SQL-like with tz", "2006-01-02 15:04:05 -0700",
			time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"SQL-like no tz", "2006-01-02 15:04:05",
			time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},

		{"empty", "", time.Time{}},
		{"garbage", "not a date", time.Time{}},
		{"date only", "2006-01-02", time.Time{}},
		{"spelled month", "January 2, 2006", time.Time{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseDate(tc.input)
			if tc.want.IsZero() {
				if !got.IsZero() {
					t.Errorf("parseDate(%q) = %v, want zero time", tc.input, got)
				}
				return
			}
			if !got.Equal(tc.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tc.input, got, tc.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("parseDate(%q) location = %v, want UTC", tc.input, got.Location())
			}
		})
	}
}

func TestIsBodyPart(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		filename    string
		disposition string
		wantIsBody  bool
	}{
		{"text/plain with charset", "text/plain; charset=utf-8", "", "", true},
		{"text/html with charset", "text/html; charset=utf-8", "", "", true},
		{"uppercase with charset", "TEXT/PLAIN; CHARSET=UTF-8", "", "", true},
		{"application/pdf", "application/pdf", "", "", false},
		{"image/png", "image/png", "", "", false},
		{"text/plain with filename", "text/plain", "file.txt", "", false},
		{"attachment disposition", "text/plain", "", "attachment", false},
		{"attachment with params", "text/plain", "", "ATTACHMENT; filename=\"x.txt\"", false},
		{"inline disposition", "text/plain; charset=utf-8", "", "inline", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			part := &enmime.Part{
				ContentType: tt.contentType,
				FileName:    tt.filename,
				Disposition: tt.disposition,
			}
			if got := isBodyPart(part); got != tt.wantIsBody {
				t.Errorf("isBodyPart() = %v, want %v", got, tt.wantIsBody)
			}
		})
	}
}
