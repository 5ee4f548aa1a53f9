package compose

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/go-cmp/cmp"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/testutil"
)

var replyNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func TestReply(t *testing.T) {
	orig := testutil.NewMessage("orig@example.com").
		WithFrom("Enid Blyton <enid@blyt.on>").
		WithTo("me@example.com").
		WithCc("friend@example.com").
		WithSubject("Five Go Adventuring").
		WithHeader(store.HeaderReferences, "<root@example.com>").
		WithTime(time.Unix(1234567890, 0).UTC()).
		WithBody("Five Write Some Rust\nSecond line\n\nAfter blank\n").
		Build()

	d, err := Reply(orig, replyNow)
	testutil.MustNoErr(t, err, "Reply")

	want := map[string]string{
		"From":        "me@example.com",
		"To":          "Enid Blyton <enid@blyt.on>",
		"Cc":          "friend@example.com",
		"Bcc":         "",
		"Subject":     "Re: Five Go Adventuring",
		"Date":        "Fri, 01 Mar 2024 09:30:00 +0000",
		"In-Reply-To": "<orig@example.com>",
		"References":  "<root@example.com> <orig@example.com>",
	}
	for k, v := range want {
		if got := d.Header(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	id := d.Header("Message-ID")
	if !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, ">") || id == "<orig@example.com>" {
		t.Errorf("Message-ID = %q, want a fresh bracketed id", id)
	}

	wantBody := "\nOn Fri, 13 Feb 2009 23:31:30 +0000, Enid Blyton <enid@blyt.on> wrote:\n" +
		"> Five Write Some Rust\n> Second line\n>\n> After blank"
	if d.Body != wantBody {
		t.Errorf("Body mismatch (-want +got):\n%s", cmp.Diff(wantBody, d.Body))
	}
}

func TestReplyUsesReplyTo(t *testing.T) {
	orig := testutil.NewMessage("x").
		WithHeader(store.HeaderReplyTo, "list@example.com").
		Build()
	d, err := Reply(orig, replyNow)
	testutil.MustNoErr(t, err, "Reply")
	if got := d.Header("To"); got != "list@example.com" {
		t.Errorf("To = %q, want Reply-To address", got)
	}
}

func TestReplyWithoutMessageID(t *testing.T) {
	orig := testutil.NewMessage("sha256-abc").WithHeader(store.HeaderMessageID, "").Build()
	d, err := Reply(orig, replyNow)
	testutil.MustNoErr(t, err, "Reply")
	for _, h := range []string{"In-Reply-To", "References"} {
		if d.hasHeader(h) {
			t.Errorf("%s should be omitted, got %q", h, d.Header(h))
		}
	}
	if d.Header("Subject") == "" {
		t.Error("reply should still have a subject")
	}
}

func TestReplyHTMLOnly(t *testing.T) {
	orig := testutil.NewMessage("h").WithBody("").WithHTML("<p>Hello</p><p>World</p>").Build()
	d, err := Reply(orig, replyNow)
	testutil.MustNoErr(t, err, "Reply")
	testutil.AssertContainsAll(t, d.Body, "> Hello\n>\n> World")
	if strings.Contains(d.Body, "<p>") {
		t.Errorf("HTML markup leaked into reply: %q", d.Body)
	}
}

func TestPrepare(t *testing.T) {
	d := &Draft{Headers: map[string]string{"To": "a@x.com"}, Body: "hi"}
	p, err := Prepare(d, replyNow)
	testutil.MustNoErr(t, err, "Prepare")
	if got := p.Header("Date"); got != "Fri, 01 Mar 2024 09:30:00 +0000" {
		t.Errorf("Date = %q", got)
	}
	if id := p.Header("Message-ID"); !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, ">") {
		t.Errorf("Message-ID = %q", id)
	}
	if d.hasHeader("Date") || d.hasHeader("Message-ID") {
		t.Error("Prepare modified its input")
	}

	kept, err := Prepare(&Draft{Headers: map[string]string{
		"date":       "Mon, 01 Jan 2024 00:00:00 +0000",
		"Message-ID": "<fixed@x.com>",
	}}, replyNow)
	testutil.MustNoErr(t, err, "Prepare")
	if kept.Header("Date") != "Mon, 01 Jan 2024 00:00:00 +0000" || kept.Header("Message-ID") != "<fixed@x.com>" {
		t.Errorf("existing headers replaced: %v", kept.Headers)
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello", "Re: Hello"},
		{"Re: Hello", "Re: Hello"},
		{"RE: Hello", "RE: Hello"},
		{"re:Hello", "re:Hello"},
		{"Regarding", "Re: Regarding"},
		{"", "Re: "},
	}
	for _, tt := range tests {
		if got := ReplySubject(tt.in); got != tt.want {
			t.Errorf("ReplySubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no linebreak", strings.Repeat(".", 78), strings.Repeat(".", 78)},
		{"force linebreak", strings.Repeat(".", 80), strings.Repeat(".", 78) + "\r\n.."},
		{
			"existing linebreaks kept",
			"hi there, yes, look:\r\n```\r\nfoo\r\n```\r\n\r\nMany thanks,",
			"hi there, yes, look:\r\n```\r\nfoo\r\n```\r\n\r\nMany thanks,",
		},
		{
			"existing and new linebreaks",
			"look:\r\nfo" + strings.Repeat("o", 200) + "\r\nend",
			"look:\r\nfo" + strings.Repeat("o", 76) + "\r\n" + strings.Repeat("o", 78) + "\r\n" + strings.Repeat("o", 46) + "\r\nend",
		},
		{"LF normalized", "a\nb", "a\r\nb"},
		{"multibyte counted as characters", strings.Repeat("é", 79), strings.Repeat("é", 78) + "\r\né"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Wrap(tt.in, LineWidth); got != tt.want {
				t.Errorf("Wrap mismatch (-want +got):\n%s", cmp.Diff(tt.want, got))
			}
		})
	}
}

func TestRenderSortedHeaders(t *testing.T) {
	d := &Draft{
		Headers: map[string]string{"To": "foo@bar.com", "Subject": "blah"},
		Body:    "hi",
	}
	got, err := Render(d)
	testutil.MustNoErr(t, err, "Render")
	want := "Subject: blah\r\nTo: foo@bar.com\r\n\r\nhi"
	if string(got) != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRenderBlindsBcc(t *testing.T) {
	d := &Draft{
		Headers: map[string]string{"Bcc": "secret@bar.com", "To": "bar@foo.com", "Cc": ""},
		Body:    "",
	}
	got, err := Render(d)
	testutil.MustNoErr(t, err, "Render")
	want := "Bcc:\r\nTo: bar@foo.com\r\n\r\n"
	if string(got) != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRenderNonASCII(t *testing.T) {
	d := &Draft{
		Headers: map[string]string{
			"From":    "Zoë <zoe@example.com>",
			"To":      "bob@example.com",
			"Subject": "Grüße",
		},
		Body: "Schöne Grüße",
	}
	got, err := Render(d)
	testutil.MustNoErr(t, err, "Render")
	s := string(got)
	testutil.AssertContainsAll(t, s,
		"Content-Type: text/plain; charset=utf-8\r\n",
		"MIME-Version: 1.0\r\n",
		"Subject: =?utf-8?q?Gr=C3=BC=C3=9Fe?=\r\n",
		"<zoe@example.com>",
		"\r\n\r\nSchöne Grüße",
	)
	if strings.Contains(s, "From: Zoë") {
		t.Errorf("non-ASCII display name not encoded: %q", s)
	}
}

func TestRejectsMalformedHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"CRLF in value", map[string]string{"Subject": "hi\r\nX-Injected: yes"}},
		{"bare LF in value", map[string]string{"Subject": "hi\nX-Injected: yes"}},
		{"LF in address", map[string]string{"To": "bob@example.com\nBcc: eve@example.com"}},
		{"space in name", map[string]string{"Bad Name": "v"}},
		{"colon in name", map[string]string{"X:Y": "v"}},
		{"empty name", map[string]string{"": "v"}},
		{"non-ASCII name", map[string]string{"Sübject": "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Draft{Headers: map[string]string{"From": "alice@example.com", "To": "bob@example.com"}, Body: "hi"}
			for k, v := range tt.headers {
				d.Headers[k] = v
			}
			if _, err := Render(d); !errors.Is(err, ErrInvalidDraft) {
				t.Errorf("Render err = %v, want ErrInvalidDraft", err)
			}
			if _, err := Sender(d); !errors.Is(err, ErrInvalidDraft) {
				t.Errorf("Sender err = %v, want ErrInvalidDraft", err)
			}
			if _, err := Destinations(d); !errors.Is(err, ErrInvalidDraft) {
				t.Errorf("Destinations err = %v, want ErrInvalidDraft", err)
			}
			d.Attachments = []Attachment{{Filename: "a.txt", ContentType: "text/plain", Data: []byte("x")}}
			if _, err := Render(d); !errors.Is(err, ErrInvalidDraft) {
				t.Errorf("multipart Render err = %v, want ErrInvalidDraft", err)
			}
		})
	}
}

func TestRenderMultipart(t *testing.T) {
	d := &Draft{
		Headers: map[string]string{
			"From":    "me@example.com",
			"To":      "you@example.com",
			"Bcc":     "hidden@example.com",
			"Subject": "Report attached",
		},
		Body: "See attached.",
		Attachments: []Attachment{
			{Filename: "report.txt", ContentType: "text/plain", Data: []byte("numbers")},
		},
	}
	raw, err := Render(d)
	testutil.MustNoErr(t, err, "Render")
	if bytes.Contains(raw, []byte("hidden@example.com")) {
		t.Error("Bcc recipient leaked into multipart render")
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	testutil.MustNoErr(t, err, "CreateReader")
	subject, _ := mr.Header.Subject()
	if subject != "Report attached" {
		t.Errorf("Subject = %q", subject)
	}

	var text, attName, attBody string
	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		buf := new(bytes.Buffer)
		buf.ReadFrom(p.Body)
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			text = buf.String()
		case *mail.AttachmentHeader:
			attName, _ = h.Filename()
			attBody = buf.String()
		}
	}
	if text != "See attached." {
		t.Errorf("text part = %q", text)
	}
	if attName != "report.txt" || attBody != "numbers" {
		t.Errorf("attachment = %q %q", attName, attBody)
	}
}

func TestSender(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
		wantErr bool
	}{
		{"single from", map[string]string{"From": "Me <me@example.com>"}, "me@example.com", false},
		{"sender wins", map[string]string{"From": "a@x.com, b@x.com", "Sender": "s@x.com"}, "s@x.com", false},
		{"multiple senders", map[string]string{"From": "a@x.com", "Sender": "s@x.com, t@x.com"}, "", true},
		{"multiple from without sender", map[string]string{"From": "a@x.com, b@x.com"}, "", true},
		{"missing from", map[string]string{"To": "a@x.com"}, "", true},
		{"unparseable from", map[string]string{"From": "not an address"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sender(&Draft{Headers: tt.headers})
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDraft) {
					t.Errorf("Sender err = %v, want ErrInvalidDraft", err)
				}
				return
			}
			testutil.MustNoErr(t, err, "Sender")
			if got != tt.want {
				t.Errorf("Sender = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDestinations(t *testing.T) {
	d := &Draft{Headers: map[string]string{
		"To":  "A <a@x.com>, b@x.com",
		"Cc":  "c@x.com",
		"Bcc": "d@x.com",
	}}
	got, err := Destinations(d)
	testutil.MustNoErr(t, err, "Destinations")
	testutil.AssertStrings(t, got, "a@x.com", "b@x.com", "c@x.com", "d@x.com")

	if _, err := Destinations(&Draft{Headers: map[string]string{"To": "<<bad"}}); !errors.Is(err, ErrInvalidDraft) {
		t.Errorf("Destinations bad address: got %v, want ErrInvalidDraft", err)
	}
}
