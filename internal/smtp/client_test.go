package smtp

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
)

// fakeServer is a minimal SMTP server that records one transaction.
type fakeServer struct {
	ln net.Listener

	mu    sync.Mutex
	auth  string
	from  string
	rcpts []string
	data  string
	done  chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) { conn.Write([]byte(line + "\r\n")) }
	reply("220 fake ESMTP")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])

		switch verb {
		case "EHLO", "HELO":
			reply("250-fake")
			reply("250 AUTH PLAIN")
		case "AUTH":
			s.mu.Lock()
			s.auth = line
			s.mu.Unlock()
			reply("235 2.7.0 Authentication successful")
		case "MAIL":
			s.mu.Lock()
			s.from = line
			s.mu.Unlock()
			reply("250 OK")
		case "RCPT":
			s.mu.Lock()
			s.rcpts = append(s.rcpts, line)
			s.mu.Unlock()
			reply("250 OK")
		case "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			reply("250 OK queued")
		case "QUIT":
			reply("221 Bye")
			return
		default:
			reply("502 unrecognized")
		}
	}
}

func TestDeliver(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient(Config{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Username: "user",
		Password: "secret",
	}, nil)

	msg := []byte("Subject: hi\r\n\r\nhello\r\n")
	err := c.Deliver(context.Background(), "me@example.com", []string{"a@example.com", "b@example.com"}, msg)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()

	wantAuth := "AUTH PLAIN " + base64.StdEncoding.EncodeToString([]byte("\x00user\x00secret"))
	if srv.auth != wantAuth {
		t.Errorf("auth = %q, want %q", srv.auth, wantAuth)
	}
	if !strings.Contains(srv.from, "<me@example.com>") {
		t.Errorf("MAIL FROM = %q", srv.from)
	}
	if len(srv.rcpts) != 2 || !strings.Contains(srv.rcpts[1], "<b@example.com>") {
		t.Errorf("RCPT lines = %q", srv.rcpts)
	}
	if !strings.Contains(srv.data, "Subject: hi\r\n\r\nhello\r\n") {
		t.Errorf("DATA = %q", srv.data)
	}
}

func TestDeliverWithoutAuth(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient(Config{Host: "127.0.0.1", Port: srv.port()}, nil)

	if err := c.Deliver(context.Background(), "me@example.com", []string{"a@example.com"}, []byte("x\r\n")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.auth != "" {
		t.Errorf("client authenticated without credentials: %q", srv.auth)
	}
}

func TestDeliverValidation(t *testing.T) {
	if err := NewClient(Config{}, nil).Deliver(context.Background(), "a@x.com", []string{"b@x.com"}, nil); err == nil {
		t.Error("expected error without host")
	}
	if err := NewClient(Config{Host: "127.0.0.1"}, nil).Deliver(context.Background(), "a@x.com", nil, nil); err == nil {
		t.Error("expected error without recipients")
	}
}

func TestDeliverConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient(Config{Host: "127.0.0.1", Port: port}, nil)
	err = c.Deliver(context.Background(), "a@x.com", []string{"b@x.com"}, []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "127.0.0.1:"+strconv.Itoa(port)) {
		t.Errorf("Deliver error = %v, want connect error naming the address", err)
	}
}

func TestSASLAuthRefusesPlaintext(t *testing.T) {
	a := newSASLAuth(sasl.NewPlainClient("", "u", "p"), "mail.example.com")

	if _, _, err := a.Start(&smtp.ServerInfo{Name: "mail.example.com", TLS: false}); err == nil {
		t.Error("Start should refuse an unencrypted remote connection")
	}
	if _, _, err := a.Start(&smtp.ServerInfo{Name: "other.example.com", TLS: true}); err == nil {
		t.Error("Start should refuse a mismatched host")
	}
	mech, ir, err := a.Start(&smtp.ServerInfo{Name: "mail.example.com", TLS: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mech != "PLAIN" || string(ir) != "\x00u\x00p" {
		t.Errorf("Start = %q %q", mech, ir)
	}
}
