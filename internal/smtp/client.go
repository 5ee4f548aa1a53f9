// Package smtp delivers rendered messages to an SMTP relay.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
)

// DefaultPort is the submission port used when Config.Port is zero.
const DefaultPort = 587

// Config describes the relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// ImplicitTLS dials TLS directly (port 465 style) instead of STARTTLS.
	ImplicitTLS bool
	Timeout     time.Duration
}

// Client submits messages to one relay. It holds no connection between
// deliveries, so it is safe for concurrent use.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	tlsConfig *tls.Config
}

// NewClient returns a client for cfg.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		logger:    logger,
		tlsConfig: &tls.Config{ServerName: cfg.Host},
	}
}

// Deliver sends msg from the envelope sender to every recipient.
func (c *Client) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	if c.cfg.Host == "" {
		return errors.New("smtp host not configured")
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if err := c.send(client, from, to, msg); err != nil {
		return err
	}
	if err := client.Quit(); err != nil {
		c.logger.Debug("smtp quit failed", "error", err)
	}
	c.logger.Info("message delivered", "host", c.cfg.Host, "recipients", len(to))
	return nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	if c.cfg.ImplicitTLS {
		d := &tls.Dialer{Config: c.tlsConfig}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (c *Client) send(client *smtp.Client, from string, to []string, msg []byte) error {
	if !c.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(c.tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if c.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("server does not support AUTH")
		}
		auth := newSASLAuth(sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password), c.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM %s: %w", from, err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return nil
}
