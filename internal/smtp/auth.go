package smtp

import (
	"errors"
	"net/smtp"

	"github.com/emersion/go-sasl"
)

// saslAuth adapts a go-sasl client to net/smtp.Auth. Like smtp.PlainAuth it
// refuses to send credentials over an unencrypted connection, except to
// localhost.
type saslAuth struct {
	client sasl.Client
	host   string
}

func newSASLAuth(client sasl.Client, host string) smtp.Auth {
	return &saslAuth{client: client, host: host}
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}

func (a *saslAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("refusing to authenticate over an unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	return a.client.Start()
}

func (a *saslAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}
