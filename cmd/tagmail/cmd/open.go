package cmd

import (
	"fmt"

	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/smtp"
	"github.com/wesm/tagmail/internal/store"
)

// session is an open store with an engine over it.
type session struct {
	store  *store.Store
	blobs  *store.BlobStore
	engine *engine.Engine
}

func (s *session) Close() error {
	return s.store.Close()
}

// openSession opens the configured database, brings its schema up to date
// and rebuilds the engine's index. The SMTP relay is wired in when
// [smtp] host is set.
func openSession() (*session, error) {
	dbPath := cfg.DatabasePath()
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	blobs := store.NewBlobStore(cfg.AttachmentsDir())
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithBlobStore(blobs),
	}
	if cfg.SMTP.Enabled() {
		opts = append(opts, engine.WithDeliverer(newSMTPClient()))
	}

	eng, err := engine.New(s, opts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}
	return &session{store: s, blobs: blobs, engine: eng}, nil
}

func newSMTPClient() *smtp.Client {
	return smtp.NewClient(smtp.Config{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		ImplicitTLS: cfg.SMTP.Port == 465,
	}, logger)
}
