package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/wesm/tagmail/internal/compose"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/remote"
	"github.com/wesm/tagmail/internal/store"
)

var useLocal bool

// MailEngine is the set of operations query commands need. Both the local
// engine and remote.Client provide it.
type MailEngine interface {
	List(ctx context.Context, q string, opts engine.ListOptions) ([]store.Summary, error)
	Count(ctx context.Context, q string) (int, error)
	ApplyTag(ctx context.Context, q, tag string) (int, error)
	RemoveTag(ctx context.Context, q, tag string) (int, error)
	ListTags(ctx context.Context) []string
	View(ctx context.Context, id string) (*store.Message, error)
	ReplyTemplate(ctx context.Context, id string) (*compose.Draft, error)
	Preview(ctx context.Context, d *compose.Draft) ([]byte, error)
	Send(ctx context.Context, d *compose.Draft) (*store.Message, error)
	Stats(ctx context.Context) (*store.Stats, error)
	Close() error
}

// localEngine closes the session's store along with the engine.
type localEngine struct {
	*engine.Engine
	s *session
}

func (l localEngine) Close() error {
	return l.s.Close()
}

// IsRemoteMode reports whether query commands talk to a tagmail server.
// Resolution order:
//  1. --local flag → always local
//  2. [remote].url set in config → use remote
//  3. Default → use local DB
func IsRemoteMode() bool {
	if useLocal {
		return false
	}
	return cfg != nil && cfg.Remote.URL != ""
}

// openMailEngine returns the remote client in remote mode and a local
// session otherwise. A running 'tagmail serve' holds its own index, so
// pointing [remote] at it keeps the CLI's view consistent with the server.
func openMailEngine() (MailEngine, error) {
	if IsRemoteMode() {
		return openRemoteClient()
	}
	s, err := openSession()
	if err != nil {
		return nil, err
	}
	return localEngine{Engine: s.engine, s: s}, nil
}

func openRemoteClient() (*remote.Client, error) {
	c, err := remote.New(remote.Config{
		URL:           cfg.Remote.URL,
		APIKey:        cfg.Remote.APIKey,
		AllowInsecure: cfg.Remote.AllowInsecure,
		Timeout:       30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("remote server: %w", err)
	}
	return c, nil
}

// MustBeLocal returns an error if remote mode is active.
// Use this for commands that only work with local database.
func MustBeLocal(cmdName string) error {
	if IsRemoteMode() {
		return fmt.Errorf("%s requires local database\n\n"+
			"This command cannot run against a remote server.\n"+
			"Use --local flag to force local database.", cmdName)
	}
	return nil
}
