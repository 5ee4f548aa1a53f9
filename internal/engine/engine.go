// Package engine is the query-and-tag engine. It owns the message store and
// the in-memory index, keeps them consistent, and exposes the operations the
// transports call: listing, counting, tag mutation, viewing, reply templates,
// preview and send.
//
// One RWMutex guards the store and index together. Reads run concurrently;
// ingestion, removal and tag mutation are exclusive, so a reader never
// observes a tag change applied to only part of its matching set.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wesm/tagmail/internal/index"
	"github.com/wesm/tagmail/internal/mime"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
)

// ErrNoDeliverer is returned by Send when no delivery backend is configured.
var ErrNoDeliverer = errors.New("no delivery backend configured")

// Deliverer submits a rendered message. *smtp.Client implements it.
type Deliverer interface {
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}

// Option is a functional option for Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithDeliverer sets the backend Send delivers through.
func WithDeliverer(d Deliverer) Option {
	return func(e *Engine) { e.deliverer = d }
}

// WithBlobStore sets where attachment content of sent messages is kept.
func WithBlobStore(b *store.BlobStore) Option {
	return func(e *Engine) { e.blobs = b }
}

// WithClock overrides the time source used for new Date headers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the query-and-tag engine. It is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	store *store.Store
	index *index.Index

	blobs     *store.BlobStore
	parser    *mime.Parser
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time
}

// New opens an engine over st, rebuilding the index from every stored
// message.
func New(st *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.parser = mime.NewParser(e.blobs, e.logger)

	start := time.Now()
	ix, err := index.Rebuild(st)
	if err != nil {
		return nil, err
	}
	e.index = ix
	e.logger.Debug("index rebuilt", "count", ix.Len(), "elapsed", time.Since(start))
	return e, nil
}

// Parser returns the MIME parser configured with the engine's blob store.
func (e *Engine) Parser() *mime.Parser {
	return e.parser
}

// Ingest adds msg to the store and the index. A message whose id is already
// present fails with *store.DuplicateMessageError, and one carrying an
// unusable tag with *tagset.InvalidTagError. msg.Date is truncated to whole
// seconds in UTC, the precision the store keeps.
func (e *Engine) Ingest(_ context.Context, msg *store.Message) error {
	if msg == nil {
		return errors.New("ingest: nil message")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ingestLocked(msg)
}

func (e *Engine) ingestLocked(msg *store.Message) error {
	for _, tag := range msg.Tags.Sorted() {
		if err := tagset.Validate(tag); err != nil {
			return fmt.Errorf("ingest %s: %w", msg.ID, err)
		}
	}
	msg.Date = msg.Date.Truncate(time.Second).UTC()
	if e.index.Has(msg.ID) {
		e.logger.Debug("duplicate message", "id", msg.ID)
		return &store.DuplicateMessageError{ID: msg.ID}
	}
	if err := e.store.InsertMessage(msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			e.logger.Debug("duplicate message", "id", msg.ID)
		}
		return err
	}
	if err := e.index.Ingest(msg); err != nil {
		// Keep the store in step with the index.
		if derr := e.store.DeleteMessage(msg.ID); derr != nil {
			e.logger.Error("rollback failed after index error", "id", msg.ID, "error", derr)
		}
		return fmt.Errorf("index message %s: %w", msg.ID, err)
	}
	return nil
}

// Remove deletes the message id from the store and the index.
func (e *Engine) Remove(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.index.Has(id) {
		return &store.NotFoundError{ID: id}
	}
	if err := e.store.DeleteMessage(id); err != nil {
		return err
	}
	if err := e.index.Remove(id); err != nil {
		return fmt.Errorf("unindex message %s: %w", id, err)
	}
	e.logger.Info("message removed", "id", id)
	return nil
}

// Stats reports corpus totals.
func (e *Engine) Stats(_ context.Context) (*store.Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetStats()
}
