package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/wesm/tagmail/internal/compose"
	"github.com/wesm/tagmail/internal/index"
	"github.com/wesm/tagmail/internal/search"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
)

// SentTag marks messages ingested by Send.
const SentTag = "sent"

// Listing limits applied by transports. The engine itself treats a zero
// limit as unlimited.
const (
	DefaultListLimit = 25
	MaxListLimit     = 500
)

// ListOptions pages a listing. A zero Limit means no limit.
type ListOptions struct {
	Offset int
	Limit  int
}

// PageOptions builds the ListOptions a transport passes to List: a
// non-positive limit becomes defaultLimit (DefaultListLimit when that is
// zero too), capped at MaxListLimit; a negative offset becomes zero.
func PageOptions(offset, limit, defaultLimit int) ListOptions {
	if defaultLimit <= 0 {
		defaultLimit = DefaultListLimit
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return ListOptions{Offset: offset, Limit: limit}
}

// resolve evaluates a parsed query. Caller must hold mu.
func (e *Engine) resolve(node search.Node) (index.IDSet, error) {
	set, err := e.evaluate(node)
	if err != nil {
		return nil, fmt.Errorf("evaluate query: %w", err)
	}
	return set, nil
}

// List returns summaries of the messages matching q, newest first with ties
// broken by id.
func (e *Engine) List(_ context.Context, q string, opts ListOptions) ([]store.Summary, error) {
	node, err := search.Parse(q)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	set, err := e.resolve(node)
	if err != nil {
		return nil, err
	}
	ids := page(e.index.Order(set), opts)
	e.logger.Debug("list", "query", q, "matches", len(set), "returned", len(ids))
	return e.store.GetSummaries(ids)
}

func page(ids []string, opts ListOptions) []string {
	if opts.Offset > 0 {
		if opts.Offset >= len(ids) {
			return ids[:0]
		}
		ids = ids[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}
	return ids
}

// Count returns how many messages match q without ordering them.
func (e *Engine) Count(_ context.Context, q string) (int, error) {
	node, err := search.Parse(q)
	if err != nil {
		return 0, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	set, err := e.resolve(node)
	if err != nil {
		return 0, err
	}
	return len(set), nil
}

// ApplyTag adds tag to every message matching q and returns how many
// messages gained it.
func (e *Engine) ApplyTag(_ context.Context, q, tag string) (int, error) {
	return e.mutateTags(q, tag, true)
}

// RemoveTag removes tag from every message matching q and returns how many
// messages lost it.
func (e *Engine) RemoveTag(_ context.Context, q, tag string) (int, error) {
	return e.mutateTags(q, tag, false)
}

// mutateTags resolves q and persists every changed tag set in one store
// transaction before touching the index. A failed transaction leaves both
// unchanged.
func (e *Engine) mutateTags(q, tag string, add bool) (int, error) {
	if err := tagset.Validate(tag); err != nil {
		return 0, err
	}
	node, err := search.Parse(q)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	set, err := e.resolve(node)
	if err != nil {
		return 0, err
	}

	var updates []store.TagUpdate
	for _, id := range e.index.Order(set) {
		tags, ok := e.index.TagsOf(id)
		if !ok {
			continue
		}
		var changed bool
		if add {
			changed = tags.Add(tag)
		} else {
			changed = tags.Remove(tag)
		}
		if changed {
			updates = append(updates, store.TagUpdate{ID: id, Tags: tags})
		}
	}
	if len(updates) == 0 {
		return 0, nil
	}

	if err := e.store.UpdateTags(updates); err != nil {
		return 0, fmt.Errorf("persist tags: %w", err)
	}
	for _, u := range updates {
		if err := e.index.UpdateTags(u.ID, u.Tags); err != nil {
			return 0, fmt.Errorf("index tags of %s: %w", u.ID, err)
		}
	}

	action := "tag applied"
	if !add {
		action = "tag removed"
	}
	e.logger.Info(action, "query", q, "tag", tag, "count", len(updates))
	return len(updates), nil
}

// ListTags returns every tag carried by at least one message, sorted.
func (e *Engine) ListTags(_ context.Context) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index.Tags()
}

// View returns the full record of id.
func (e *Engine) View(_ context.Context, id string) (*store.Message, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetMessage(id)
}

// ReplyTemplate returns a reply draft for the message id.
func (e *Engine) ReplyTemplate(ctx context.Context, id string) (*compose.Draft, error) {
	msg, err := e.View(ctx, id)
	if err != nil {
		return nil, err
	}
	return compose.Reply(msg, e.now())
}

// Preview renders d as it would be sent.
func (e *Engine) Preview(_ context.Context, d *compose.Draft) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: no draft", compose.ErrInvalidDraft)
	}
	return compose.Render(d)
}

// Send renders d, delivers it, and ingests the delivered message tagged
// "sent". Nothing is ingested when delivery fails.
func (e *Engine) Send(ctx context.Context, d *compose.Draft) (*store.Message, error) {
	if e.deliverer == nil {
		return nil, ErrNoDeliverer
	}
	if d == nil {
		return nil, fmt.Errorf("%w: no draft", compose.ErrInvalidDraft)
	}

	d, err := compose.Prepare(d, e.now())
	if err != nil {
		return nil, err
	}
	from, err := compose.Sender(d)
	if err != nil {
		return nil, err
	}
	to, err := compose.Destinations(d)
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("%w: no recipients", compose.ErrInvalidDraft)
	}
	raw, err := compose.Render(d)
	if err != nil {
		return nil, err
	}

	if err := e.deliverer.Deliver(ctx, from, to, raw); err != nil {
		return nil, fmt.Errorf("deliver: %w", err)
	}

	msg, err := e.parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse sent message: %w", err)
	}
	msg.Tags = tagset.New(SentTag)
	if err := e.Ingest(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Already delivered; a resent draft keeps the first record.
			e.logger.Warn("sent message already stored", "id", msg.ID)
			return msg, nil
		}
		return nil, fmt.Errorf("store sent message: %w", err)
	}
	e.logger.Info("message sent", "id", msg.ID, "recipients", len(to))
	return msg, nil
}
