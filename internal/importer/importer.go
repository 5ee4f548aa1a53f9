// Package importer loads existing mail into the engine: mbox files (plain or
// inside zip archives), directories of .eml and Apple Mail .emlx files, and
// maildir trees.
//
// Messages are parsed concurrently and ingested one at a time in source
// order. Messages already present are counted as duplicates, so re-running
// an import is harmless.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/tagmail/internal/mime"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
)

// DefaultInitialTags are applied to newly imported messages when Options
// leaves InitialTags nil.
var DefaultInitialTags = []string{"inbox", "unread"}

const (
	defaultMaxMessageBytes int64 = 128 << 20 // 128 MiB
	batchSize                    = 64
)

// Ingester stores parsed messages. *engine.Engine implements it.
type Ingester interface {
	Ingest(ctx context.Context, msg *store.Message) error
}

// Options configures an Importer.
type Options struct {
	// InitialTags are applied to every new message. Nil means
	// DefaultInitialTags; an empty slice applies none.
	InitialTags []string

	// Workers bounds concurrent parsing. Zero means GOMAXPROCS.
	Workers int

	// MaxMessageBytes skips messages larger than this. Zero means 128 MiB.
	MaxMessageBytes int64

	// Logger is optional; defaults to slog.Default().
	Logger *slog.Logger
}

// Summary reports the outcome of one import run.
type Summary struct {
	Added      int           `json:"added"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

func (s *Summary) add(o *Summary) {
	s.Added += o.Added
	s.Duplicates += o.Duplicates
	s.Failed += o.Failed
}

// Importer feeds raw mail through a parser into an Ingester.
type Importer struct {
	target Ingester
	parser *mime.Parser
	tags   tagset.Set
	opts   Options
	logger *slog.Logger
}

// New returns an importer ingesting into target.
func New(target Ingester, parser *mime.Parser, opts Options) (*Importer, error) {
	if opts.InitialTags == nil {
		opts.InitialTags = DefaultInitialTags
	}
	for _, tag := range opts.InitialTags {
		if err := tagset.Validate(tag); err != nil {
			return nil, fmt.Errorf("initial tags: %w", err)
		}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		target: target,
		parser: parser,
		tags:   tagset.New(opts.InitialTags...),
		opts:   opts,
		logger: logger,
	}, nil
}

// flags is per-message state recovered from the source format.
type flags struct {
	seen    bool
	replied bool
	flagged bool

	// received stands in for a missing or unparseable Date header.
	received time.Time
}

// item is one message waiting to be parsed. read is called from a parse
// worker, so file-backed items load their content concurrently.
type item struct {
	origin string
	read   func() ([]byte, flags, error)
}

// tagsFor returns the tag set a new message starts with.
func (im *Importer) tagsFor(f flags) tagset.Set {
	tags := im.tags.Clone()
	if f.seen {
		tags.Remove("unread")
	}
	if f.replied {
		tags.Add("replied")
	}
	if f.flagged {
		tags.Add("flagged")
	}
	return tags
}

// ImportPath imports path by kind: a directory tree, a single .eml or .emlx
// file, a zip archive of mbox files, or otherwise an mbox file.
func (im *Importer) ImportPath(ctx context.Context, path string) (*Summary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return im.ImportDir(ctx, path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".eml", ".emlx":
		return im.run(ctx, path, []item{im.fileItem(path)})
	case ".zip":
		return im.ImportZip(ctx, path)
	default:
		return im.ImportMbox(ctx, path)
	}
}

// run parses and ingests items in one batch, timing the run.
func (im *Importer) run(ctx context.Context, origin string, items []item) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}
	err := im.process(ctx, items, sum)
	sum.Duration = time.Since(start)
	im.logDone(origin, sum)
	return sum, err
}

func (im *Importer) logDone(origin string, sum *Summary) {
	im.logger.Info("import finished",
		"source", origin,
		"added", sum.Added,
		"duplicates", sum.Duplicates,
		"failed", sum.Failed,
		"elapsed", sum.Duration.Round(time.Millisecond),
	)
}

// process parses items concurrently, then ingests them serially in order.
// Parse failures are counted and skipped; an ingest failure other than a
// duplicate aborts.
func (im *Importer) process(ctx context.Context, items []item, sum *Summary) error {
	if len(items) == 0 {
		return nil
	}

	type parsed struct {
		msg   *store.Message
		flags flags
	}
	results := make([]parsed, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Workers)
	for i, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, f, err := it.read()
			if err != nil {
				im.logger.Warn("skipping unreadable message", "source", it.origin, "error", err)
				return nil
			}
			msg, err := im.parser.Parse(raw)
			if err != nil {
				im.logger.Warn("skipping unparseable message", "source", it.origin, "error", err)
				return nil
			}
			results[i] = parsed{msg: msg, flags: f}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, r := range results {
		if r.msg == nil {
			sum.Failed++
			continue
		}
		r.msg.Tags = im.tagsFor(r.flags)
		if r.msg.Date.IsZero() && !r.flags.received.IsZero() {
			r.msg.Date = r.flags.received
		}
		err := im.target.Ingest(ctx, r.msg)
		switch {
		case err == nil:
			sum.Added++
		case errors.Is(err, store.ErrDuplicate):
			sum.Duplicates++
			im.logger.Debug("already imported", "id", r.msg.ID, "source", items[i].origin)
		default:
			return fmt.Errorf("ingest %s: %w", r.msg.ID, err)
		}
	}
	return nil
}

// batcher accumulates items and processes them batchSize at a time so large
// sources are never held in memory at once.
type batcher struct {
	im    *Importer
	ctx   context.Context
	items []item
	sum   *Summary
}

func (im *Importer) newBatcher(ctx context.Context) *batcher {
	return &batcher{im: im, ctx: ctx, sum: &Summary{}}
}

func (b *batcher) add(it item) error {
	b.items = append(b.items, it)
	if len(b.items) < batchSize {
		return nil
	}
	return b.flush()
}

func (b *batcher) flush() error {
	items := b.items
	b.items = nil
	return b.im.process(b.ctx, items, b.sum)
}
