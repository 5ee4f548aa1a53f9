package importer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-mbox"
)

// ImportMbox imports every message of the mbox file at path.
func (im *Importer) ImportMbox(ctx context.Context, path string) (*Summary, error) {
	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	b := im.newBatcher(ctx)
	err = im.readMbox(f, path, b)
	if err == nil {
		err = b.flush()
	}
	b.sum.Duration = time.Since(start)
	im.logDone(path, b.sum)
	return b.sum, err
}

// ImportZip imports every .mbox entry of the zip archive at path, the
// layout of Google Takeout exports.
func (im *Importer) ImportZip(ctx context.Context, zipPath string) (*Summary, error) {
	start := time.Now()
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	b := im.newBatcher(ctx)
	found := 0
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !strings.EqualFold(path.Ext(entry.Name), ".mbox") {
			continue
		}
		found++
		rc, err := entry.Open()
		if err != nil {
			return b.sum, fmt.Errorf("open %s in zip: %w", entry.Name, err)
		}
		err = im.readMbox(rc, zipPath+"!"+entry.Name, b)
		rc.Close()
		if err != nil {
			return b.sum, err
		}
	}
	if found == 0 {
		return b.sum, fmt.Errorf("no .mbox files in %s", zipPath)
	}
	err = b.flush()
	b.sum.Duration = time.Since(start)
	im.logDone(zipPath, b.sum)
	return b.sum, err
}

// readMbox splits r into messages and queues them on b. Oversized messages
// are counted as failures and skipped.
func (im *Importer) readMbox(r io.Reader, origin string, b *batcher) error {
	mr := mbox.NewReader(r)
	for n := 1; ; n++ {
		if err := b.ctx.Err(); err != nil {
			return err
		}
		msgReader, err := mr.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", origin, err)
		}

		raw, err := io.ReadAll(io.LimitReader(msgReader, im.opts.MaxMessageBytes+1))
		if err != nil {
			return fmt.Errorf("read message %d of %s: %w", n, origin, err)
		}
		if int64(len(raw)) > im.opts.MaxMessageBytes {
			im.logger.Warn("skipping oversized message", "source", origin, "index", n, "max_bytes", im.opts.MaxMessageBytes)
			b.sum.Failed++
			continue
		}

		if err := b.add(item{
			origin: fmt.Sprintf("%s#%d", origin, n),
			read:   func() ([]byte, flags, error) { return raw, flags{}, nil },
		}); err != nil {
			return err
		}
	}
}
