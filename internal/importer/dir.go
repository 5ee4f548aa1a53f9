package importer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wesm/tagmail/internal/emlx"
)

// ImportDir walks dir and imports every .eml and .emlx file plus every
// message file inside a maildir cur/ or new/ directory. Hidden files and
// maildir tmp/ directories are skipped.
func (im *Importer) ImportDir(ctx context.Context, dir string) (*Summary, error) {
	start := time.Now()
	b := im.newBatcher(ctx)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != dir && (strings.HasPrefix(name, ".") || name == "tmp") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() || !isMessageFile(p) {
			return nil
		}
		return b.add(im.fileItem(p))
	})
	if err == nil {
		err = b.flush()
	}
	b.sum.Duration = time.Since(start)
	im.logDone(dir, b.sum)
	if err != nil {
		return b.sum, fmt.Errorf("import %s: %w", dir, err)
	}
	return b.sum, nil
}

func isMessageFile(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".eml", ".emlx":
		return !strings.HasSuffix(strings.ToLower(p), ".partial.emlx")
	}
	return inMaildir(p)
}

func inMaildir(p string) bool {
	parent := filepath.Base(filepath.Dir(p))
	return parent == "cur" || parent == "new"
}

// maildirFlags decodes the info suffix of a maildir file name
// ("unique:2,FRS"). Files still in new/ have not been seen.
func maildirFlags(p string) flags {
	var f flags
	if filepath.Base(filepath.Dir(p)) == "new" {
		return f
	}
	name := filepath.Base(p)
	idx := strings.LastIndex(name, ":2,")
	if idx < 0 {
		return f
	}
	for _, c := range name[idx+3:] {
		switch c {
		case 'S':
			f.seen = true
		case 'R':
			f.replied = true
		case 'F':
			f.flagged = true
		}
	}
	return f
}

func (im *Importer) fileItem(p string) item {
	return item{
		origin: p,
		read: func() ([]byte, flags, error) {
			data, err := im.readFile(p)
			if err != nil {
				return nil, flags{}, err
			}
			if strings.EqualFold(filepath.Ext(p), ".emlx") {
				m, err := emlx.Parse(data)
				if err != nil {
					return nil, flags{}, err
				}
				return m.Raw, flags{
					seen:     m.Read(),
					replied:  m.Answered(),
					flagged:  m.Flagged(),
					received: m.PlistDate,
				}, nil
			}
			if inMaildir(p) {
				return data, maildirFlags(p), nil
			}
			return data, flags{}, nil
		},
	}
}

func (im *Importer) readFile(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, im.opts.MaxMessageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if int64(len(data)) > im.opts.MaxMessageBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", p, im.opts.MaxMessageBytes)
	}
	return data, nil
}
