package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wesm/tagmail/internal/fileutil"
)

// maxAttachmentSize bounds reads through Get.
const maxAttachmentSize = 50 * 1024 * 1024

// BlobStore keeps attachment content on disk under a content-addressed layout
// (hash[:2]/hash). Message records only carry the handle.
type BlobStore struct {
	dir string
}

// NewBlobStore returns a blob store rooted at dir. An empty dir disables
// content storage: Put still computes handles but writes nothing.
func NewBlobStore(dir string) *BlobStore {
	return &BlobStore{dir: dir}
}

// Handle returns the content handle for data.
func Handle(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validHandle(h string) bool {
	if len(h) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// Put stores data and returns its handle. Existing content is not rewritten.
func (b *BlobStore) Put(data []byte) (string, error) {
	handle := Handle(data)
	if b.dir == "" || len(data) == 0 {
		return handle, nil
	}

	full := filepath.Join(b.dir, handle[:2], handle)
	if _, err := os.Stat(full); err == nil {
		return handle, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat attachment: %w", err)
	}

	if err := fileutil.SecureMkdirAll(filepath.Dir(full), 0700); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	// Write to a temp file and rename into place so concurrent readers never
	// observe a partially written blob.
	tmp, err := os.CreateTemp(filepath.Dir(full), handle+".tmp.")
	if err != nil {
		return "", fmt.Errorf("create temp attachment file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write attachment file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close attachment file: %w", err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename attachment file: %w", err)
	}
	return handle, nil
}

// Get reads the content behind handle.
func (b *BlobStore) Get(handle string) ([]byte, error) {
	if !validHandle(handle) {
		return nil, fmt.Errorf("invalid attachment handle %q", handle)
	}
	if b.dir == "" {
		return nil, fmt.Errorf("attachments directory not configured")
	}
	f, err := fileutil.OpenNoFollow(filepath.Join(b.dir, handle[:2], handle))
	if err != nil {
		return nil, fmt.Errorf("attachment not available: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxAttachmentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > maxAttachmentSize {
		return nil, fmt.Errorf("attachment too large: more than %d bytes", maxAttachmentSize)
	}
	return data, nil
}
