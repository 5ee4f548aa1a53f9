// Package export writes stored message content out of the store, such as
// zip archives of a message's attachments.
package export

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/tagmail/internal/fileutil"
	"github.com/wesm/tagmail/internal/store"
)

// Stats reports the outcome of an attachment export.
type Stats struct {
	Count      int
	Size       int64
	Errors     []string
	ZipPath    string
	WriteError bool // a write failed and the zip was removed
}

// BlobReader loads attachment content by handle. *store.BlobStore
// implements it.
type BlobReader interface {
	Get(handle string) ([]byte, error)
}

// Attachments writes the content behind refs into a zip file at zipPath.
// Attachments whose content is unavailable are reported in Stats.Errors and
// skipped. The zip is removed when nothing was exported or a write failed.
func Attachments(zipPath string, blobs BlobReader, refs []store.AttachmentRef) Stats {
	f, err := fileutil.SecureOpenFile(zipPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return Stats{Errors: []string{fmt.Sprintf("failed to create zip file: %v", err)}}
	}
	zw := zip.NewWriter(f)

	var stats Stats
	usedNames := make(map[string]int)
	for _, ref := range refs {
		n, err := addToZip(zw, blobs, ref, usedNames)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", displayName(ref), err))
			var we *zipWriteError
			if errors.As(err, &we) {
				stats.WriteError = true
			}
			continue
		}
		stats.Count++
		stats.Size += n
	}

	if err := zw.Close(); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("zip finalization error: %v", err))
		stats.WriteError = true
	}
	if err := f.Close(); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("file close error: %v", err))
		stats.WriteError = true
	}

	if stats.Count == 0 || stats.WriteError {
		os.Remove(zipPath)
		return stats
	}

	if abs, err := filepath.Abs(zipPath); err == nil {
		zipPath = abs
	}
	stats.ZipPath = zipPath
	return stats
}

// FormatResult describes an export for display.
func FormatResult(stats Stats) string {
	var msg string
	switch {
	case stats.WriteError:
		msg = "Export failed due to write errors. Zip file removed."
	case stats.Count == 0:
		msg = "No attachments exported."
	default:
		msg = fmt.Sprintf("Exported %d attachment(s) (%s)\n\nSaved to:\n%s",
			stats.Count, FormatBytesLong(stats.Size), stats.ZipPath)
	}
	if len(stats.Errors) > 0 {
		msg += "\n\nErrors:\n" + strings.Join(stats.Errors, "\n")
	}
	return msg
}

type zipWriteError struct {
	err error
}

func (e *zipWriteError) Error() string { return e.err.Error() }
func (e *zipWriteError) Unwrap() error { return e.err }

func addToZip(zw *zip.Writer, blobs BlobReader, ref store.AttachmentRef, usedNames map[string]int) (int64, error) {
	data, err := blobs.Get(ref.Handle)
	if err != nil {
		return 0, err
	}

	w, err := zw.Create(uniqueFilename(ref, usedNames))
	if err != nil {
		return 0, &zipWriteError{fmt.Errorf("zip write error: %w", err)}
	}
	n, err := w.Write(data)
	if err != nil {
		return 0, &zipWriteError{fmt.Errorf("zip write error: %w", err)}
	}
	return int64(n), nil
}

func displayName(ref store.AttachmentRef) string {
	if ref.Filename != "" {
		return ref.Filename
	}
	return ref.Handle
}

// uniqueFilename sanitizes the attachment name and numbers repeats:
// report.pdf, report_2.pdf, report_3.pdf.
func uniqueFilename(ref store.AttachmentRef, usedNames map[string]int) string {
	filename := SanitizeFilename(filepath.Base(ref.Filename))
	if filename == "" || filename == "." {
		filename = ref.Handle
	}

	count, exists := usedNames[filename]
	usedNames[filename] = count + 1
	if !exists {
		return filename
	}
	ext := filepath.Ext(filename)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(filename, ext), count+1, ext)
}

// SanitizeFilename replaces characters that are invalid in filenames.
func SanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\n', '\r', '\t':
			return '_'
		}
		return r
	}, s)
}

// FormatBytesLong formats bytes with two decimals for export results.
func FormatBytesLong(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
