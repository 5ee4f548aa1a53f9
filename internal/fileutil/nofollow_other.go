//go:build !unix

package fileutil

import "os"

// OpenNoFollow is a plain read-only open where O_NOFOLLOW is unavailable.
// Blob readers still check the content size.
func OpenNoFollow(path string) (*os.File, error) {
	return os.Open(path)
}
