//go:build !windows

// Package fileutil provides file helpers for the data directory, the
// attachment blobs under it, and exported files.
// On Unix the Secure* helpers are thin wrappers around os.*; on Windows,
// owner-only modes (perm & 0077 == 0) additionally set a DACL restricting
// access to the current user.
package fileutil

import "os"

// SecureMkdirAll creates a directory path and all parents that do not yet exist.
func SecureMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// SecureOpenFile opens the named file with specified flag and permissions.
func SecureOpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
