//go:build windows

package fileutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

func isOwnerOnly(perm os.FileMode) bool {
	return perm&0077 == 0
}

// ownerOnlyACL grants GENERIC_ALL to the process user and nobody else.
// Directory ACEs are inherited by everything created below them, so blobs
// written under the data directory pick up the restriction.
func ownerOnlyACL(dir bool) (*windows.ACL, error) {
	user, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return nil, fmt.Errorf("current user SID: %w", err)
	}

	inherit := uint32(windows.NO_INHERITANCE)
	if dir {
		inherit = windows.CONTAINER_INHERIT_ACE | windows.OBJECT_INHERIT_ACE
	}
	return windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{{
		AccessPermissions: windows.GENERIC_ALL,
		AccessMode:        windows.SET_ACCESS,
		Inheritance:       inherit,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(user.User.Sid),
		},
	}}, nil)
}

// restrictToCurrentUser replaces the DACL on path with ownerOnlyACL and
// blocks inherited entries from the parent.
func restrictToCurrentUser(path string, dir bool) error {
	acl, err := ownerOnlyACL(dir)
	if err != nil {
		return fmt.Errorf("fileutil: ACL for %s: %w", path, err)
	}
	err = windows.SetNamedSecurityInfo(path, windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil, nil, acl, nil)
	if err != nil {
		return fmt.Errorf("fileutil: set DACL on %s: %w", path, err)
	}
	return nil
}

// restrict applies the owner-only DACL, logging rather than failing: the
// path already exists with the requested mode.
func restrict(path string, dir bool) {
	if err := restrictToCurrentUser(path, dir); err != nil {
		slog.Warn("fileutil: best-effort DACL failed", "path", path, "error", err)
	}
}

// missingDirs lists path and those of its parents that do not exist yet,
// deepest first.
func missingDirs(path string) []string {
	var dirs []string
	for p := filepath.Clean(path); ; {
		if _, err := os.Stat(p); err == nil {
			return dirs
		}
		dirs = append(dirs, p)
		parent := filepath.Dir(p)
		if parent == p {
			return dirs
		}
		p = parent
	}
}

// SecureMkdirAll creates the data or attachment directory path. For
// owner-only modes every directory it creates is restricted to the current
// user.
func SecureMkdirAll(path string, perm os.FileMode) error {
	var created []string
	if isOwnerOnly(perm) {
		created = missingDirs(path)
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}
	for _, dir := range created {
		restrict(dir, true)
	}
	return nil
}

// SecureOpenFile opens path like os.OpenFile. When it may create the file
// with an owner-only mode, the file is restricted to the current user even
// if it already existed, since callers write mail content or attachments.
func SecureOpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	if isOwnerOnly(perm) && flag&os.O_CREATE != 0 {
		restrict(path, false)
	}
	return f, nil
}
