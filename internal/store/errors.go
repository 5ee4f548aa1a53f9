package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("message not found")
	// ErrDuplicate is matched by every *DuplicateMessageError.
	ErrDuplicate = errors.New("duplicate message")
)

// NotFoundError reports an unknown message identifier.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateMessageError reports an ingestion whose identifier already exists.
type DuplicateMessageError struct {
	ID string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("message %q already exists", e.ID)
}

func (e *DuplicateMessageError) Is(target error) bool { return target == ErrDuplicate }
