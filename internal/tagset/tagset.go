// Package tagset provides the unordered tag collection attached to every
// message, plus validation of tag names.
package tagset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTagBytes is the longest tag accepted.
const MaxTagBytes = 128

// ErrInvalidTag is matched by every *InvalidTagError.
var ErrInvalidTag = errors.New("invalid tag")

// InvalidTagError reports a tag that cannot be stored or queried.
type InvalidTagError struct {
	Tag    string
	Reason string
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("invalid tag %q: %s", e.Tag, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidTag) match.
func (e *InvalidTagError) Is(target error) bool {
	return target == ErrInvalidTag
}

// Validate checks that tag is usable both as a stored tag and as the value of
// a tag: query term.
func Validate(tag string) error {
	switch {
	case tag == "":
		return &InvalidTagError{Tag: tag, Reason: "empty"}
	case len(tag) > MaxTagBytes:
		return &InvalidTagError{Tag: tag, Reason: fmt.Sprintf("longer than %d bytes", MaxTagBytes)}
	case !utf8.ValidString(tag):
		return &InvalidTagError{Tag: tag, Reason: "not valid UTF-8"}
	case strings.HasPrefix(tag, "-"):
		return &InvalidTagError{Tag: tag, Reason: "must not start with '-'"}
	}
	for _, r := range tag {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return &InvalidTagError{Tag: tag, Reason: "contains whitespace or control characters"}
		}
		switch r {
		case ':', '(', ')', '"':
			return &InvalidTagError{Tag: tag, Reason: fmt.Sprintf("contains %q", r)}
		}
	}
	return nil
}

// Set is an unordered collection of unique tags. The zero value is an empty
// set ready for reads; use New or Add on a non-nil set for writes.
type Set map[string]struct{}

// New returns a set holding tags.
func New(tags ...string) Set {
	s := make(Set, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether tag is in the set.
func (s Set) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Add inserts tag and reports whether the set changed.
func (s Set) Add(tag string) bool {
	if _, ok := s[tag]; ok {
		return false
	}
	s[tag] = struct{}{}
	return true
}

// Remove deletes tag and reports whether the set changed.
func (s Set) Remove(tag string) bool {
	if _, ok := s[tag]; !ok {
		return false
	}
	delete(s, tag)
	return true
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for t := range s {
		c[t] = struct{}{}
	}
	return c
}

// Equal reports whether both sets hold the same tags.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for t := range s {
		if _, ok := o[t]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the tags in lexical order, for display and serialization.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of tags.
func (s *Set) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = New(tags...)
	return nil
}
