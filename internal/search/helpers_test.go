package search

import (
	"errors"
	"strings"
	"testing"
)

func mustParse(t *testing.T, query string) Node {
	t.Helper()
	n, err := Parse(query)
	if err != nil {
		t.Fatalf("Parse(%q): %v", query, err)
	}
	return n
}

// assertSyntaxError checks that query fails with a *SyntaxError at pos whose
// message mentions msg.
func assertSyntaxError(t *testing.T, query string, pos int, msg string) {
	t.Helper()
	n, err := Parse(query)
	if err == nil {
		t.Fatalf("Parse(%q) = %s, want syntax error", query, n)
	}
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("Parse(%q) error %T (%v), want *SyntaxError", query, err, err)
	}
	if se.Pos != pos {
		t.Errorf("Parse(%q) error at %d, want %d (%v)", query, se.Pos, pos, err)
	}
	if !strings.Contains(se.Msg, msg) {
		t.Errorf("Parse(%q) error %q, want mention of %q", query, se.Msg, msg)
	}
}
