package search

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		// Leaves
		{"empty", "", "*"},
		{"whitespace only", "  \t ", "*"},
		{"tag", "tag:inbox", "tag:inbox"},
		{"is alias", "is:unread", "tag:unread"},
		{"tag keeps case", "tag:Work", "tag:Work"},
		{"field keyword case-insensitive", "FROM:alice", `from:"alice"`},
		{"from", "from:alice@example.com", `from:"alice@example.com"`},
		{"to", "to:bob", `to:"bob"`},
		{"cc", "cc:carol", `cc:"carol"`},
		{"subject quoted", `subject:"weekly report"`, `subject:"weekly report"`},
		{"body", "body:invoice", `body:"invoice"`},
		{"id", "id:abc@host", `id:"abc@host"`},
		{"bare word", "hello", `"hello"`},
		{"quoted phrase", `"hello world"`, `"hello world"`},
		{"value with colon", "subject:re:hello", `subject:"re:hello"`},
		{"hyphen inside word", "q3-report", `"q3-report"`},

		// Composition
		{"implicit and", "tag:a tag:b", "(and tag:a tag:b)"},
		{"explicit and", "tag:a and tag:b", "(and tag:a tag:b)"},
		{"keyword case", "tag:a AND tag:b Or tag:c", "(or (and tag:a tag:b) tag:c)"},
		{"or", "tag:a or tag:b", "(or tag:a tag:b)"},
		{"not keyword", "not tag:a", "(not tag:a)"},
		{"dash negation", "-tag:spam", "(not tag:spam)"},
		{"double negation", "not -tag:a", "(not (not tag:a))"},
		{"and binds tighter than or", "tag:a or tag:b tag:c", "(or tag:a (and tag:b tag:c))"},
		{"not binds tighter than and", "not tag:a tag:b", "(and (not tag:a) tag:b)"},
		{"parens override", "(tag:a or tag:b) tag:c", "(and (or tag:a tag:b) tag:c)"},
		{"negated group", "-(tag:a or tag:b)", "(not (or tag:a tag:b))"},
		{"nested groups", "((tag:a))", "tag:a"},
		{"parens without spaces", "(tag:a)tag:b", "(and tag:a tag:b)"},
		{"phrase next to term", `from:alice "status update"`, `(and from:"alice" "status update")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustParse(t, tt.query).String()
			if got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.query, got, tt.want)
			}
		})
	}
}

func TestParseDates(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	endOf := func(next time.Time) time.Time { return next.Add(-time.Nanosecond) }

	tests := []struct {
		query string
		want  DateRange
	}{
		{"date:2024-01-15", DateRange{From: day(2024, 1, 15), To: endOf(day(2024, 1, 16))}},
		{"date:2024-02", DateRange{From: day(2024, 2, 1), To: endOf(day(2024, 3, 1))}},
		{"date:2024", DateRange{From: day(2024, 1, 1), To: endOf(day(2025, 1, 1))}},
		{"date:2024-01..2024-02", DateRange{From: day(2024, 1, 1), To: endOf(day(2024, 3, 1))}},
		{"date:2024-01-10..", DateRange{From: day(2024, 1, 10)}},
		{"date:..2023", DateRange{To: endOf(day(2024, 1, 1))}},
		{"date:2024-12-31..2024-12-31", DateRange{From: day(2024, 12, 31), To: endOf(day(2025, 1, 1))}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := mustParse(t, tt.query)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}
}

func TestParseTree(t *testing.T) {
	got := mustParse(t, `tag:a (from:"Alice B" or -subject:x)`)
	want := And{Children: []Node{
		TagMatch{Tag: "a"},
		Or{Children: []Node{
			FieldMatch{Field: FieldFrom, Value: "Alice B"},
			Not{Child: FieldMatch{Field: FieldSubject, Value: "x"}},
		}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		pos   int
		msg   string
	}{
		{"unknown field", "tag:a foo:bar", 6, "unknown field"},
		{"time-like word", "meet 10:30", 5, "unknown field"},
		{"empty value", "from:", 0, "empty value"},
		{"empty quoted value", `subject:""`, 0, "empty value"},
		{"empty phrase", `tag:a ""`, 6, "empty phrase"},
		{"malformed date", "date:2024-13-01", 0, "malformed date"},
		{"date garbage", "date:yesterday", 0, "malformed date"},
		{"date open both ends", "date:..", 0, "at least one endpoint"},
		{"date reversed", "date:2024-03..2024-01", 0, "ends before it starts"},
		{"date year one", "date:0001", 0, "before 1900"},
		{"date year zero", "date:0000-01-01", 0, "before 1900"},
		{"date range from year one", "date:0001..2024", 0, "before 1900"},
		{"invalid tag", "tag:-x", 0, "invalid tag"},
		{"unclosed paren", "(tag:a or tag:b", 0, "unbalanced"},
		{"stray close paren", "tag:a)", 5, "unbalanced"},
		{"leading close paren", ")", 0, "unbalanced"},
		{"empty group", "tag:a ()", 7, "empty group"},
		{"unterminated phrase", `tag:a "open`, 6, "unterminated quote"},
		{"unterminated field value", `subject:"open`, 0, "unterminated quote"},
		{"dangling or", "tag:a or", 6, "missing an operand"},
		{"dangling and", "tag:a and", 6, "missing an operand"},
		{"leading or", "or tag:a", 0, "missing an operand"},
		{"dangling not", "tag:a not", 6, "missing an operand"},
		{"dangling dash", "tag:a -", 6, "missing an operand"},
		{"double operator", "tag:a and or tag:b", 6, "missing an operand"},
		{"operator before close", "(tag:a or)", 7, "missing an operand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSyntaxError(t, tt.query, tt.pos, tt.msg)
		})
	}
}

func TestSyntaxErrorMessage(t *testing.T) {
	_, err := Parse("tag:a bogus:1")
	if err == nil {
		t.Fatal("expected error")
	}
	want := `query syntax error at position 6 near "bogus:1": unknown field "bogus"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	_, err = Parse("tag:a or")
	if err == nil || err.Error() != `query syntax error at position 6 near "or": operator is missing an operand` {
		t.Errorf("Error() = %v", err)
	}
}
