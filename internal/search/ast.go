package search

import (
	"strconv"
	"strings"
	"time"
)

// Field is a text field a FieldMatch tests.
type Field string

const (
	FieldFrom    Field = "from"
	FieldTo      Field = "to"
	FieldCc      Field = "cc"
	FieldSubject Field = "subject"
	FieldBody    Field = "body"
)

// Node is a parsed query predicate. The concrete types are MatchAll,
// TagMatch, FieldMatch, IDMatch, DateRange, Text, And, Or and Not.
type Node interface {
	node()
	String() string
}

// MatchAll matches every message. It is the result of an empty query.
type MatchAll struct{}

// TagMatch matches messages carrying Tag. Comparison is case-sensitive.
type TagMatch struct {
	Tag string
}

// FieldMatch matches messages whose Field contains Value, ignoring case.
type FieldMatch struct {
	Field Field
	Value string
}

// IDMatch matches the single message with identifier ID.
type IDMatch struct {
	ID string
}

// DateRange matches messages dated within [From, To]. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Text is free text matched against subject and body, ignoring case.
type Text struct {
	Value string
}

type And struct {
	Children []Node
}

type Or struct {
	Children []Node
}

type Not struct {
	Child Node
}

func (MatchAll) node()   {}
func (TagMatch) node()   {}
func (FieldMatch) node() {}
func (IDMatch) node()    {}
func (DateRange) node()  {}
func (Text) node()       {}
func (And) node()        {}
func (Or) node()         {}
func (Not) node()        {}

func (MatchAll) String() string     { return "*" }
func (n TagMatch) String() string   { return "tag:" + n.Tag }
func (n FieldMatch) String() string { return string(n.Field) + ":" + strconv.Quote(n.Value) }
func (n IDMatch) String() string    { return "id:" + strconv.Quote(n.ID) }
func (n Text) String() string       { return strconv.Quote(n.Value) }
func (n And) String() string        { return group("and", n.Children) }
func (n Or) String() string         { return group("or", n.Children) }
func (n Not) String() string        { return "(not " + n.Child.String() + ")" }

func (n DateRange) String() string {
	const layout = "2006-01-02T15:04:05"
	var from, to string
	if !n.From.IsZero() {
		from = n.From.UTC().Format(layout)
	}
	if !n.To.IsZero() {
		to = n.To.UTC().Format(layout)
	}
	return "date:" + from + ".." + to
}

func group(op string, children []Node) string {
	parts := make([]string, 0, len(children)+1)
	parts = append(parts, op)
	for _, c := range children {
		parts = append(parts, c.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}
