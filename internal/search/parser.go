// Package search compiles notmuch-style query strings into predicate trees.
//
// Grammar, loosest binding first:
//
//	query   := or?
//	or      := and ("or" and)*
//	and     := unary (("and")? unary)*
//	unary   := ("not" | "-") unary | primary
//	primary := "(" or ")" | term
//	term    := field ":" value | word | "quoted phrase"
//
// Fields are tag, is (alias of tag), from, to, cc, subject, body, id and
// date. Keywords are case-insensitive; tag names are not.
package search

import (
	"fmt"
	"strings"

	"github.com/wesm/tagmail/internal/tagset"
)

// SyntaxError reports a malformed query. Pos is the byte offset of Token in
// the query text; at end of input Token is empty.
type SyntaxError struct {
	Pos   int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("query syntax error at position %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("query syntax error at position %d near %q: %s", e.Pos, e.Token, e.Msg)
}

type tokenKind int

const (
	tokTerm tokenKind = iota
	tokPhrase
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	pos  int
	raw  string
	// For terms: field is empty for bare words. value is unquoted.
	field string
	value string
}

// fieldHandlers build the leaf for each known field.
var fieldHandlers = map[string]func(tok token) (Node, error){
	"tag":     tagLeaf,
	"is":      tagLeaf,
	"from":    textLeaf(FieldFrom),
	"to":      textLeaf(FieldTo),
	"cc":      textLeaf(FieldCc),
	"subject": textLeaf(FieldSubject),
	"body":    textLeaf(FieldBody),
	"id": func(tok token) (Node, error) {
		return IDMatch{ID: tok.value}, nil
	},
	"date": func(tok token) (Node, error) {
		from, to, err := parseDateRange(tok.value)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: err.Error()}
		}
		return DateRange{From: from, To: to}, nil
	},
}

func tagLeaf(tok token) (Node, error) {
	if err := tagset.Validate(tok.value); err != nil {
		return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: err.Error()}
	}
	return TagMatch{Tag: tok.value}, nil
}

func textLeaf(f Field) func(token) (Node, error) {
	return func(tok token) (Node, error) {
		return FieldMatch{Field: f, Value: tok.value}, nil
	}
}

// Parse compiles a query. An empty or all-whitespace query yields MatchAll.
// Errors are always *SyntaxError.
func Parse(query string) (Node, error) {
	toks, err := tokenize(query)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return MatchAll{}, nil
	}

	p := &parser{src: query, toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		if tok.kind == tokRParen {
			return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: "unbalanced parentheses"}
		}
		return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: "unexpected token"}
	}
	return n, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	p.pos++
	return tok
}

func (p *parser) endErr(msg string) error {
	return &SyntaxError{Pos: len(p.src), Msg: msg}
}

// operand fails when the operator just consumed has nothing to act on.
func (p *parser) operand(op token) error {
	tok, ok := p.peek()
	if !ok || tok.kind == tokRParen || tok.kind == tokAnd || tok.kind == tokOr {
		return &SyntaxError{Pos: op.pos, Token: op.raw, Msg: "operator is missing an operand"}
	}
	return nil
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			break
		}
		op := p.next()
		if err := p.operand(op); err != nil {
			return nil, err
		}
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return first, nil
	}
	return Or{Children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
loop:
	for {
		tok, ok := p.peek()
		if !ok {
			break
		}
		switch tok.kind {
		case tokAnd:
			op := p.next()
			if err := p.operand(op); err != nil {
				return nil, err
			}
		case tokTerm, tokPhrase, tokNot, tokLParen:
			// juxtaposition is an implicit and
		default:
			break loop
		}
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return first, nil
	}
	return And{Children: children}, nil
}

func (p *parser) parseUnary() (Node, error) {
	tok, ok := p.peek()
	if ok && tok.kind == tokNot {
		op := p.next()
		if err := p.operand(op); err != nil {
			return nil, err
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.endErr("unexpected end of query")
	}
	switch tok.kind {
	case tokLParen:
		open := p.next()
		if next, ok := p.peek(); ok && next.kind == tokRParen {
			return nil, &SyntaxError{Pos: next.pos, Token: next.raw, Msg: "empty group"}
		}
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if next, ok := p.peek(); !ok || next.kind != tokRParen {
			return nil, &SyntaxError{Pos: open.pos, Token: open.raw, Msg: "unbalanced parentheses"}
		}
		p.next()
		return n, nil
	case tokRParen:
		return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: "unbalanced parentheses"}
	case tokAnd, tokOr:
		return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: "operator is missing an operand"}
	case tokPhrase:
		p.next()
		if tok.value == "" {
			return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: "empty phrase"}
		}
		return Text{Value: tok.value}, nil
	default:
		p.next()
		return termNode(tok)
	}
}

func termNode(tok token) (Node, error) {
	if tok.field == "" {
		return Text{Value: tok.value}, nil
	}
	handler, ok := fieldHandlers[strings.ToLower(tok.field)]
	if !ok {
		return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: fmt.Sprintf("unknown field %q", tok.field)}
	}
	if tok.value == "" {
		return nil, &SyntaxError{Pos: tok.pos, Token: tok.raw, Msg: fmt.Sprintf("empty value for %s:", tok.field)}
	}
	return handler(tok)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// tokenize splits a query into tokens, keeping quoted phrases and
// field:"quoted value" pairs together.
func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i, raw: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i, raw: ")"})
			i++
		case c == '-':
			toks = append(toks, token{kind: tokNot, pos: i, raw: "-"})
			i++
		case c == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, &SyntaxError{Pos: i, Token: s[i:], Msg: "unterminated quote"}
			}
			raw := s[i : i+end+2]
			toks = append(toks, token{kind: tokPhrase, pos: i, raw: raw, value: raw[1 : len(raw)-1]})
			i += end + 2
		default:
			tok, n, err := readWord(s, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i += n
		}
	}
	return toks, nil
}

// readWord reads a bare word or field:value term starting at s[start].
func readWord(s string, start int) (token, int, error) {
	i := start
	colon := -1
	for i < len(s) {
		c := s[i]
		if isSpace(c) || c == '(' || c == ')' || c == '"' {
			break
		}
		if c == ':' && colon < 0 {
			colon = i
			if i+1 < len(s) && s[i+1] == '"' {
				end := strings.IndexByte(s[i+2:], '"')
				if end < 0 {
					return token{}, 0, &SyntaxError{Pos: start, Token: s[start:], Msg: "unterminated quote"}
				}
				raw := s[start : i+2+end+1]
				return token{
					kind:  tokTerm,
					pos:   start,
					raw:   raw,
					field: s[start:colon],
					value: s[i+2 : i+2+end],
				}, len(raw), nil
			}
		}
		i++
	}

	raw := s[start:i]
	tok := token{kind: tokTerm, pos: start, raw: raw, value: raw}
	if colon >= 0 {
		tok.field = s[start:colon]
		tok.value = s[colon+1 : i]
		return tok, len(raw), nil
	}
	switch strings.ToLower(raw) {
	case "and":
		tok.kind = tokAnd
	case "or":
		tok.kind = tokOr
	case "not":
		tok.kind = tokNot
	}
	return tok, len(raw), nil
}
