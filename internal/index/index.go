// Package index maintains the in-memory lookup structures the query engine
// evaluates against: tag membership, folded header and body tokens, and a
// date-ordered sequence of message identifiers.
//
// An Index is derived entirely from store records and can be rebuilt at any
// time with Rebuild. It is not safe for concurrent use; the engine guards it
// together with the store.
package index

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
	"github.com/wesm/tagmail/internal/textutil"
)

// Field names an indexed part of a message.
type Field string

const (
	FieldTag     Field = "tag"
	FieldFrom    Field = "from"
	FieldTo      Field = "to"
	FieldCc      Field = "cc"
	FieldSubject Field = "subject"
	FieldBody    Field = "body"
)

// TextFields are the fields matched by case-insensitive substring.
var TextFields = []Field{FieldFrom, FieldTo, FieldCc, FieldSubject, FieldBody}

type doc struct {
	date time.Time
	tags tagset.Set
	// text holds the folded content of each text field, used to verify
	// multi-token substring matches.
	text map[Field]string
}

type entry struct {
	id   string
	date time.Time
}

// before reports whether a sorts ahead of b: newer first, then by id.
func (a entry) before(b entry) bool {
	if !a.date.Equal(b.date) {
		return a.date.After(b.date)
	}
	return a.id < b.id
}

// Index is the set of inverted indexes over the message corpus.
type Index struct {
	docs   map[string]*doc
	tags   map[string]IDSet
	terms  map[Field]map[string]IDSet
	byDate []entry
}

// New returns an empty index.
func New() *Index {
	ix := &Index{
		docs:  make(map[string]*doc),
		tags:  make(map[string]IDSet),
		terms: make(map[Field]map[string]IDSet, len(TextFields)),
	}
	for _, f := range TextFields {
		ix.terms[f] = make(map[string]IDSet)
	}
	return ix
}

// Scanner streams every stored message. *store.Store implements it.
type Scanner interface {
	Scan(fn func(*store.Message) error) error
}

// Rebuild builds a fresh index from every message src yields.
func Rebuild(src Scanner) (*Index, error) {
	ix := New()
	err := src.Scan(func(m *store.Message) error {
		return ix.Ingest(m)
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return ix, nil
}

// Tokens splits folded text into index terms. Letters, digits and the
// punctuation common inside addresses (@ . _ - +) form terms; everything
// else separates them.
func Tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
		switch r {
		case '@', '.', '_', '-', '+':
			return false
		}
		return true
	})
}

func fieldText(m *store.Message) map[Field]string {
	return map[Field]string{
		FieldFrom:    m.Header(store.HeaderFrom),
		FieldTo:      m.Header(store.HeaderTo),
		FieldCc:      m.Header(store.HeaderCc),
		FieldSubject: m.Header(store.HeaderSubject),
		FieldBody:    textutil.BodyText(m.Body.Text, m.Body.HTML),
	}
}

// Ingest adds m to every index. It fails with *store.DuplicateMessageError
// when the id is already indexed.
func (ix *Index) Ingest(m *store.Message) error {
	if _, ok := ix.docs[m.ID]; ok {
		return &store.DuplicateMessageError{ID: m.ID}
	}

	d := &doc{
		date: m.Date,
		tags: m.Tags.Clone(),
		text: make(map[Field]string, len(TextFields)),
	}
	for f, raw := range fieldText(m) {
		folded := textutil.Fold(raw)
		d.text[f] = folded
		for _, tok := range Tokens(folded) {
			addTo(ix.terms[f], tok, m.ID)
		}
	}
	for tag := range d.tags {
		addTo(ix.tags, tag, m.ID)
	}

	e := entry{id: m.ID, date: m.Date}
	pos := sort.Search(len(ix.byDate), func(i int) bool { return !ix.byDate[i].before(e) })
	ix.byDate = append(ix.byDate, entry{})
	copy(ix.byDate[pos+1:], ix.byDate[pos:])
	ix.byDate[pos] = e

	ix.docs[m.ID] = d
	return nil
}

// Remove drops id from every index. Unknown ids fail with
// *store.NotFoundError.
func (ix *Index) Remove(id string) error {
	d, ok := ix.docs[id]
	if !ok {
		return &store.NotFoundError{ID: id}
	}

	for f, folded := range d.text {
		for _, tok := range Tokens(folded) {
			removeFrom(ix.terms[f], tok, id)
		}
	}
	for tag := range d.tags {
		removeFrom(ix.tags, tag, id)
	}

	e := entry{id: id, date: d.date}
	pos := sort.Search(len(ix.byDate), func(i int) bool { return !ix.byDate[i].before(e) })
	if pos < len(ix.byDate) && ix.byDate[pos].id == id {
		ix.byDate = append(ix.byDate[:pos], ix.byDate[pos+1:]...)
	}

	delete(ix.docs, id)
	return nil
}

// UpdateTags replaces the indexed tag set of id. Unknown ids fail with
// *store.NotFoundError.
func (ix *Index) UpdateTags(id string, tags tagset.Set) error {
	d, ok := ix.docs[id]
	if !ok {
		return &store.NotFoundError{ID: id}
	}
	for tag := range d.tags {
		if !tags.Has(tag) {
			removeFrom(ix.tags, tag, id)
		}
	}
	for tag := range tags {
		if !d.tags.Has(tag) {
			addTo(ix.tags, tag, id)
		}
	}
	d.tags = tags.Clone()
	return nil
}

// TagsOf returns a copy of the indexed tag set of id.
func (ix *Index) TagsOf(id string) (tagset.Set, bool) {
	d, ok := ix.docs[id]
	if !ok {
		return nil, false
	}
	return d.tags.Clone(), true
}

// Has reports whether id is indexed.
func (ix *Index) Has(id string) bool {
	_, ok := ix.docs[id]
	return ok
}

// Len returns the number of indexed messages.
func (ix *Index) Len() int { return len(ix.docs) }

// All returns the ids of every indexed message.
func (ix *Index) All() IDSet {
	s := make(IDSet, len(ix.docs))
	for id := range ix.docs {
		s[id] = struct{}{}
	}
	return s
}

// Tags returns every tag carried by at least one message, sorted.
func (ix *Index) Tags() []string {
	out := make([]string, 0, len(ix.tags))
	for tag := range ix.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the messages matching value in field. Tags match exactly
// and case-sensitively. Text fields match when the folded field contains the
// folded value as a substring.
func (ix *Index) Lookup(field Field, value string) IDSet {
	if field == FieldTag {
		return ix.tags[value].Clone()
	}
	terms, ok := ix.terms[field]
	if !ok {
		return IDSet{}
	}

	needle := textutil.Fold(value)
	toks := Tokens(needle)
	if len(toks) == 0 {
		// Only separators: nothing to narrow with, check every message.
		out := IDSet{}
		for id, d := range ix.docs {
			if strings.Contains(d.text[field], needle) {
				out.Add(id)
			}
		}
		return out
	}

	// Every term of the needle lies inside some term of a matching field,
	// so intersecting per-term candidates never loses a match.
	var cand IDSet
	for _, tok := range toks {
		set := containing(terms, tok)
		if cand == nil {
			cand = set
		} else {
			cand.IntersectWith(set)
		}
		if len(cand) == 0 {
			return cand
		}
	}
	if len(toks) == 1 && toks[0] == needle {
		return cand
	}
	for id := range cand {
		if !strings.Contains(ix.docs[id].text[field], needle) {
			delete(cand, id)
		}
	}
	return cand
}

// containing unions the postings of every term that contains tok. This walks
// the field's whole vocabulary, which is bounded by distinct terms rather
// than by messages.
func containing(terms map[string]IDSet, tok string) IDSet {
	out := terms[tok].Clone()
	for term, ids := range terms {
		if term != tok && strings.Contains(term, tok) {
			out.UnionWith(ids)
		}
	}
	return out
}

// DateRange returns messages dated within [from, to], both inclusive. A zero
// bound is open. Messages without a date never match.
func (ix *Index) DateRange(from, to time.Time) IDSet {
	n := len(ix.byDate)
	// byDate is newest first, so the range is one contiguous run.
	lo := 0
	if !to.IsZero() {
		lo = sort.Search(n, func(i int) bool { return !ix.byDate[i].date.After(to) })
	}
	hi := sort.Search(n, func(i int) bool { return ix.byDate[i].date.IsZero() })
	if !from.IsZero() {
		hi = min(hi, sort.Search(n, func(i int) bool { return ix.byDate[i].date.Before(from) }))
	}

	out := IDSet{}
	for i := lo; i < hi; i++ {
		out.Add(ix.byDate[i].id)
	}
	return out
}

// Order returns the members of set newest first, ties broken by ascending
// id. Small sets are sorted directly; large ones are filtered out of the
// pre-sorted sequence.
func (ix *Index) Order(set IDSet) []string {
	out := make([]string, 0, len(set))
	if len(set) == 0 {
		return out
	}
	if len(set)*8 < len(ix.byDate) {
		entries := make([]entry, 0, len(set))
		for id := range set {
			if d, ok := ix.docs[id]; ok {
				entries = append(entries, entry{id: id, date: d.date})
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].before(entries[j]) })
		for _, e := range entries {
			out = append(out, e.id)
		}
		return out
	}
	for _, e := range ix.byDate {
		if set.Has(e.id) {
			out = append(out, e.id)
		}
	}
	return out
}

func addTo(m map[string]IDSet, key, id string) {
	s, ok := m[key]
	if !ok {
		s = IDSet{}
		m[key] = s
	}
	s[id] = struct{}{}
}

func removeFrom(m map[string]IDSet, key, id string) {
	s, ok := m[key]
	if !ok {
		return
	}
	delete(s, id)
	if len(s) == 0 {
		delete(m, key)
	}
}
