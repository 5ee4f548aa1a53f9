package engine

import (
	"fmt"
	"sort"

	"github.com/wesm/tagmail/internal/index"
	"github.com/wesm/tagmail/internal/search"
)

// evaluate resolves n to the set of matching ids. Caller must hold mu.
func (e *Engine) evaluate(n search.Node) (index.IDSet, error) {
	switch n := n.(type) {
	case search.MatchAll:
		return e.index.All(), nil

	case search.TagMatch:
		return e.index.Lookup(index.FieldTag, n.Tag), nil

	case search.FieldMatch:
		set := e.index.Lookup(index.Field(n.Field), n.Value)
		if n.Field == search.FieldTo {
			set.UnionWith(e.index.Lookup(index.FieldCc, n.Value))
		}
		return set, nil

	case search.IDMatch:
		if e.index.Has(n.ID) {
			return index.NewIDSet(n.ID), nil
		}
		return index.IDSet{}, nil

	case search.DateRange:
		return e.index.DateRange(n.From, n.To), nil

	case search.Text:
		set := e.index.Lookup(index.FieldSubject, n.Value)
		set.UnionWith(e.index.Lookup(index.FieldBody, n.Value))
		return set, nil

	case search.And:
		return e.evaluateAnd(n)

	case search.Or:
		out := index.IDSet{}
		for _, c := range n.Children {
			set, err := e.evaluate(c)
			if err != nil {
				return nil, err
			}
			out.UnionWith(set)
		}
		return out, nil

	case search.Not:
		excluded, err := e.evaluate(n.Child)
		if err != nil {
			return nil, err
		}
		out := e.index.All()
		out.Subtract(excluded)
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported query node %T", n)
	}
}

// evaluateAnd intersects the positive children smallest first, then
// subtracts the negated ones instead of materializing their complements.
func (e *Engine) evaluateAnd(n search.And) (index.IDSet, error) {
	var pos []index.IDSet
	var neg []search.Node
	for _, c := range n.Children {
		if not, ok := c.(search.Not); ok {
			neg = append(neg, not.Child)
			continue
		}
		set, err := e.evaluate(c)
		if err != nil {
			return nil, err
		}
		pos = append(pos, set)
	}

	var out index.IDSet
	if len(pos) == 0 {
		out = e.index.All()
	} else {
		sort.Slice(pos, func(i, j int) bool { return len(pos[i]) < len(pos[j]) })
		out = pos[0]
		for _, set := range pos[1:] {
			if len(out) == 0 {
				return out, nil
			}
			out.IntersectWith(set)
		}
	}

	for _, c := range neg {
		if len(out) == 0 {
			break
		}
		set, err := e.evaluate(c)
		if err != nil {
			return nil, err
		}
		out.Subtract(set)
	}
	return out, nil
}
