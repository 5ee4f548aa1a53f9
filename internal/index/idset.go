package index

// IDSet is a set of message identifiers. Sets returned by the Index are
// fresh copies the caller may modify.
type IDSet map[string]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// UnionWith adds every member of o to s.
func (s IDSet) UnionWith(o IDSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

// IntersectWith removes from s everything not in o.
func (s IDSet) IntersectWith(o IDSet) {
	for id := range s {
		if _, ok := o[id]; !ok {
			delete(s, id)
		}
	}
}

// Subtract removes every member of o from s.
func (s IDSet) Subtract(o IDSet) {
	if len(o) > len(s) {
		for id := range s {
			if _, ok := o[id]; ok {
				delete(s, id)
			}
		}
		return
	}
	for id := range o {
		delete(s, id)
	}
}
