package layer

import "strings"

type condition struct {
	field string
	value Value
}

// AttributeFilter is a conjunction of field equality conditions.
type AttributeFilter struct {
	conds []condition
}

// Where starts a filter matching features whose field equals value.
func Where(field string, value Value) *AttributeFilter {
	return &AttributeFilter{conds: []condition{{field: field, value: value}}}
}

// And returns a new filter that also requires field to equal value.
// A nil receiver behaves like an empty filter.
func (f *AttributeFilter) And(field string, value Value) *AttributeFilter {
	out := &AttributeFilter{}
	if f != nil {
		out.conds = append(out.conds, f.conds...)
	}
	out.conds = append(out.conds, condition{field: field, value: value})
	return out
}

// Merge combines two filters; either may be nil.
func Merge(a, b *AttributeFilter) *AttributeFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return &AttributeFilter{conds: append(append([]condition{}, a.conds...), b.conds...)}
}

// Match reports whether feat satisfies every condition.
func (f *AttributeFilter) Match(feat Feature) bool {
	if f == nil {
		return true
	}
	for _, c := range f.conds {
		if !feat.Attr(c.field).Equal(c.value) {
			return false
		}
	}
	return true
}

func (f *AttributeFilter) String() string {
	if f == nil || len(f.conds) == 0 {
		return "<none>"
	}
	parts := make([]string, len(f.conds))
	for i, c := range f.conds {
		parts[i] = c.field + " = " + c.value.String()
	}
	return strings.Join(parts, " AND ")
}
