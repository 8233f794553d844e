// Package layer provides a uniform read-only view over a vector dataset:
// distinct attribute values, attribute and spatial filters, restartable
// iteration in dataset order, and scoped queries that always reset their
// filters.
package layer

import (
	"strings"

	"github.com/twpayne/go-geom"
)

// Value is an attribute value. Missing and empty attributes are Null.
type Value struct {
	Str  string
	Null bool
}

// NullValue returns the null attribute value.
func NullValue() Value { return Value{Null: true} }

// StringValue returns v as an attribute value. The empty string is null.
func StringValue(v string) Value {
	if v == "" {
		return NullValue()
	}
	return Value{Str: v}
}

// String renders the value; null renders as "<null>".
func (v Value) String() string {
	if v.Null {
		return "<null>"
	}
	return v.Str
}

// Equal reports whether two values are the same. Null equals only null.
func (v Value) Equal(o Value) bool {
	if v.Null || o.Null {
		return v.Null == o.Null
	}
	return v.Str == o.Str
}

// Feature is one record of a dataset.
type Feature struct {
	ID         int64
	Attributes map[string]Value
	Geometry   geom.T
}

// Attr returns the named attribute. Field names fall back to a
// case-insensitive match since shapefile fields are usually upper case.
func (f Feature) Attr(name string) Value {
	if v, ok := f.Attributes[name]; ok {
		return v
	}
	for k, v := range f.Attributes {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return NullValue()
}
