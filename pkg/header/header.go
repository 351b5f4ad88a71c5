package header

import "strings"

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Unlike net/http's map-backed
// header, insertion order is preserved; both the cache record layout and the
// client wire format depend on it.
type Header []Field

// Add appends a field to the header.
func (h *Header) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// Get returns the value of the first field with the given name,
// matching case-insensitively. It returns "" if the field is absent.
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether a field with the given name is present.
func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Without returns a copy of h with all fields matching the given names
// (case-insensitively) removed.
func (h Header) Without(names ...string) Header {
	out := make(Header, 0, len(h))
	for _, f := range h {
		skip := false
		for _, name := range names {
			if strings.EqualFold(f.Name, name) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, f)
		}
	}
	return out
}
