// Package httpmsg models HTTP/1.x messages the way they appear on the
// wire: an ordered header collection that keeps unique and repeated
// header names in disjoint sets, plus Request/Response types sharing a
// common Message core by composition.
package httpmsg

import (
	"strings"
)

// Header is a single name/value pair. Name keeps the casing it arrived
// with; lookups are case-insensitive.
type Header struct {
	Name  string
	Value string
}

// NewHeader trims surrounding whitespace from both parts.
func NewHeader(name, value string) Header {
	return Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
}

func (h Header) String() string {
	return h.Name + ": " + h.Value
}

// Headers holds a message's header fields. A name occurring once lives
// in the unique set; the moment a second occurrence arrives, both copies
// move to the repeated set in arrival order. The two sets stay disjoint
// by name at all times.
type Headers struct {
	unique   map[string]Header
	repeated map[string][]Header
	order    []string
}

func NewHeaders() *Headers {
	return &Headers{
		unique:   make(map[string]Header),
		repeated: make(map[string][]Header),
	}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Add records one occurrence of a header field, applying the
// move-on-collision rule.
func (hs *Headers) Add(name, value string) {
	h := NewHeader(name, value)
	k := key(name)
	if list, ok := hs.repeated[k]; ok {
		hs.repeated[k] = append(list, h)
		return
	}
	if first, ok := hs.unique[k]; ok {
		delete(hs.unique, k)
		hs.repeated[k] = []Header{first, h}
		return
	}
	hs.unique[k] = h
	hs.order = append(hs.order, k)
}

// Set overwrites any previous occurrences of name with a single value.
func (hs *Headers) Set(name, value string) {
	k := key(name)
	_, hadUnique := hs.unique[k]
	_, hadRepeated := hs.repeated[k]
	delete(hs.repeated, k)
	hs.unique[k] = NewHeader(name, value)
	if !hadUnique && !hadRepeated {
		hs.order = append(hs.order, k)
	}
}

// Get returns the value of the first occurrence of name.
func (hs *Headers) Get(name string) string {
	k := key(name)
	if h, ok := hs.unique[k]; ok {
		return h.Value
	}
	if list, ok := hs.repeated[k]; ok && len(list) > 0 {
		return list[0].Value
	}
	return ""
}

func (hs *Headers) Has(name string) bool {
	k := key(name)
	if _, ok := hs.unique[k]; ok {
		return true
	}
	_, ok := hs.repeated[k]
	return ok
}

// Values returns every occurrence of name in arrival order.
func (hs *Headers) Values(name string) []string {
	k := key(name)
	if h, ok := hs.unique[k]; ok {
		return []string{h.Value}
	}
	list, ok := hs.repeated[k]
	if !ok {
		return nil
	}
	vals := make([]string, 0, len(list))
	for _, h := range list {
		vals = append(vals, h.Value)
	}
	return vals
}

// Del removes every occurrence of name.
func (hs *Headers) Del(name string) {
	k := key(name)
	if _, ok := hs.unique[k]; !ok {
		if _, ok := hs.repeated[k]; !ok {
			return
		}
	}
	delete(hs.unique, k)
	delete(hs.repeated, k)
	for i, o := range hs.order {
		if o == k {
			hs.order = append(hs.order[:i], hs.order[i+1:]...)
			break
		}
	}
}

// All returns every header field in first-seen name order, repeated
// names expanded in arrival order.
func (hs *Headers) All() []Header {
	out := make([]Header, 0, len(hs.order))
	for _, k := range hs.order {
		if h, ok := hs.unique[k]; ok {
			out = append(out, h)
			continue
		}
		out = append(out, hs.repeated[k]...)
	}
	return out
}

// Len counts header fields, repeated occurrences included.
func (hs *Headers) Len() int {
	n := len(hs.unique)
	for _, list := range hs.repeated {
		n += len(list)
	}
	return n
}

// Clone returns a deep copy.
func (hs *Headers) Clone() *Headers {
	out := NewHeaders()
	for _, h := range hs.All() {
		out.Add(h.Name, h.Value)
	}
	return out
}

// InUnique reports whether name currently lives in the unique set.
func (hs *Headers) InUnique(name string) bool {
	_, ok := hs.unique[key(name)]
	return ok
}

// InRepeated reports whether name currently lives in the repeated set.
func (hs *Headers) InRepeated(name string) bool {
	_, ok := hs.repeated[key(name)]
	return ok
}
