/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package header implements the case-insensitive, order-preserving,
// multi-value header store from spec §4.2. Unlike the teacher's hdr
// package (a map[string][]string that loses insertion order and
// re-sorts on Write), this store keeps an explicit field order so
// Set-Cookie / WWW-Authenticate stay distinct entries and so field
// order can be asserted by round-trip tests (spec §8 invariant 1).
package header

import (
	"io"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// entry is one canonical field name with its ordered values. A name
// appears at most once in Header.order; repeated Add calls append to
// Values instead of creating a second entry, per spec §3 "Multi-value
// fields ... never concatenate; they remain separate entries" (the
// "entries" are the Values slice, not separate map buckets).
type entry struct {
	name   string // canonical form, e.g. "Content-Type"
	values []string
}

// Header is the ordered, case-insensitive multi-value map.
type Header struct {
	order []entry
	index map[string]int // lowercase name -> index into order
}

// New returns an empty Header store.
func New() *Header {
	return &Header{index: make(map[string]int)}
}

func key(name string) string { return strings.ToLower(name) }

// Canonical returns the canonical wire form of a header name, e.g.
// "content-type" -> "Content-Type".
func Canonical(name string) string {
	b := []byte(name)
	upper := true
	for i, c := range b {
		switch {
		case upper && 'a' <= c && c <= 'z':
			b[i] = c - ('a' - 'A')
		case !upper && 'A' <= c && c <= 'Z':
			b[i] = c + ('a' - 'A')
		}
		upper = b[i] == '-'
	}
	return string(b)
}

// Set replaces all values associated with name, preserving the
// field's original position if it already existed, or appending a new
// entry in insertion order otherwise.
func (h *Header) Set(name, value string) error {
	if err := validate(name, value); err != nil {
		return err
	}
	k := key(name)
	if i, ok := h.index[k]; ok {
		h.order[i].values = []string{value}
		return nil
	}
	h.index[k] = len(h.order)
	h.order = append(h.order, entry{name: Canonical(name), values: []string{value}})
	return nil
}

// Add appends value to name's ordered sequence, creating the entry on
// first insert (spec §3: "Insertion preserves field order on first
// insert; subsequent same-name inserts append").
func (h *Header) Add(name, value string) error {
	if err := validate(name, value); err != nil {
		return err
	}
	k := key(name)
	if i, ok := h.index[k]; ok {
		h.order[i].values = append(h.order[i].values, value)
		return nil
	}
	h.index[k] = len(h.order)
	h.order = append(h.order, entry{name: Canonical(name), values: []string{value}})
	return nil
}

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	if h == nil {
		return ""
	}
	i, ok := h.index[key(name)]
	if !ok || len(h.order[i].values) == 0 {
		return ""
	}
	return h.order[i].values[0]
}

// Values returns the ordered sequence of values for name (spec
// §4.2 get_all). The returned slice must not be mutated by the caller.
func (h *Header) Values(name string) []string {
	if h == nil {
		return nil
	}
	i, ok := h.index[key(name)]
	if !ok {
		return nil
	}
	return h.order[i].values
}

// Has reports whether name has at least one value set.
func (h *Header) Has(name string) bool {
	if h == nil {
		return false
	}
	_, ok := h.index[key(name)]
	return ok
}

// Del removes all values for name.
func (h *Header) Del(name string) {
	k := key(name)
	i, ok := h.index[k]
	if !ok {
		return
	}
	h.order = append(h.order[:i], h.order[i+1:]...)
	delete(h.index, k)
	for n, idx := range h.index {
		if idx > i {
			h.index[n] = idx - 1
		}
	}
}

// Names returns field names in insertion order.
func (h *Header) Names() []string {
	names := make([]string, len(h.order))
	for i, e := range h.order {
		names[i] = e.name
	}
	return names
}

// Each calls fn once per (name, value) pair in insertion order,
// visiting each entry's multiple values in their own append order.
func (h *Header) Each(fn func(name, value string)) {
	if h == nil {
		return
	}
	for _, e := range h.order {
		for _, v := range e.values {
			fn(e.name, v)
		}
	}
}

// Clone returns a deep copy preserving order.
func (h *Header) Clone() *Header {
	if h == nil {
		return New()
	}
	out := &Header{
		order: make([]entry, len(h.order)),
		index: make(map[string]int, len(h.index)),
	}
	for i, e := range h.order {
		vv := make([]string, len(e.values))
		copy(vv, e.values)
		out.order[i] = entry{name: e.name, values: vv}
	}
	for k, v := range h.index {
		out.index[k] = v
	}
	return out
}

// Write serializes the header block in insertion order, "Name: value\r\n"
// per field value, skipping entries in exclude.
func (h *Header) Write(w io.Writer, exclude map[string]bool) error {
	for _, e := range h.order {
		if exclude != nil && exclude[key(e.name)] {
			continue
		}
		for _, v := range e.values {
			if _, err := io.WriteString(w, e.name); err != nil {
				return err
			}
			if _, err := io.WriteString(w, ": "); err != nil {
				return err
			}
			if _, err := io.WriteString(w, sanitizeValue(v)); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

func sanitizeValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(strings.TrimSpace(v))
}

// validate rejects CR/LF injection and invalid field names/values per
// spec §4.2, using golang.org/x/net/http/httpguts the way the teacher's
// (incomplete, unretrieved) transport.go validates headers against
// golang.org/x/net/lex/httplex before a RoundTrip.
func validate(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return &InvalidFieldError{Name: name}
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return &InvalidFieldError{Name: name, Value: value, BadValue: true}
	}
	return nil
}

// InvalidFieldError reports a header name or value that fails HTTP
// token/field-value grammar, e.g. one carrying a bare CR or LF.
type InvalidFieldError struct {
	Name     string
	Value    string
	BadValue bool
}

func (e *InvalidFieldError) Error() string {
	if e.BadValue {
		return "header: invalid value for field " + e.Name
	}
	return "header: invalid field name " + e.Name
}
