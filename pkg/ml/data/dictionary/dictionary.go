// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dictionary implements a Dictionary: an ordered set of unique items (single characters, stored as
// strings) with dense indices `0..Len()-1`.
//
// It's the vocabulary of a character language model: text is converted to indices with Encode or IndicesOf
// and back with Decode or ItemOf.
package dictionary

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// UnknownItem is the item unknown items resolve to, if the dictionary was created with it.
const UnknownItem = "<unk>"

// Dictionary maps items to dense indices. Not safe for concurrent Add, but concurrent reads are fine.
type Dictionary struct {
	items []string
	index map[string]int
}

// New creates an empty Dictionary. If addUnknown is true, the UnknownItem is added as the first item,
// and unknown items are mapped to it. Otherwise, unknown items are mapped to index 0.
func New(addUnknown bool) *Dictionary {
	d := &Dictionary{index: make(map[string]int)}
	if addUnknown {
		d.Add(UnknownItem)
	}
	return d
}

// FromItems creates a Dictionary with the given items, in order. It returns an error on duplicate items.
// If UnknownItem is among the items, unknown items map to it.
func FromItems(items []string) (*Dictionary, error) {
	d := New(false)
	for ii, item := range items {
		if _, found := d.index[item]; found {
			return nil, errors.Errorf("dictionary: duplicate item %q at position %d", item, ii)
		}
		d.Add(item)
	}
	return d, nil
}

// FromText creates a Dictionary with every distinct character of text, in order of first appearance.
func FromText(text string, addUnknown bool) *Dictionary {
	d := New(addUnknown)
	for _, r := range text {
		d.Add(string(r))
	}
	return d
}

// Default returns a Dictionary with "\n" and the printable ASCII characters (from " " to "~").
func Default() *Dictionary {
	d := New(false)
	d.Add("\n")
	for r := ' '; r <= '~'; r++ {
		d.Add(string(r))
	}
	return d
}

// Add item to the dictionary, if not there yet, and returns its index.
func (d *Dictionary) Add(item string) int {
	if idx, found := d.index[item]; found {
		return idx
	}
	idx := len(d.items)
	d.items = append(d.items, item)
	d.index[item] = idx
	return idx
}

// Len returns the number of items.
func (d *Dictionary) Len() int { return len(d.items) }

// Has returns whether item is in the dictionary.
func (d *Dictionary) Has(item string) bool {
	_, found := d.index[item]
	return found
}

// IndexOf returns the index of item. Unknown items map to the index of UnknownItem if present, or 0.
func (d *Dictionary) IndexOf(item string) int {
	if idx, found := d.index[item]; found {
		return idx
	}
	if idx, found := d.index[UnknownItem]; found {
		return idx
	}
	return 0
}

// IndicesOf returns the index of each of the items. See IndexOf.
func (d *Dictionary) IndicesOf(items []string) []int {
	indices := make([]int, len(items))
	for ii, item := range items {
		indices[ii] = d.IndexOf(item)
	}
	return indices
}

// ItemOf returns the item with the given index. It panics if the index is out of range.
func (d *Dictionary) ItemOf(index int) string {
	if index < 0 || index >= len(d.items) {
		exceptions.Panicf("dictionary: index %d out of range for dictionary of %d items", index, len(d.items))
	}
	return d.items[index]
}

// Items returns a copy of all items, ordered by index.
func (d *Dictionary) Items() []string {
	items := make([]string, len(d.items))
	copy(items, d.items)
	return items
}

// Encode splits text into characters (runes) and returns their indices.
func (d *Dictionary) Encode(text string) []int {
	indices := make([]int, 0, len(text))
	for _, r := range text {
		indices = append(indices, d.IndexOf(string(r)))
	}
	return indices
}

// Decode joins the items of the given indices. It panics on indices out of range.
func (d *Dictionary) Decode(indices []int) string {
	var sb strings.Builder
	for _, idx := range indices {
		sb.WriteString(d.ItemOf(idx))
	}
	return sb.String()
}
