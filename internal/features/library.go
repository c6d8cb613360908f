// Package features holds the reference descriptor library used to check notes.
package features

import (
	"sort"

	"github.com/andresmejia3/screener/internal/types"
)

// Key addresses one bucket of reference images.
type Key struct {
	Denomination types.Denomination
	Side         types.Side
}

// Library maps (denomination, side) to its reference items. It is read-only
// once built; reloading means building a new Library.
type Library struct {
	buckets map[Key][]types.ReferenceFeatureItem
}

// NewLibrary copies buckets into a new library.
func NewLibrary(buckets map[Key][]types.ReferenceFeatureItem) *Library {
	lib := &Library{buckets: make(map[Key][]types.ReferenceFeatureItem, len(buckets))}
	for k, items := range buckets {
		cp := make([]types.ReferenceFeatureItem, len(items))
		copy(cp, items)
		lib.buckets[k] = cp
	}
	return lib
}

// Bucket returns the items for one side of a denomination. ok is false when
// the bucket was never registered; a registered bucket may still be empty.
func (l *Library) Bucket(d types.Denomination, side types.Side) (items []types.ReferenceFeatureItem, ok bool) {
	if l == nil {
		return nil, false
	}
	items, ok = l.buckets[Key{Denomination: d, Side: side}]
	return items, ok
}

// Keys lists registered buckets sorted by currency, value, then side.
func (l *Library) Keys() []Key {
	if l == nil {
		return nil
	}
	keys := make([]Key, 0, len(l.buckets))
	for k := range l.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Denomination.Currency != b.Denomination.Currency {
			return a.Denomination.Currency < b.Denomination.Currency
		}
		if a.Denomination.Value != b.Denomination.Value {
			return a.Denomination.Value < b.Denomination.Value
		}
		return a.Side < b.Side
	})
	return keys
}

// Items returns the total number of reference items across every bucket.
func (l *Library) Items() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, items := range l.buckets {
		n += len(items)
	}
	return n
}
