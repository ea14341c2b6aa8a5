package model

import "encoding/json"

// Identifiable is implemented by every record kind that can live in a
// Bucket. The identifier is the surrogate key bucket uniqueness is
// enforced against.
type Identifiable interface {
	RecordID() string
}

// Bucket is a named, ordered, identifier-unique sequence of records.
// Inserting a record whose identifier already exists updates it in
// place rather than appending a duplicate - this is the sole
// enforcement point for the "no two records share an identifier"
// invariant, so every mutation of pipeline state must go through it.
type Bucket[T Identifiable] struct {
	order []string
	items map[string]T
}

// NewBucket returns an empty bucket.
func NewBucket[T Identifiable]() *Bucket[T] {
	return &Bucket[T]{items: make(map[string]T)}
}

// Upsert inserts item, or replaces the existing record with the same
// identifier in place without changing its position.
func (b *Bucket[T]) Upsert(item T) {
	id := item.RecordID()
	if _, exists := b.items[id]; !exists {
		b.order = append(b.order, id)
	}
	b.items[id] = item
}

// Get returns the record with the given identifier, if present.
func (b *Bucket[T]) Get(id string) (T, bool) {
	v, ok := b.items[id]
	return v, ok
}

// Items returns all records in insertion order. The returned slice is
// a copy; mutating it does not affect the bucket.
func (b *Bucket[T]) Items() []T {
	out := make([]T, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.items[id])
	}
	return out
}

// Len returns the number of records currently in the bucket.
func (b *Bucket[T]) Len() int {
	return len(b.order)
}

// Has reports whether id is present.
func (b *Bucket[T]) Has(id string) bool {
	_, ok := b.items[id]
	return ok
}

// MarshalJSON encodes the bucket as an ordered array of its items, for
// checkpoint serialization.
func (b *Bucket[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Items())
}

// UnmarshalJSON restores the bucket from an ordered array of items,
// rebuilding the identifier index. The bucket must already exist
// (typically via NewBucket) since generic types can't be constructed
// from inside UnmarshalJSON.
func (b *Bucket[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	b.order = nil
	b.items = make(map[string]T, len(items))
	for _, item := range items {
		b.Upsert(item)
	}
	return nil
}
