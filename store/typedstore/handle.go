package typedstore

import (
	"context"

	"github.com/dogmatiq/storekit/marshal"
	"github.com/dogmatiq/storekit/store"
)

// Handle provides access to a collection of key/value pairs of type K/V.
type Handle[K, V any, KM marshal.Marshaler[K], VM marshal.Marshaler[V]] struct {
	*store.Handle
	KeyMarshaler   KM
	ValueMarshaler VM
}

// New returns a [Handle] for the named collection within the named database.
func New[K, V any, KM marshal.Marshaler[K], VM marshal.Marshaler[V]](
	t *store.Tracker,
	db, collection string,
	km KM,
	vm VM,
) Handle[K, V, KM, VM] {
	return Handle[K, V, KM, VM]{t.Handle(db, collection), km, vm}
}

// Exists returns true if k is present in the collection.
func (h Handle[K, V, KM, VM]) Exists(ctx context.Context, k K) (bool, error) {
	keyData, err := h.KeyMarshaler.Marshal(k)
	if err != nil {
		return false, err
	}
	return h.Handle.Exists(ctx, keyData)
}

// Get returns the value associated with k.
//
// If the key does not exist v is the zero-value and ok is false.
func (h Handle[K, V, KM, VM]) Get(ctx context.Context, k K) (v V, ok bool, err error) {
	keyData, err := h.KeyMarshaler.Marshal(k)
	if err != nil {
		return v, false, err
	}

	valueData, ok, err := h.Handle.Get(ctx, keyData)
	if !ok || err != nil {
		return v, false, err
	}

	v, err = h.ValueMarshaler.Unmarshal(valueData)
	return v, err == nil, err
}

// Values returns all of the values in the collection, ordered by the marshaled
// representation of their keys.
func (h Handle[K, V, KM, VM]) Values(ctx context.Context) ([]V, error) {
	data, err := h.Handle.Values(ctx)
	if err != nil {
		return nil, err
	}

	values := make([]V, 0, len(data))
	for _, d := range data {
		v, err := h.ValueMarshaler.Unmarshal(d)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	return values, nil
}

// Save associates v with k, replacing any existing value. It returns the key
// that was written.
func (h Handle[K, V, KM, VM]) Save(ctx context.Context, k K, v V) (K, error) {
	keyData, err := h.KeyMarshaler.Marshal(k)
	if err != nil {
		return k, err
	}

	valueData, err := h.ValueMarshaler.Marshal(v)
	if err != nil {
		return k, err
	}

	_, err = h.Handle.Save(ctx, keyData, valueData)
	return k, err
}

// Delete removes k from the collection. It is not an error if k is not
// present.
func (h Handle[K, V, KM, VM]) Delete(ctx context.Context, k K) error {
	keyData, err := h.KeyMarshaler.Marshal(k)
	if err != nil {
		return err
	}
	return h.Handle.Delete(ctx, keyData)
}

// Keys returns all of the keys in the collection, ordered by their marshaled
// representation.
func (h Handle[K, V, KM, VM]) Keys(ctx context.Context) ([]K, error) {
	data, err := h.Handle.Keys(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]K, 0, len(data))
	for _, d := range data {
		k, err := h.KeyMarshaler.Unmarshal(d)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, nil
}
