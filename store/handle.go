package store

import (
	"context"

	"github.com/dogmatiq/storekit/engine"
)

// Handle provides access to a single collection within a database.
//
// The collection is created the first time it is used. Each operation opens
// its own connection and closes it before returning, so a Handle never holds a
// connection between operations.
type Handle struct {
	tracker    *Tracker
	database   string
	collection string
}

// Database returns the name of the database that contains the collection.
func (h *Handle) Database() string {
	return h.database
}

// Collection returns the name of the collection.
func (h *Handle) Collection() string {
	return h.collection
}

// Exists returns true if k is present in the collection.
func (h *Handle) Exists(ctx context.Context, k []byte) (ok bool, err error) {
	err = h.withConn(ctx, func(c engine.Conn) error {
		ok, err = c.Has(ctx, h.collection, k)
		return err
	})
	return ok, err
}

// Get returns the value associated with k.
//
// ok is false if k is not present in the collection.
func (h *Handle) Get(ctx context.Context, k []byte) (v []byte, ok bool, err error) {
	err = h.withConn(ctx, func(c engine.Conn) error {
		v, ok, err = c.Get(ctx, h.collection, k)
		return err
	})
	return v, ok, err
}

// Values returns all of the values in the collection, ordered by key.
func (h *Handle) Values(ctx context.Context) (values [][]byte, err error) {
	err = h.withConn(ctx, func(c engine.Conn) error {
		values, err = c.GetAll(ctx, h.collection)
		return err
	})
	return values, err
}

// Save associates v with k, replacing any existing value. It returns the key
// that was written.
func (h *Handle) Save(ctx context.Context, k, v []byte) ([]byte, error) {
	if err := h.withConn(ctx, func(c engine.Conn) error {
		return c.Put(ctx, h.collection, k, v)
	}); err != nil {
		return nil, err
	}
	return k, nil
}

// Delete removes k from the collection. It is not an error if k is not
// present.
func (h *Handle) Delete(ctx context.Context, k []byte) error {
	return h.withConn(ctx, func(c engine.Conn) error {
		return c.Delete(ctx, h.collection, k)
	})
}

// Clear removes all key/value pairs from the collection.
func (h *Handle) Clear(ctx context.Context) error {
	return h.withConn(ctx, func(c engine.Conn) error {
		return c.Clear(ctx, h.collection)
	})
}

// Keys returns all of the keys in the collection, in order.
func (h *Handle) Keys(ctx context.Context) (keys [][]byte, err error) {
	err = h.withConn(ctx, func(c engine.Conn) error {
		keys, err = c.GetAllKeys(ctx, h.collection)
		return err
	})
	return keys, err
}

// withConn opens a connection that contains the collection, calls fn, then
// closes the connection.
func (h *Handle) withConn(ctx context.Context, fn func(engine.Conn) error) (err error) {
	c, err := h.tracker.open(ctx, h.database, h.collection)
	if err != nil {
		return err
	}

	defer func() {
		if e := c.Close(); err == nil {
			err = e
		}
	}()

	return fn(c)
}
