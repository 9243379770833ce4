package boltengine

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
	"go.etcd.io/bbolt"
)

// conn is an implementation of [engine.Conn] for a BoltDB database.
type conn struct {
	engine      *Engine
	name        string
	version     uint64
	db          *database
	collections map[string]struct{}
	closed      bool
}

func (c *conn) Database() string {
	return c.name
}

func (c *conn) Version() uint64 {
	return c.version
}

// HasCollection returns true if the named collection exists. The set of
// collections can not change while the connection is open.
func (c *conn) HasCollection(name string) bool {
	_, ok := c.collections[name]
	return ok
}

func (c *conn) Collections() []string {
	return slices.Sorted(maps.Keys(c.collections))
}

func (c *conn) Get(ctx context.Context, name string, k []byte) (v []byte, ok bool, err error) {
	err = c.view(ctx, name, func(b *bbolt.Bucket) error {
		key, value := b.Cursor().Seek(k)
		if key == nil || !bytes.Equal(key, k) {
			return nil
		}

		v = append([]byte{}, value...)
		ok = true
		return nil
	})
	return v, ok, err
}

func (c *conn) Has(ctx context.Context, name string, k []byte) (ok bool, err error) {
	err = c.view(ctx, name, func(b *bbolt.Bucket) error {
		key, _ := b.Cursor().Seek(k)
		ok = key != nil && bytes.Equal(key, k)
		return nil
	})
	return ok, err
}

func (c *conn) GetAll(ctx context.Context, name string) (values [][]byte, err error) {
	err = c.view(ctx, name, func(b *bbolt.Bucket) error {
		return b.ForEach(func(_, v []byte) error {
			values = append(values, append([]byte{}, v...))
			return nil
		})
	})
	return values, err
}

func (c *conn) GetAllKeys(ctx context.Context, name string) (keys [][]byte, err error) {
	err = c.view(ctx, name, func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte{}, k...))
			return nil
		})
	})
	return keys, err
}

func (c *conn) Put(ctx context.Context, name string, k, v []byte) error {
	if err := enginex.ValidateKey(k); err != nil {
		return err
	}

	return c.update(ctx, name, func(b *bbolt.Bucket) error {
		if v == nil {
			v = []byte{}
		}
		return b.Put(k, v)
	})
}

func (c *conn) Delete(ctx context.Context, name string, k []byte) error {
	return c.update(ctx, name, func(b *bbolt.Bucket) error {
		return b.Delete(k)
	})
}

func (c *conn) Clear(ctx context.Context, name string) error {
	if err := c.check(ctx, name); err != nil {
		return err
	}

	return c.db.db.Update(func(tx *bbolt.Tx) error {
		collections := tx.Bucket(collectionsBucket)

		if err := collections.DeleteBucket([]byte(name)); err != nil {
			return err
		}

		_, err := collections.CreateBucket([]byte(name))
		return err
	})
}

func (c *conn) Close() error {
	if c.closed {
		return errors.New("connection is already closed")
	}

	c.closed = true
	c.db.gate.Leave()

	return c.engine.release(c.name)
}

// check returns an error if the named collection does not exist, or ctx is
// canceled.
func (c *conn) check(ctx context.Context, name string) error {
	if c.closed {
		panic("connection is closed")
	}

	if !c.HasCollection(name) {
		return engine.CollectionNotFoundError{
			Database:   c.name,
			Collection: name,
		}
	}

	return ctx.Err()
}

func (c *conn) view(ctx context.Context, name string, fn func(*bbolt.Bucket) error) error {
	if err := c.check(ctx, name); err != nil {
		return err
	}

	return c.db.db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(collectionsBucket).Bucket([]byte(name)))
	})
}

func (c *conn) update(ctx context.Context, name string, fn func(*bbolt.Bucket) error) error {
	if err := c.check(ctx, name); err != nil {
		return err
	}

	return c.db.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(collectionsBucket).Bucket([]byte(name)))
	})
}
