package memoryengine

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/dogmatiq/storekit/driver/memory/internal/clone"
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
)

// conn is an implementation of [engine.Conn] that manipulates a database's
// in-memory state.
type conn struct {
	name    string
	version uint64
	db      *database
}

func (c *conn) Database() string {
	return c.name
}

func (c *conn) Version() uint64 {
	return c.version
}

func (c *conn) HasCollection(name string) bool {
	c.db.RLock()
	defer c.db.RUnlock()

	_, ok := c.db.collections[name]
	return ok
}

func (c *conn) Collections() []string {
	c.db.RLock()
	defer c.db.RUnlock()

	return slices.Sorted(maps.Keys(c.db.collections))
}

func (c *conn) Get(ctx context.Context, name string, k []byte) ([]byte, bool, error) {
	coll, unlock, err := c.read(name)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	v, ok := coll.Values[string(k)]
	return clone.Bytes(v), ok, ctx.Err()
}

func (c *conn) Has(ctx context.Context, name string, k []byte) (bool, error) {
	coll, unlock, err := c.read(name)
	if err != nil {
		return false, err
	}
	defer unlock()

	_, ok := coll.Values[string(k)]
	return ok, ctx.Err()
}

func (c *conn) GetAll(ctx context.Context, name string) ([][]byte, error) {
	coll, unlock, err := c.read(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var values [][]byte
	for _, k := range slices.Sorted(maps.Keys(coll.Values)) {
		values = append(values, clone.Bytes(coll.Values[k]))
	}

	return values, ctx.Err()
}

func (c *conn) GetAllKeys(ctx context.Context, name string) ([][]byte, error) {
	coll, unlock, err := c.read(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var keys [][]byte
	for _, k := range slices.Sorted(maps.Keys(coll.Values)) {
		keys = append(keys, []byte(k))
	}

	return keys, ctx.Err()
}

func (c *conn) Put(ctx context.Context, name string, k, v []byte) error {
	if err := enginex.ValidateKey(k); err != nil {
		return err
	}

	v = clone.Bytes(v)
	if v == nil {
		v = []byte{}
	}

	coll, unlock, err := c.write(name)
	if err != nil {
		return err
	}
	defer unlock()

	if coll.Values == nil {
		coll.Values = map[string][]byte{}
	}

	coll.Values[string(k)] = v

	return ctx.Err()
}

func (c *conn) Delete(ctx context.Context, name string, k []byte) error {
	coll, unlock, err := c.write(name)
	if err != nil {
		return err
	}
	defer unlock()

	delete(coll.Values, string(k))

	return ctx.Err()
}

func (c *conn) Clear(ctx context.Context, name string) error {
	coll, unlock, err := c.write(name)
	if err != nil {
		return err
	}
	defer unlock()

	clear(coll.Values)

	return ctx.Err()
}

func (c *conn) Close() error {
	if c.db == nil {
		return errors.New("connection is already closed")
	}

	c.db.gate.Leave()
	c.db = nil

	return nil
}

// read returns the named collection with the database read-locked.
func (c *conn) read(name string) (*collection, func(), error) {
	if c.db == nil {
		panic("connection is closed")
	}

	c.db.RLock()

	coll, ok := c.db.collections[name]
	if !ok {
		c.db.RUnlock()
		return nil, nil, c.notFound(name)
	}

	return coll, c.db.RUnlock, nil
}

// write returns the named collection with the database write-locked.
func (c *conn) write(name string) (*collection, func(), error) {
	if c.db == nil {
		panic("connection is closed")
	}

	c.db.Lock()

	coll, ok := c.db.collections[name]
	if !ok {
		c.db.Unlock()
		return nil, nil, c.notFound(name)
	}

	return coll, c.db.Unlock, nil
}

func (c *conn) notFound(name string) error {
	return engine.CollectionNotFoundError{
		Database:   c.name,
		Collection: name,
	}
}
