package boltengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
	"go.etcd.io/bbolt"
)

var (
	// metaBucket is the top-level bucket that contains the database version.
	metaBucket = []byte("meta")

	// versionKey is the key within metaBucket that holds the database version
	// as a big-endian uint64.
	versionKey = []byte("version")

	// collectionsBucket is the top-level bucket that contains one nested
	// bucket per collection.
	collectionsBucket = []byte("collections")
)

// Engine is an implementation of [engine.Engine] that stores each database in
// a separate BoltDB file.
//
// An upgrade transaction waits until all other connections to the database
// that were opened by this engine have been closed.
type Engine struct {
	// Dir is the directory that contains the database files. It is created if
	// it does not exist.
	Dir string

	// Options are the options used when opening the BoltDB files. If it is
	// nil, [bbolt.DefaultOptions] is used.
	Options *bbolt.Options

	m         sync.Mutex
	databases map[string]*database
}

// database is a BoltDB file that is shared by all open connections to the same
// database.
type database struct {
	refs int
	db   *bbolt.DB
	gate *enginex.Gate
}

// Open opens (creating if necessary) the database with the given name.
func (e *Engine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade engine.UpgradeFunc,
) (_ engine.Conn, err error) {
	db, err := e.acquire(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			e.release(name)
		}
	}()

	if err := db.gate.Enter(ctx); err != nil {
		return nil, err
	}

	v, needsUpgrade, err := plan(db.db, name, version)
	if err != nil {
		db.gate.Leave()
		return nil, err
	}

	if needsUpgrade {
		db.gate.Leave()

		if err := db.gate.Lock(ctx); err != nil {
			return nil, err
		}

		v, err = e.upgrade(ctx, db.db, name, version, upgrade)
		if err != nil {
			db.gate.Unlock()
			return nil, err
		}

		db.gate.Downgrade()
	}

	collections, err := loadCollections(db.db)
	if err != nil {
		db.gate.Leave()
		return nil, err
	}

	return &conn{
		engine:      e,
		name:        name,
		version:     v,
		db:          db,
		collections: collections,
	}, nil
}

// upgrade runs an upgrade transaction. The caller must have exclusive access
// via the database's gate.
func (e *Engine) upgrade(
	ctx context.Context,
	db *bbolt.DB,
	name string,
	requested uint64,
	fn engine.UpgradeFunc,
) (version uint64, err error) {
	err = db.Update(func(tx *bbolt.Tx) error {
		stored := storedVersion(tx)

		// Another caller may have upgraded the database while we were waiting
		// for exclusive access.
		v, needsUpgrade, err := enginex.Plan(name, requested, stored)
		if err != nil || !needsUpgrade {
			version = v
			return err
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}

		if err := meta.Put(versionKey, binary.BigEndian.AppendUint64(nil, v)); err != nil {
			return err
		}

		collections, err := tx.CreateBucketIfNotExists(collectionsBucket)
		if err != nil {
			return err
		}

		if fn != nil {
			if err := fn(ctx, &schema{name, stored, v, collections}); err != nil {
				return err
			}
		}

		version = v
		return nil
	})

	return version, err
}

// plan determines the version at which the database is opened.
func plan(db *bbolt.DB, name string, requested uint64) (version uint64, upgrade bool, err error) {
	err = db.View(func(tx *bbolt.Tx) error {
		version, upgrade, err = enginex.Plan(name, requested, storedVersion(tx))
		return err
	})
	return version, upgrade, err
}

// storedVersion returns the version of the database, or zero if it has never
// been upgraded.
func storedVersion(tx *bbolt.Tx) uint64 {
	meta := tx.Bucket(metaBucket)
	if meta == nil {
		return 0
	}

	data := meta.Get(versionKey)
	if len(data) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(data)
}

func loadCollections(db *bbolt.DB) (map[string]struct{}, error) {
	collections := map[string]struct{}{}

	return collections, db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(collectionsBucket)
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			if v == nil {
				collections[string(k)] = struct{}{}
			}
			return nil
		})
	})
}

// acquire returns the shared state for the named database, opening its file if
// necessary. Each call must be paired with a call to [Engine.release].
func (e *Engine) acquire(name string) (*database, error) {
	e.m.Lock()
	defer e.m.Unlock()

	if db, ok := e.databases[name]; ok {
		db.refs++
		return db, nil
	}

	if err := os.MkdirAll(e.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("unable to create database directory: %w", err)
	}

	path := filepath.Join(e.Dir, url.PathEscape(name)+".db")

	b, err := bbolt.Open(path, 0o600, e.Options)
	if err != nil {
		return nil, fmt.Errorf("unable to open %q database: %w", name, err)
	}

	if e.databases == nil {
		e.databases = map[string]*database{}
	}

	db := &database{
		refs: 1,
		db:   b,
		gate: enginex.NewGate(),
	}
	e.databases[name] = db

	return db, nil
}

// release releases a reference acquired by [Engine.acquire], closing the
// database file when there are no remaining references.
func (e *Engine) release(name string) error {
	e.m.Lock()
	defer e.m.Unlock()

	db := e.databases[name]
	db.refs--

	if db.refs > 0 {
		return nil
	}

	delete(e.databases, name)
	return db.db.Close()
}
