package memoryengine

import (
	"context"
	"maps"
	"sync"

	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
)

// database is the in-memory state of a database.
type database struct {
	sync.RWMutex

	gate        *enginex.Gate
	version     uint64
	collections map[string]*collection
}

// collection is the in-memory state of a collection.
type collection struct {
	Values map[string][]byte
}

// upgrade runs an upgrade transaction. The caller must have exclusive access
// via db.gate.
func (db *database) upgrade(
	ctx context.Context,
	name string,
	requested uint64,
	fn engine.UpgradeFunc,
) (uint64, error) {
	db.Lock()
	defer db.Unlock()

	// Another caller may have upgraded the database while we were waiting for
	// exclusive access.
	v, needsUpgrade, err := enginex.Plan(name, requested, db.version)
	if err != nil || !needsUpgrade {
		return v, err
	}

	s := &schema{
		name:        name,
		oldVersion:  db.version,
		newVersion:  v,
		collections: maps.Clone(db.collections),
	}

	if fn != nil {
		if err := fn(ctx, s); err != nil {
			return 0, err
		}
	}

	if s.collections == nil {
		s.collections = map[string]*collection{}
	}

	db.collections = s.collections
	db.version = v

	return v, nil
}

// schema is an implementation of [engine.Schema] that stages changes to a
// copy of the database's collection map.
type schema struct {
	name        string
	oldVersion  uint64
	newVersion  uint64
	collections map[string]*collection
}

func (s *schema) Database() string {
	return s.name
}

func (s *schema) OldVersion() uint64 {
	return s.oldVersion
}

func (s *schema) NewVersion() uint64 {
	return s.newVersion
}

func (s *schema) HasCollection(name string) bool {
	_, ok := s.collections[name]
	return ok
}

func (s *schema) CreateCollection(name string) error {
	if err := enginex.ValidateCollectionName(name); err != nil {
		return err
	}

	if s.HasCollection(name) {
		return engine.CollectionExistsError{
			Database:   s.name,
			Collection: name,
		}
	}

	if s.collections == nil {
		s.collections = map[string]*collection{}
	}

	s.collections[name] = &collection{}

	return nil
}
