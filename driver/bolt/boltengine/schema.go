package boltengine

import (
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
	"go.etcd.io/bbolt"
)

// schema is an implementation of [engine.Schema] that modifies the database
// within a BoltDB write transaction.
type schema struct {
	name        string
	oldVersion  uint64
	newVersion  uint64
	collections *bbolt.Bucket
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
	return name != "" && s.collections.Bucket([]byte(name)) != nil
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

	_, err := s.collections.CreateBucket([]byte(name))
	return err
}
