package pgengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
)

// schema is an implementation of [engine.Schema] that modifies the database
// within a PostgreSQL transaction.
type schema struct {
	ctx         context.Context
	tx          *sql.Tx
	name        string
	oldVersion  uint64
	newVersion  uint64
	collections map[string]struct{}
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

	if _, err := s.tx.ExecContext(
		s.ctx,
		`INSERT INTO storekit.collection (
			database,
			name
		) VALUES (
			$1, $2
		)`,
		s.name,
		name,
	); err != nil {
		return fmt.Errorf("cannot insert collection: %w", err)
	}

	s.collections[name] = struct{}{}

	return nil
}
