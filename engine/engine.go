package engine

import "context"

// Engine is an embedded, versioned key/value database engine.
//
// Each database managed by an engine has a version number and a set of named
// collections. Collections can only be created while the database is being
// upgraded to a newer version.
type Engine interface {
	// Open opens (creating if necessary) the database with the given name.
	//
	// If version is zero the database is opened at its current version, or at
	// version 1 if it does not yet exist.
	//
	// If version (or 1, when version is zero and the database is new) is
	// greater than the stored version, upgrade is invoked within an upgrade
	// transaction before Open returns. upgrade may be nil. If upgrade returns
	// an error the transaction is rolled back and the database is left as it
	// was.
	//
	// If version is less than the stored version it returns a [VersionError].
	Open(ctx context.Context, name string, version uint64, upgrade UpgradeFunc) (Conn, error)
}

// UpgradeFunc is a function that modifies the schema of a database while it is
// being upgraded to a newer version.
type UpgradeFunc func(ctx context.Context, s Schema) error

// Schema is the schema of a database that is being upgraded.
type Schema interface {
	// Database returns the name of the database.
	Database() string

	// OldVersion returns the version of the database before the upgrade. It is
	// zero if the database did not previously exist.
	OldVersion() uint64

	// NewVersion returns the version of the database after the upgrade.
	NewVersion() uint64

	// HasCollection returns true if the named collection exists.
	HasCollection(name string) bool

	// CreateCollection creates a new, empty collection.
	//
	// It returns a [CollectionExistsError] if the collection already exists.
	CreateCollection(name string) error
}

// Conn is an open connection to a database.
//
// A connection must be closed exactly once. An open connection at an older
// version blocks other callers from upgrading the database.
//
// Keys are ordered bytewise and must not be empty. Values may be empty.
type Conn interface {
	// Database returns the name of the database.
	Database() string

	// Version returns the version at which the database was opened.
	Version() uint64

	// HasCollection returns true if the named collection exists.
	HasCollection(name string) bool

	// Collections returns the names of all collections, in lexical order.
	Collections() []string

	// Get returns the value associated with k in collection c.
	//
	// ok is false if k is not present.
	Get(ctx context.Context, c string, k []byte) (v []byte, ok bool, err error)

	// Has returns true if k is present in collection c.
	Has(ctx context.Context, c string, k []byte) (bool, error)

	// GetAll returns all of the values in collection c, ordered by key.
	GetAll(ctx context.Context, c string) ([][]byte, error)

	// GetAllKeys returns all of the keys in collection c, in order.
	GetAllKeys(ctx context.Context, c string) ([][]byte, error)

	// Put associates v with k in collection c, replacing any existing value.
	Put(ctx context.Context, c string, k, v []byte) error

	// Delete removes k from collection c. It is not an error if k is not
	// present.
	Delete(ctx context.Context, c string, k []byte) error

	// Clear removes all key/value pairs from collection c.
	Clear(ctx context.Context, c string) error

	// Close closes the connection.
	Close() error
}
