package enginex

import (
	"errors"

	"github.com/dogmatiq/storekit/engine"
)

// Plan determines the version at which a database is opened, and whether doing
// so requires an upgrade transaction.
//
// stored is the database's current version, or zero if it does not exist.
// requested is the version passed to [engine.Engine.Open].
func Plan(db string, requested, stored uint64) (version uint64, upgrade bool, err error) {
	if requested == 0 {
		if stored == 0 {
			return 1, true, nil
		}
		return stored, false, nil
	}

	if requested < stored {
		return 0, false, engine.VersionError{
			Database:  db,
			Requested: requested,
			Stored:    stored,
		}
	}

	return requested, requested > stored, nil
}

// ValidateCollectionName returns an error if name can not be used as the name
// of a collection.
func ValidateCollectionName(name string) error {
	if name == "" {
		return errors.New("collection name must not be empty")
	}
	return nil
}

// ValidateKey returns an error if k can not be used as a key.
func ValidateKey(k []byte) error {
	if len(k) == 0 {
		return errors.New("key must not be empty")
	}
	return nil
}
