package engine

import (
	"errors"
	"fmt"
)

// IsVersionError returns true if err is caused by [VersionError].
func IsVersionError(err error) bool {
	return errors.As(err, new(VersionError))
}

// IsCollectionNotFound returns true if err is caused by
// [CollectionNotFoundError].
func IsCollectionNotFound(err error) bool {
	return errors.As(err, new(CollectionNotFoundError))
}

// IsCollectionExists returns true if err is caused by [CollectionExistsError].
func IsCollectionExists(err error) bool {
	return errors.As(err, new(CollectionExistsError))
}

// VersionError is returned by [Engine.Open] if the requested version is lower
// than the database's stored version.
type VersionError struct {
	Database  string
	Requested uint64
	Stored    uint64
}

func (e VersionError) Error() string {
	return fmt.Sprintf(
		"the requested version (%d) of the %q database is less than the stored version (%d)",
		e.Requested,
		e.Database,
		e.Stored,
	)
}

// CollectionNotFoundError is returned when an operation refers to a collection
// that does not exist.
type CollectionNotFoundError struct {
	Database   string
	Collection string
}

func (e CollectionNotFoundError) Error() string {
	return fmt.Sprintf(
		"the %q database does not contain a collection named %q",
		e.Database,
		e.Collection,
	)
}

// CollectionExistsError is returned by [Schema.CreateCollection] if the
// collection already exists.
type CollectionExistsError struct {
	Database   string
	Collection string
}

func (e CollectionExistsError) Error() string {
	return fmt.Sprintf(
		"the %q database already contains a collection named %q",
		e.Database,
		e.Collection,
	)
}
