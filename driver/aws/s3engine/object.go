package s3engine

import (
	"encoding/hex"
	"net/url"
	"strings"
)

// objectKeyPrefix returns the prefix of the keys of all objects that belong to
// the named database.
func objectKeyPrefix(db string) string {
	return url.PathEscape(db) + "/"
}

// schemaObjectKey returns the key of the named database's schema object.
func schemaObjectKey(db string) string {
	return objectKeyPrefix(db) + "schema"
}

// entryObjectKeyPrefix returns the prefix of the keys of all entry objects in
// a collection.
func entryObjectKeyPrefix(db, collection string) string {
	return objectKeyPrefix(db) + "data/" + url.PathEscape(collection) + "/"
}

// entryObjectKey returns the key of the object that stores the value
// associated with k.
//
// k is hex-encoded, which preserves the bytewise order of keys in the order
// that S3 lists objects.
func entryObjectKey(db, collection string, k []byte) string {
	return entryObjectKeyPrefix(db, collection) + hex.EncodeToString(k)
}

// keyFromEntryObjectKey returns the key encoded in an entry object's key.
func keyFromEntryObjectKey(prefix, objectKey string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(objectKey, prefix))
}
