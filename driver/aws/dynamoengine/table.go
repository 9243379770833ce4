package dynamoengine

import (
	"context"
	"encoding/binary"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/storekit/driver/aws/internal/dynamox"
)

var (
	// databaseAttr is the name of the attribute that stores the database name
	// on each item. Together with [keyAttr], it forms the primary key of the
	// table.
	databaseAttr = "D"

	// keyAttr is the name of the attribute that identifies an item within a
	// database. Together with [databaseAttr], it forms the primary key of the
	// table. See [metaKey] and [entryKey].
	keyAttr = "K"

	// versionAttr is the name of the attribute that stores the database version
	// on the meta-data item.
	versionAttr = "Ver"

	// collectionsAttr is the name of the string-set attribute that stores the
	// collection names on the meta-data item. It is absent if the database has
	// no collections.
	collectionsAttr = "Col"

	// valueAttr is the name of the attribute that stores the value on each
	// entry item.
	valueAttr = "V"

	// nonExistentAttr is the name of an attribute that does not exist on any
	// item. It is used to test for the existence of an item without fetching
	// unnecessary data.
	nonExistentAttr = "X"
)

// metaKey is the value of [keyAttr] for a database's meta-data item.
var metaKey = []byte{0}

// entryKeyPrefix returns the prefix of [keyAttr] shared by all entries in a
// collection.
//
// The collection name is length-prefixed so that no collection's prefix is a
// prefix of another's.
func entryKeyPrefix(collection string) []byte {
	p := []byte{1}
	p = binary.AppendUvarint(p, uint64(len(collection)))
	return append(p, collection...)
}

// entryKey returns the value of [keyAttr] for the entry with key k.
func entryKey(collection string, k []byte) []byte {
	return append(entryKeyPrefix(collection), k...)
}

// createTable creates the DynamoDB table if it does not already exist.
func (e *dynamoEngine) createTable(ctx context.Context) error {
	return dynamox.CreateTableIfNotExists(
		ctx,
		e.Client,
		e.Table,
		e.OnRequest,
		dynamox.KeyAttr{
			Name:    &databaseAttr,
			Type:    types.ScalarAttributeTypeS,
			KeyType: types.KeyTypeHash,
		},
		dynamox.KeyAttr{
			Name:    &keyAttr,
			Type:    types.ScalarAttributeTypeB,
			KeyType: types.KeyTypeRange,
		},
	)
}
