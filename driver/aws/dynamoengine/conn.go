package dynamoengine

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dogmatiq/storekit/driver/aws/internal/awsx"
	"github.com/dogmatiq/storekit/driver/aws/internal/dynamox"
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
	"github.com/dogmatiq/storekit/internal/errorx"
)

// batchSize is the maximum number of requests in a single BatchWriteItem
// call.
const batchSize = 25

// conn is an implementation of [engine.Conn] for a database stored in
// DynamoDB.
//
// The set of collections is read when the connection is opened.
type conn struct {
	engine      *dynamoEngine
	name        string
	version     uint64
	collections map[string]struct{}
	closed      bool
}

func (c *conn) Database() string {
	return c.name
}

func (c *conn) Version() uint64 {
	return c.version
}

func (c *conn) HasCollection(name string) bool {
	_, ok := c.collections[name]
	return ok
}

func (c *conn) Collections() []string {
	return slices.Sorted(maps.Keys(c.collections))
}

func (c *conn) key(collection string, k []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		databaseAttr: &types.AttributeValueMemberS{Value: c.name},
		keyAttr:      &types.AttributeValueMemberB{Value: entryKey(collection, k)},
	}
}

func (c *conn) Get(ctx context.Context, name string, k []byte) (_ []byte, _ bool, err error) {
	defer errorx.Wrap(&err, "unable to get %q from the %q collection", k, name)

	if err := c.check(name); err != nil {
		return nil, false, err
	}

	out, err := awsx.Do(
		ctx,
		c.engine.Client.GetItem,
		c.engine.OnRequest,
		&dynamodb.GetItemInput{
			TableName:            aws.String(c.engine.Table),
			Key:                  c.key(name, k),
			ConsistentRead:       aws.Bool(true),
			ProjectionExpression: aws.String(`#V`),
			ExpressionAttributeNames: map[string]string{
				"#V": valueAttr,
			},
		},
	)
	if err != nil || out.Item == nil {
		return nil, false, err
	}

	v, err := dynamox.AttrAs[*types.AttributeValueMemberB](out.Item, valueAttr)
	if err != nil {
		return nil, false, err
	}

	return v.Value, true, nil
}

func (c *conn) Has(ctx context.Context, name string, k []byte) (_ bool, err error) {
	defer errorx.Wrap(&err, "unable to check for %q in the %q collection", k, name)

	if err := c.check(name); err != nil {
		return false, err
	}

	out, err := awsx.Do(
		ctx,
		c.engine.Client.GetItem,
		c.engine.OnRequest,
		&dynamodb.GetItemInput{
			TableName:            aws.String(c.engine.Table),
			Key:                  c.key(name, k),
			ConsistentRead:       aws.Bool(true),
			ProjectionExpression: &nonExistentAttr,
		},
	)
	if err != nil {
		return false, err
	}

	return out.Item != nil, nil
}

func (c *conn) GetAll(ctx context.Context, name string) (values [][]byte, err error) {
	defer errorx.Wrap(&err, "unable to get the values in the %q collection", name)

	err = c.query(ctx, name, func(_ []byte, item map[string]types.AttributeValue) error {
		v, err := dynamox.AttrAs[*types.AttributeValueMemberB](item, valueAttr)
		if err != nil {
			return err
		}
		values = append(values, v.Value)
		return nil
	})

	return values, err
}

func (c *conn) GetAllKeys(ctx context.Context, name string) (keys [][]byte, err error) {
	defer errorx.Wrap(&err, "unable to get the keys in the %q collection", name)

	err = c.query(ctx, name, func(k []byte, _ map[string]types.AttributeValue) error {
		keys = append(keys, k)
		return nil
	})

	return keys, err
}

func (c *conn) Put(ctx context.Context, name string, k, v []byte) (err error) {
	defer errorx.Wrap(&err, "unable to put %q in the %q collection", k, name)

	if err := c.check(name); err != nil {
		return err
	}

	if err := enginex.ValidateKey(k); err != nil {
		return err
	}

	if v == nil {
		v = []byte{}
	}

	item := c.key(name, k)
	item[valueAttr] = &types.AttributeValueMemberB{Value: v}

	_, err = awsx.Do(
		ctx,
		c.engine.Client.PutItem,
		c.engine.OnRequest,
		&dynamodb.PutItemInput{
			TableName: aws.String(c.engine.Table),
			Item:      item,
		},
	)

	return err
}

func (c *conn) Delete(ctx context.Context, name string, k []byte) (err error) {
	defer errorx.Wrap(&err, "unable to delete %q from the %q collection", k, name)

	if err := c.check(name); err != nil {
		return err
	}

	_, err = awsx.Do(
		ctx,
		c.engine.Client.DeleteItem,
		c.engine.OnRequest,
		&dynamodb.DeleteItemInput{
			TableName: aws.String(c.engine.Table),
			Key:       c.key(name, k),
		},
	)

	return err
}

func (c *conn) Clear(ctx context.Context, name string) (err error) {
	defer errorx.Wrap(&err, "unable to clear the %q collection", name)

	var keys [][]byte
	if err := c.query(ctx, name, func(k []byte, _ map[string]types.AttributeValue) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		return err
	}

	for batch := range slices.Chunk(keys, batchSize) {
		requests := make([]types.WriteRequest, 0, len(batch))

		for _, k := range batch {
			requests = append(
				requests,
				types.WriteRequest{
					DeleteRequest: &types.DeleteRequest{
						Key: c.key(name, k),
					},
				},
			)
		}

		pending := map[string][]types.WriteRequest{
			c.engine.Table: requests,
		}

		for len(pending) != 0 {
			out, err := awsx.Do(
				ctx,
				c.engine.Client.BatchWriteItem,
				c.engine.OnRequest,
				&dynamodb.BatchWriteItemInput{
					RequestItems: pending,
				},
			)
			if err != nil {
				return err
			}

			pending = out.UnprocessedItems
		}
	}

	return nil
}

func (c *conn) Close() error {
	if c.closed {
		return errors.New("connection is already closed")
	}
	c.closed = true
	return nil
}

// check returns an error if the named collection does not exist.
func (c *conn) check(name string) error {
	if c.closed {
		panic("connection is closed")
	}

	if !c.HasCollection(name) {
		return engine.CollectionNotFoundError{
			Database:   c.name,
			Collection: name,
		}
	}

	return nil
}

// query calls fn for each entry in the named collection, in key order.
func (c *conn) query(
	ctx context.Context,
	name string,
	fn func(k []byte, item map[string]types.AttributeValue) error,
) error {
	if err := c.check(name); err != nil {
		return err
	}

	prefix := entryKeyPrefix(name)

	return dynamox.Range(
		ctx,
		c.engine.Client,
		c.engine.OnRequest,
		&dynamodb.QueryInput{
			TableName:              aws.String(c.engine.Table),
			ConsistentRead:         aws.Bool(true),
			KeyConditionExpression: aws.String(`#D = :D AND begins_with(#K, :P)`),
			ExpressionAttributeNames: map[string]string{
				"#D": databaseAttr,
				"#K": keyAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":D": &types.AttributeValueMemberS{Value: c.name},
				":P": &types.AttributeValueMemberB{Value: prefix},
			},
		},
		func(_ context.Context, item map[string]types.AttributeValue) (bool, error) {
			k, err := dynamox.AttrAs[*types.AttributeValueMemberB](item, keyAttr)
			if err != nil {
				return false, err
			}

			if !bytes.HasPrefix(k.Value, prefix) {
				return false, errors.New("item is corrupt: key does not have the collection prefix")
			}

			return true, fn(k.Value[len(prefix):], item)
		},
	)
}
