package dynamoengine

import (
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
	"github.com/dogmatiq/storekit/internal/syncx"
)

// New returns an [engine.Engine] that uses the given DynamoDB client to store
// databases in the given table. The table is created if it does not exist.
//
// An upgrade transaction is committed by a conditional write to the database's
// meta-data item. Unlike the embedded engines, it does not wait for other
// connections to be closed.
func New(
	client *dynamodb.Client,
	table string,
	options ...Option,
) engine.Engine {
	if table == "" {
		panic("table name must not be empty")
	}

	e := &dynamoEngine{
		Client: client,
		Table:  table,
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// Option is a functional option that changes the behavior of [New].
type Option func(*dynamoEngine)

// WithRequestHook is an [Option] that configures fn as a pre-request hook.
//
// Before each DynamoDB API request, fn is passed a pointer to the input struct,
// e.g. [dynamodb.GetItemInput], which it may modify in-place. It may be called
// with any DynamoDB request type. The types of requests used may change in any
// version without notice.
//
// Any functions returned by fn will be applied to the request's options before
// the request is sent.
func WithRequestHook(fn func(any) []func(*dynamodb.Options)) Option {
	return func(e *dynamoEngine) {
		e.OnRequest = fn
	}
}

// dynamoEngine is an implementation of [engine.Engine] that persists to a
// DynamoDB table.
type dynamoEngine struct {
	Client    *dynamodb.Client
	Table     string
	OnRequest func(any) []func(*dynamodb.Options)

	createTableOnce syncx.SucceedOnce
}

// meta is the meta-data of a database.
type meta struct {
	Version     uint64
	Collections map[string]struct{}
}

func (e *dynamoEngine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade engine.UpgradeFunc,
) (_ engine.Conn, err error) {
	defer errorx.Wrap(&err, "unable to open the %q database", name)

	if err := e.createTableOnce.Do(ctx, e.createTable); err != nil {
		return nil, err
	}

	for {
		m, err := e.loadMeta(ctx, name)
		if err != nil {
			return nil, err
		}

		v, needsUpgrade, err := enginex.Plan(name, version, m.Version)
		if err != nil {
			return nil, err
		}

		if needsUpgrade {
			ok, err := e.upgrade(ctx, name, m, v, upgrade)
			if err != nil {
				return nil, err
			}

			if !ok {
				// Another caller changed the database between loading the
				// meta-data and committing the upgrade.
				continue
			}
		}

		return &conn{
			engine:      e,
			name:        name,
			version:     v,
			collections: m.Collections,
		}, nil
	}
}

// upgrade runs fn and commits the resulting schema. On success m is updated to
// reflect the new schema. It returns false if the meta-data was modified
// concurrently.
func (e *dynamoEngine) upgrade(
	ctx context.Context,
	name string,
	m *meta,
	version uint64,
	fn engine.UpgradeFunc,
) (bool, error) {
	s := &schema{
		name:        name,
		oldVersion:  m.Version,
		newVersion:  version,
		collections: maps.Clone(m.Collections),
	}

	if fn != nil {
		if err := fn(ctx, s); err != nil {
			return false, err
		}
	}

	item := map[string]types.AttributeValue{
		databaseAttr: &types.AttributeValueMemberS{Value: name},
		keyAttr:      &types.AttributeValueMemberB{Value: metaKey},
		versionAttr:  dynamox.Uint64(version),
	}

	if len(s.collections) != 0 {
		item[collectionsAttr] = &types.AttributeValueMemberSS{
			Value: slices.Sorted(maps.Keys(s.collections)),
		}
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(e.Table),
		Item:      item,
		ExpressionAttributeNames: map[string]string{
			"#D": databaseAttr,
		},
	}

	if m.Version == 0 {
		in.ConditionExpression = aws.String(`attribute_not_exists(#D)`)
	} else {
		in.ConditionExpression = aws.String(`#Ver = :Ver`)
		in.ExpressionAttributeNames = map[string]string{
			"#Ver": versionAttr,
		}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":Ver": dynamox.Uint64(m.Version),
		}
	}

	if _, err := awsx.Do(ctx, e.Client.PutItem, e.OnRequest, in); err != nil {
		if errors.As(err, new(*types.ConditionalCheckFailedException)) {
			return false, nil
		}
		return false, err
	}

	m.Version = version
	m.Collections = s.collections

	return true, nil
}

// loadMeta loads the meta-data of the named database. If the database does not
// exist its version is zero.
func (e *dynamoEngine) loadMeta(ctx context.Context, name string) (*meta, error) {
	out, err := awsx.Do(
		ctx,
		e.Client.GetItem,
		e.OnRequest,
		&dynamodb.GetItemInput{
			TableName:      aws.String(e.Table),
			ConsistentRead: aws.Bool(true),
			Key: map[string]types.AttributeValue{
				databaseAttr: &types.AttributeValueMemberS{Value: name},
				keyAttr:      &types.AttributeValueMemberB{Value: metaKey},
			},
		},
	)
	if err != nil {
		return nil, err
	}

	m := &meta{
		Collections: map[string]struct{}{},
	}

	if out.Item == nil {
		return m, nil
	}

	m.Version, err = dynamox.Uint64Attr(out.Item, versionAttr)
	if err != nil {
		return nil, err
	}

	c, ok, err := dynamox.OptionalAttrAs[*types.AttributeValueMemberSS](out.Item, collectionsAttr)
	if err != nil {
		return nil, err
	}

	if ok {
		for _, name := range c.Value {
			m.Collections[name] = struct{}{}
		}
	}

	return m, nil
}

// schema is an implementation of [engine.Schema] that stages changes to a
// copy of the database's collection set.
type schema struct {
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

	s.collections[name] = struct{}{}

	return nil
}
