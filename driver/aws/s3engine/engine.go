package s3engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dogmatiq/storekit/driver/aws/internal/awsx"
	"github.com/dogmatiq/storekit/driver/aws/internal/s3x"
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
	"github.com/dogmatiq/storekit/internal/errorx"
	"github.com/dogmatiq/storekit/internal/syncx"
	"github.com/dogmatiq/storekit/marshal"
)

// New returns an [engine.Engine] that uses the given S3 client to store
// databases in the given bucket. The bucket is created if it does not exist.
//
// Each database has a schema object containing its version and collection
// names. An upgrade transaction is committed by a conditional write to the
// schema object. Unlike the embedded engines, it does not wait for other
// connections to be closed.
func New(
	client *s3.Client,
	bucket string,
	options ...Option,
) engine.Engine {
	if bucket == "" {
		panic("bucket name must not be empty")
	}

	e := &s3Engine{
		Client: client,
		Bucket: bucket,
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// Option is a functional option that changes the behavior of [New].
type Option func(*s3Engine)

// WithRequestHook is an [Option] that configures fn as a pre-request hook.
//
// Before each S3 API request, fn is passed a pointer to the input struct, e.g.
// [s3.GetObjectInput], which it may modify in-place. It may be called with any
// S3 request type. The types of requests used may change in any version without
// notice.
//
// Any functions returned by fn will be applied to the request's options before
// the request is sent.
func WithRequestHook(fn func(any) []func(*s3.Options)) Option {
	return func(e *s3Engine) {
		e.OnRequest = fn
	}
}

// s3Engine is an implementation of [engine.Engine] that persists to an S3
// bucket.
type s3Engine struct {
	Client    *s3.Client
	Bucket    string
	OnRequest func(any) []func(*s3.Options)

	createBucketOnce syncx.SucceedOnce
}

const (
	// versionMetaData is the name of the S3 object meta-data field that
	// contains the database version on the schema object.
	versionMetaData = "version"
)

// collectionNames marshals the collection names stored in the body of the
// schema object.
var collectionNames marshal.JSON[[]string]

// schemaObject is the content of a database's schema object.
type schemaObject struct {
	Version     uint64
	Collections map[string]struct{}

	// ETag is the entity tag of the schema object, or nil if the database
	// does not exist.
	ETag *string
}

func (e *s3Engine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade engine.UpgradeFunc,
) (_ engine.Conn, err error) {
	defer errorx.Wrap(&err, "unable to open the %q database", name)

	if err := e.createBucketOnce.Do(ctx, e.createBucket); err != nil {
		return nil, err
	}

	for {
		obj, err := e.loadSchema(ctx, name)
		if err != nil {
			return nil, err
		}

		v, needsUpgrade, err := enginex.Plan(name, version, obj.Version)
		if err != nil {
			return nil, err
		}

		if needsUpgrade {
			ok, err := e.upgrade(ctx, name, obj, v, upgrade)
			if err != nil {
				return nil, err
			}

			if !ok {
				// Another caller changed the schema object between loading it
				// and committing the upgrade.
				continue
			}
		}

		return &conn{
			engine:      e,
			name:        name,
			version:     v,
			collections: obj.Collections,
		}, nil
	}
}

// upgrade runs fn and commits the resulting schema. On success obj is updated
// to reflect the new schema. It returns false if the schema object was
// modified concurrently.
func (e *s3Engine) upgrade(
	ctx context.Context,
	name string,
	obj *schemaObject,
	version uint64,
	fn engine.UpgradeFunc,
) (bool, error) {
	s := &schema{
		name:        name,
		oldVersion:  obj.Version,
		newVersion:  version,
		collections: maps.Clone(obj.Collections),
	}

	if fn != nil {
		if err := fn(ctx, s); err != nil {
			return false, err
		}
	}

	data, err := collectionNames.Marshal(slices.Sorted(maps.Keys(s.collections)))
	if err != nil {
		return false, err
	}

	req := &s3.PutObjectInput{
		Bucket:        &e.Bucket,
		Key:           aws.String(schemaObjectKey(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			versionMetaData: strconv.FormatUint(version, 10),
		},
	}

	if obj.ETag == nil {
		req.IfNoneMatch = aws.String("*")
	} else {
		req.IfMatch = obj.ETag
	}

	if _, err := awsx.Do(ctx, e.Client.PutObject, e.OnRequest, req); err != nil {
		if s3x.IsConflict(err) {
			return false, nil
		}
		return false, err
	}

	obj.Version = version
	obj.Collections = s.collections

	return true, nil
}

// loadSchema loads the schema object of the named database. If the database
// does not exist its version is zero.
func (e *s3Engine) loadSchema(ctx context.Context, name string) (*schemaObject, error) {
	obj := &schemaObject{
		Collections: map[string]struct{}{},
	}

	res, err := awsx.Do(
		ctx,
		e.Client.GetObject,
		e.OnRequest,
		&s3.GetObjectInput{
			Bucket: &e.Bucket,
			Key:    aws.String(schemaObjectKey(name)),
		},
	)
	if err != nil {
		if s3x.IsNotExists(err) {
			return obj, nil
		}
		return nil, err
	}
	defer res.Body.Close()

	obj.ETag = res.ETag

	obj.Version, err = strconv.ParseUint(res.Metadata[versionMetaData], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("schema object is corrupt: invalid version: %w", err)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read schema object: %w", err)
	}

	names, err := collectionNames.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("schema object is corrupt: %w", err)
	}

	for _, n := range names {
		obj.Collections[n] = struct{}{}
	}

	return obj, nil
}

func (e *s3Engine) createBucket(ctx context.Context) error {
	return s3x.CreateBucketIfNotExists(
		ctx,
		e.Client,
		e.Bucket,
		e.OnRequest,
	)
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
