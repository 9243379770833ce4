package s3engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dogmatiq/storekit/driver/aws/internal/awsx"
	"github.com/dogmatiq/storekit/driver/aws/internal/s3x"
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
	"github.com/dogmatiq/storekit/internal/errorx"
)

// conn is an implementation of [engine.Conn] for a database stored in S3.
//
// The set of collections is read when the connection is opened.
type conn struct {
	engine      *s3Engine
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

func (c *conn) Get(ctx context.Context, name string, k []byte) (_ []byte, _ bool, err error) {
	defer errorx.Wrap(&err, "unable to get %q from the %q collection", k, name)

	if err := c.check(name); err != nil {
		return nil, false, err
	}

	return c.load(ctx, entryObjectKey(c.name, name, k))
}

func (c *conn) Has(ctx context.Context, name string, k []byte) (_ bool, err error) {
	defer errorx.Wrap(&err, "unable to check for %q in the %q collection", k, name)

	if err := c.check(name); err != nil {
		return false, err
	}

	if _, err := awsx.Do(
		ctx,
		c.engine.Client.HeadObject,
		c.engine.OnRequest,
		&s3.HeadObjectInput{
			Bucket: &c.engine.Bucket,
			Key:    aws.String(entryObjectKey(c.name, name, k)),
		},
	); err != nil {
		return false, s3x.IgnoreNotExists(err)
	}

	return true, nil
}

func (c *conn) GetAll(ctx context.Context, name string) (values [][]byte, err error) {
	defer errorx.Wrap(&err, "unable to get the values in the %q collection", name)

	err = c.list(ctx, name, func(_ []byte, objectKey string) error {
		v, ok, err := c.load(ctx, objectKey)
		if err != nil {
			return err
		}

		// The entry may have been deleted since it was listed.
		if ok {
			values = append(values, v)
		}

		return nil
	})

	return values, err
}

func (c *conn) GetAllKeys(ctx context.Context, name string) (keys [][]byte, err error) {
	defer errorx.Wrap(&err, "unable to get the keys in the %q collection", name)

	err = c.list(ctx, name, func(k []byte, _ string) error {
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

	_, err = awsx.Do(
		ctx,
		c.engine.Client.PutObject,
		c.engine.OnRequest,
		&s3.PutObjectInput{
			Bucket:        &c.engine.Bucket,
			Key:           aws.String(entryObjectKey(c.name, name, k)),
			Body:          bytes.NewReader(v),
			ContentLength: aws.Int64(int64(len(v))),
			ContentType:   aws.String("application/octet-stream"),
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
		c.engine.Client.DeleteObject,
		c.engine.OnRequest,
		&s3.DeleteObjectInput{
			Bucket: &c.engine.Bucket,
			Key:    aws.String(entryObjectKey(c.name, name, k)),
		},
	)

	return s3x.IgnoreNotExists(err)
}

func (c *conn) Clear(ctx context.Context, name string) (err error) {
	defer errorx.Wrap(&err, "unable to clear the %q collection", name)

	var objects []types.ObjectIdentifier

	if err := c.list(ctx, name, func(_ []byte, objectKey string) error {
		objects = append(objects, types.ObjectIdentifier{
			Key: aws.String(objectKey),
		})
		return nil
	}); err != nil {
		return err
	}

	for batch := range slices.Chunk(objects, 1000) {
		res, err := awsx.Do(
			ctx,
			c.engine.Client.DeleteObjects,
			c.engine.OnRequest,
			&s3.DeleteObjectsInput{
				Bucket: &c.engine.Bucket,
				Delete: &types.Delete{
					Objects: batch,
					Quiet:   aws.Bool(true),
				},
			},
		)
		if err != nil {
			return err
		}

		if len(res.Errors) != 0 {
			e := res.Errors[0]
			return fmt.Errorf("unable to delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
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

// load returns the content of the object with the given key.
func (c *conn) load(ctx context.Context, objectKey string) ([]byte, bool, error) {
	res, err := awsx.Do(
		ctx,
		c.engine.Client.GetObject,
		c.engine.OnRequest,
		&s3.GetObjectInput{
			Bucket: &c.engine.Bucket,
			Key:    aws.String(objectKey),
		},
	)
	if err != nil {
		return nil, false, s3x.IgnoreNotExists(err)
	}
	defer res.Body.Close()

	v, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, false, err
	}

	return v, true, nil
}

// list calls fn for each entry object in the named collection, in key order.
func (c *conn) list(
	ctx context.Context,
	name string,
	fn func(k []byte, objectKey string) error,
) error {
	if err := c.check(name); err != nil {
		return err
	}

	prefix := entryObjectKeyPrefix(c.name, name)
	req := &s3.ListObjectsV2Input{
		Bucket: &c.engine.Bucket,
		Prefix: aws.String(prefix),
	}

	for {
		res, err := awsx.Do(
			ctx,
			c.engine.Client.ListObjectsV2,
			c.engine.OnRequest,
			req,
		)
		if err != nil {
			return err
		}

		for _, obj := range res.Contents {
			objectKey := aws.ToString(obj.Key)

			k, err := keyFromEntryObjectKey(prefix, objectKey)
			if err != nil {
				return fmt.Errorf("entry object key is corrupt: %w", err)
			}

			if err := fn(k, objectKey); err != nil {
				return err
			}
		}

		if !aws.ToBool(res.IsTruncated) {
			return nil
		}

		req.ContinuationToken = res.NextContinuationToken
	}
}
