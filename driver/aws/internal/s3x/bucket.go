package s3x

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dogmatiq/storekit/driver/aws/internal/awsx"
)

// CreateBucketIfNotExists creates an S3 bucket if it does not already exist.
func CreateBucketIfNotExists(
	ctx context.Context,
	client *s3.Client,
	bucket string,
	onRequest func(any) []func(*s3.Options),
) error {
	_, err := awsx.Do(
		ctx,
		client.CreateBucket,
		onRequest,
		&s3.CreateBucketInput{
			Bucket: aws.String(bucket),
		},
	)
	return IgnoreAlreadyExists(err)
}

// DeleteBucketIfExists deletes an S3 bucket and all of the objects within it,
// if it exists.
func DeleteBucketIfExists(
	ctx context.Context,
	client *s3.Client,
	bucket string,
	onRequest func(any) []func(*s3.Options),
) error {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}

	for {
		out, err := awsx.Do(ctx, client.ListObjectsV2, onRequest, in)
		if err != nil {
			return IgnoreNotExists(err)
		}

		if len(out.Contents) != 0 {
			objects := make([]types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
			}

			if _, err := awsx.Do(
				ctx,
				client.DeleteObjects,
				onRequest,
				&s3.DeleteObjectsInput{
					Bucket: aws.String(bucket),
					Delete: &types.Delete{
						Objects: objects,
						Quiet:   aws.Bool(true),
					},
				},
			); err != nil {
				return err
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}

		in.ContinuationToken = out.NextContinuationToken
	}

	_, err := awsx.Do(
		ctx,
		client.DeleteBucket,
		onRequest,
		&s3.DeleteBucketInput{
			Bucket: aws.String(bucket),
		},
	)
	return IgnoreNotExists(err)
}
