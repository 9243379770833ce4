package s3x

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// IsNotExists returns true if err indicates that the requested object or
// bucket was not found.
func IsNotExists(err error) bool {
	return is[*types.NotFound](err) ||
		is[*types.NoSuchKey](err) ||
		is[*types.NoSuchBucket](err)
}

// IgnoreNotExists returns nil if err indicates that the requested object or
// bucket was not found; otherwise it returns err.
func IgnoreNotExists(err error) error {
	if IsNotExists(err) {
		return nil
	}
	return err
}

// IsAlreadyExists returns true if err indicates that the bucket being created
// already exists.
func IsAlreadyExists(err error) bool {
	return is[*types.BucketAlreadyExists](err) ||
		is[*types.BucketAlreadyOwnedByYou](err)
}

// IgnoreAlreadyExists returns nil if err indicates that the bucket being
// created already exists; otherwise it returns err.
func IgnoreAlreadyExists(err error) error {
	if IsAlreadyExists(err) {
		return nil
	}
	return err
}

// IsConflict returns true if err indicates that a conditional write failed
// because the object was modified concurrently.
func IsConflict(err error) bool {
	var e smithy.APIError
	if errors.As(err, &e) {
		switch e.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
