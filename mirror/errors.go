package mirror

import (
	"errors"
	"fmt"
)

// Error is a failed mirror operation with its bucket and key.
type Error struct {
	// Op is the operation that failed, e.g. "upload".
	Op     string
	Bucket string
	Key    string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, bucket, key string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

var (
	// ErrInvalidInput indicates an empty bucket, bad key or unusable file.
	ErrInvalidInput = errors.New("s3: invalid input")

	// ErrBucketNotFound indicates the mirror bucket does not exist.
	ErrBucketNotFound = errors.New("s3: bucket not found")

	// ErrAccessDenied indicates the credentials may not write to the bucket.
	ErrAccessDenied = errors.New("s3: access denied")
)
