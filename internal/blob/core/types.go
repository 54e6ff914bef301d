// Package core defines the blob storage abstraction that backs document
// persistence. Backends support conditional writes so callers can build
// compare-and-swap on top of them.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3" // S3 / MinIO compatible
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory" // in-memory (tests)
)

// AnyETag used as PutOptions.IfNoneMatch makes Put create-only.
const AnyETag = "*"

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string // MIME type, optional
	// IfMatch makes the write conditional on the current ETag.
	IfMatch string
	// IfNoneMatch set to AnyETag makes the write conditional on the key being absent.
	IfNoneMatch string
}

// Info describes a stored blob.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is a minimal S3-like object store. Put replaces the whole object
// atomically: readers observe either the previous or the new content.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Driver() Driver
}

var (
	// ErrNotFound is returned by Get for missing keys.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrPreconditionFailed is returned by Put when IfMatch or IfNoneMatch does not hold.
	ErrPreconditionFailed = errors.New("blobstore: precondition failed")
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
)

// CheckPrecondition evaluates opts against the current ETag ("" meaning absent).
func CheckPrecondition(opts PutOptions, current string, exists bool) error {
	if opts.IfNoneMatch == AnyETag && exists {
		return ErrPreconditionFailed
	}
	if opts.IfMatch != "" && (!exists || opts.IfMatch != current) {
		return ErrPreconditionFailed
	}
	return nil
}
