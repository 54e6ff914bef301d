// Package persistence adapts storage backends to the domain.DocumentStore contract
// and selects a backend from configuration.
package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"specsync/internal/blob/core"
	"specsync/pkg/domain"
)

// BlobStore keeps one object per domain in a blob store. Compare-and-swap is
// enforced with the object's ETag: the stored version is checked first and the
// write is conditioned on the ETag read alongside it, so a concurrent writer
// that slips in between fails the precondition instead of being overwritten.
type BlobStore struct {
	blobs  core.Store
	prefix string
}

var _ domain.DocumentStore = (*BlobStore)(nil)

// NewBlobStore wraps blobs. Keys are "<prefix><domain>.json".
func NewBlobStore(blobs core.Store, prefix string) *BlobStore {
	return &BlobStore{blobs: blobs, prefix: prefix}
}

// Blobs exposes the underlying blob store.
func (s *BlobStore) Blobs() core.Store { return s.blobs }

// Key returns the object key holding d.
func (s *BlobStore) Key(d domain.Domain) string { return s.prefix + string(d) + ".json" }

func (s *BlobStore) read(ctx context.Context, d domain.Domain) ([]byte, core.Info, error) {
	info, rc, err := s.blobs.Get(ctx, s.Key(d))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.Info{}, domain.ErrNotFound
		}
		return nil, core.Info{}, fmt.Errorf("read %s: %w", d, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, core.Info{}, fmt.Errorf("read %s: %w", d, err)
	}
	return data, info, nil
}

// Load returns the stored document for d.
func (s *BlobStore) Load(ctx context.Context, d domain.Domain) (domain.StoredDocument, error) {
	data, _, err := s.read(ctx, d)
	if err != nil {
		return domain.StoredDocument{}, err
	}
	version, err := domain.PeekVersion(data)
	if err != nil {
		return domain.StoredDocument{}, fmt.Errorf("load %s: %w", d, err)
	}
	return domain.StoredDocument{Data: data, Version: version}, nil
}

// CompareAndSwap writes data if the stored version equals expected.
func (s *BlobStore) CompareAndSwap(ctx context.Context, d domain.Domain, expected int64, data []byte) error {
	opts := core.PutOptions{ContentType: "application/json"}
	current, info, err := s.read(ctx, d)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if expected != 0 {
			return &domain.ConflictError{Domain: d, Expected: expected, Current: 0}
		}
		opts.IfNoneMatch = core.AnyETag
	case err != nil:
		return err
	default:
		version, err := domain.PeekVersion(current)
		if err != nil {
			return fmt.Errorf("cas %s: %w", d, err)
		}
		if version != expected {
			return &domain.ConflictError{Domain: d, Expected: expected, Current: version}
		}
		opts.IfMatch = info.ETag
	}
	if _, err := s.blobs.Put(ctx, s.Key(d), bytes.NewReader(data), opts); err != nil {
		if errors.Is(err, core.ErrPreconditionFailed) {
			return s.conflict(ctx, d, expected)
		}
		return fmt.Errorf("cas %s: %w", d, err)
	}
	return nil
}

// conflict re-reads the winner's version for the error report.
func (s *BlobStore) conflict(ctx context.Context, d domain.Domain, expected int64) error {
	ce := &domain.ConflictError{Domain: d, Expected: expected, Current: -1}
	if data, _, err := s.read(ctx, d); err == nil {
		if v, err := domain.PeekVersion(data); err == nil {
			ce.Current = v
		}
	}
	return ce
}
