package persistence

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"specsync/internal/blob/core"
	"specsync/internal/config"
	blobfs "specsync/internal/infra/blob/fs"
	blobmemory "specsync/internal/infra/blob/memory"
	blobs3 "specsync/internal/infra/blob/s3"
	"specsync/internal/infra/persistence/memory"
	"specsync/pkg/domain"
)

func encoded(t *testing.T, d domain.Domain, version int64) []byte {
	t.Helper()
	doc := domain.NewDocument(d)
	doc.Version = version
	data, err := domain.EncodeDocument(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func exerciseCAS(t *testing.T, store domain.DocumentStore) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Load(ctx, domain.DomainIssues); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.CompareAndSwap(ctx, domain.DomainIssues, 2, encoded(t, domain.DomainIssues, 3)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on absent document, got %v", err)
	}
	if err := store.CompareAndSwap(ctx, domain.DomainIssues, 0, encoded(t, domain.DomainIssues, 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.CompareAndSwap(ctx, domain.DomainIssues, 0, encoded(t, domain.DomainIssues, 1))
	var ce *domain.ConflictError
	if !errors.As(err, &ce) || ce.Current != 1 || ce.Domain != domain.DomainIssues {
		t.Fatalf("expected conflict at version 1, got %v", err)
	}
	if err := store.CompareAndSwap(ctx, domain.DomainIssues, 1, encoded(t, domain.DomainIssues, 2)); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Load(ctx, domain.DomainIssues)
	if err != nil || got.Version != 2 {
		t.Fatalf("load: %+v %v", got, err)
	}
}

func TestBlobStoreOverMemory(t *testing.T) {
	exerciseCAS(t, NewBlobStore(blobmemory.New(), "specs/"))
}

func TestBlobStoreOverFilesystem(t *testing.T) {
	blobs, err := blobfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	store := NewBlobStore(blobs, "")
	exerciseCAS(t, store)
	if _, err := os.Stat(filepath.Join(blobs.Root(), "issues.json")); err != nil {
		t.Fatalf("expected issues.json on disk: %v", err)
	}
}

func TestBlobStoreOverS3Mock(t *testing.T) {
	exerciseCAS(t, NewBlobStore(blobs3.NewMockForTests(), "docs/"))
}

// racingBlobs lets another writer replace the object between the version read
// and the conditional write.
type racingBlobs struct {
	core.Store
	fired bool
	other []byte
}

func (r *racingBlobs) Put(ctx context.Context, key string, body io.Reader, opts core.PutOptions) (core.Info, error) {
	if !r.fired {
		r.fired = true
		if _, err := r.Store.Put(ctx, key, bytes.NewReader(r.other), core.PutOptions{}); err != nil {
			return core.Info{}, err
		}
	}
	return r.Store.Put(ctx, key, body, opts)
}

func TestBlobStoreDetectsInterleavedWriter(t *testing.T) {
	ctx := context.Background()
	inner := blobmemory.New()
	seed := NewBlobStore(inner, "")
	if err := seed.CompareAndSwap(ctx, domain.DomainFeatures, 0, encoded(t, domain.DomainFeatures, 1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewBlobStore(&racingBlobs{Store: inner, other: encoded(t, domain.DomainFeatures, 7)}, "")
	err := store.CompareAndSwap(ctx, domain.DomainFeatures, 1, encoded(t, domain.DomainFeatures, 2))
	var ce *domain.ConflictError
	if !errors.As(err, &ce) || ce.Current != 7 {
		t.Fatalf("expected conflict reporting version 7, got %v", err)
	}
	got, _ := store.Load(ctx, domain.DomainFeatures)
	if got.Version != 7 {
		t.Fatalf("interleaved write must survive, got version %d", got.Version)
	}
}

func TestBlobStoreRejectsCorruptDocument(t *testing.T) {
	ctx := context.Background()
	blobs := blobmemory.New()
	store := NewBlobStore(blobs, "")
	if _, err := blobs.Put(ctx, store.Key(domain.DomainAPI), bytes.NewReader([]byte("{")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Load(ctx, domain.DomainAPI); !errors.Is(err, domain.ErrInvalidDocument) {
		t.Fatalf("expected invalid document, got %v", err)
	}
	if err := store.CompareAndSwap(ctx, domain.DomainAPI, 0, encoded(t, domain.DomainAPI, 1)); !errors.Is(err, domain.ErrInvalidDocument) {
		t.Fatalf("expected invalid document on cas, got %v", err)
	}
}

func TestOpenDocumentStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fsStore, err := OpenDocumentStore(ctx, config.StorageConfig{Driver: config.DriverFS, FS: config.FSConfig{Root: dir}})
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	if _, ok := fsStore.(*BlobStore); !ok {
		t.Fatalf("fs driver should yield a blob store, got %T", fsStore)
	}
	memStore, err := OpenDocumentStore(ctx, config.StorageConfig{Driver: config.DriverMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := memStore.(*memory.Store); !ok {
		t.Fatalf("unexpected memory store %T", memStore)
	}
	sqliteStore, err := OpenDocumentStore(ctx, config.StorageConfig{Driver: config.DriverSQLite, SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "s.db")}})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	exerciseCAS(t, sqliteStore)
	if err := Close(sqliteStore); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}
	if err := Close(memStore); err != nil {
		t.Fatalf("close of a store without connections must be a no-op: %v", err)
	}

	orig := openS3
	openS3 = func(context.Context, blobs3.Config) (*blobs3.Store, error) { return blobs3.NewMockForTests(), nil }
	t.Cleanup(func() { openS3 = orig })
	s3Store, err := OpenDocumentStore(ctx, config.StorageConfig{Driver: config.DriverS3, S3: config.S3Config{Bucket: "b"}})
	if err != nil {
		t.Fatalf("s3: %v", err)
	}
	exerciseCAS(t, s3Store)

	if _, err := OpenDocumentStore(ctx, config.StorageConfig{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := OpenDocumentStore(ctx, config.StorageConfig{Driver: config.DriverRedis}); err == nil {
		t.Fatalf("expected redis url error")
	}
}
