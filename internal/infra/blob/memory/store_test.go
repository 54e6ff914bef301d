package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"specsync/internal/blob/core"
)

func TestStore_MissingGet(t *testing.T) {
	store := New()
	if _, _, err := store.Get(context.Background(), "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ConditionalWrites(t *testing.T) {
	store := New()
	ctx := context.Background()
	first, err := store.Put(ctx, "k", bytes.NewReader([]byte("v")), core.PutOptions{IfNoneMatch: core.AnyETag, ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("v2")), core.PutOptions{IfNoneMatch: core.AnyETag}); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected create-only failure, got %v", err)
	}
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("v2")), core.PutOptions{IfMatch: "nope"}); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected etag failure, got %v", err)
	}
	second, err := store.Put(ctx, "k", bytes.NewReader([]byte("v2")), core.PutOptions{IfMatch: first.ETag})
	if err != nil {
		t.Fatalf("conditional put: %v", err)
	}
	if second.ETag == first.ETag {
		t.Fatalf("etag must change with content")
	}
	info, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "v2" || info.ETag != second.ETag {
		t.Fatalf("unexpected get %q %+v", b, info)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("fail") }

func TestStore_PutReadErrorAndDriver(t *testing.T) {
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver")
	}
	if _, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
}
