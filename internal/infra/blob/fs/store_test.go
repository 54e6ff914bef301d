package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"specsync/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func read(t *testing.T, s *Store, key string) (core.Info, string) {
	t.Helper()
	info, rc, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return info, string(b)
}

func TestStore_PutGetConditional(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("driver %s", store.Driver())
	}
	if _, _, err := store.Get(ctx, "specs/issues.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	info, err := store.Put(ctx, "specs/issues.json", bytes.NewReader([]byte("v1")), core.PutOptions{IfNoneMatch: core.AnyETag})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.Size != 2 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "specs/issues.json", bytes.NewReader([]byte("dup")), core.PutOptions{IfNoneMatch: core.AnyETag}); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected create-only failure, got %v", err)
	}
	got, body := read(t, store, "specs/issues.json")
	if body != "v1" || got.ETag != info.ETag {
		t.Fatalf("unexpected read %q %+v", body, got)
	}
	if _, err := store.Put(ctx, "specs/issues.json", bytes.NewReader([]byte("v2")), core.PutOptions{IfMatch: "stale"}); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected etag mismatch, got %v", err)
	}
	if _, err := store.Put(ctx, "specs/issues.json", bytes.NewReader([]byte("v2")), core.PutOptions{IfMatch: info.ETag}); err != nil {
		t.Fatalf("conditional put: %v", err)
	}
	if _, body := read(t, store, "specs/issues.json"); body != "v2" {
		t.Fatalf("expected v2, got %q", body)
	}
	if _, err := store.Put(ctx, "other.json", bytes.NewReader([]byte("x")), core.PutOptions{IfMatch: info.ETag}); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("IfMatch on absent key must fail, got %v", err)
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()
	for _, key := range []string{"", "   ", "../escape", "/abs"} {
		if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
		if _, _, err := store.Get(ctx, key); err == nil {
			t.Fatalf("expected get error for key %q", key)
		}
	}
}

func TestStore_RenameFailureKeepsPreviousContent(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "doc.json", bytes.NewReader([]byte("old")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	orig := rename
	rename = func(string, string) error { return errors.New("power cut") }
	t.Cleanup(func() { rename = orig })

	if _, err := store.Put(ctx, "doc.json", bytes.NewReader([]byte("new")), core.PutOptions{}); err == nil {
		t.Fatalf("expected rename failure")
	}
	if _, body := read(t, store, "doc.json"); body != "old" {
		t.Fatalf("previous content lost: %q", body)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "doc.json" {
			t.Fatalf("leftover file %s", e.Name())
		}
	}
}

func TestStore_StaleLockIsBroken(t *testing.T) {
	store := newTempStore(t)
	lockPath := filepath.Join(store.Root(), "doc.json.lock")
	if err := os.WriteFile(lockPath, []byte("1\n"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	old := time.Now().Add(-2 * StaleLockAge)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := store.Put(context.Background(), "doc.json", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put with stale lock: %v", err)
	}
}

func TestStore_HeldLockHonoursContext(t *testing.T) {
	store := newTempStore(t)
	lockPath := filepath.Join(store.Root(), "doc.json.lock")
	if err := os.WriteFile(lockPath, []byte("1\n"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := store.Put(ctx, "doc.json", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestStore_ConcurrentCreateOnlyHasOneWinner(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Put(ctx, "race.json", bytes.NewReader([]byte("x")), core.PutOptions{IfNoneMatch: core.AnyETag}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("fail") }

func TestStore_ReaderErrorLeavesNothingBehind(t *testing.T) {
	store := newTempStore(t)
	if _, err := store.Put(context.Background(), "bad.json", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	if _, _, err := store.Get(context.Background(), "bad.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected nothing written, got %v", err)
	}
}
