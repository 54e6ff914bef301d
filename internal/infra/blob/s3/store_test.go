package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"specsync/internal/blob/core"
)

func TestMockStore_ConditionalPutAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if store.Driver() != core.DriverS3 {
		t.Fatalf("driver %s", store.Driver())
	}
	if _, _, err := store.Get(ctx, "specs/features.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	created, err := store.Put(ctx, "specs/features.json", bytes.NewReader([]byte(`{"v":1}`)), core.PutOptions{ContentType: "application/json", IfNoneMatch: core.AnyETag})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ETag == "" {
		t.Fatalf("expected etag")
	}
	if _, err := store.Put(ctx, "specs/features.json", bytes.NewReader([]byte(`{"v":9}`)), core.PutOptions{IfNoneMatch: core.AnyETag}); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure, got %v", err)
	}
	info, rc, err := store.Get(ctx, "specs/features.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"v":1}` || info.ETag != created.ETag || info.ContentType != "application/json" {
		t.Fatalf("unexpected object %q %+v", body, info)
	}
	if _, err := store.Put(ctx, "specs/features.json", bytes.NewReader([]byte(`{"v":2}`)), core.PutOptions{IfMatch: "deadbeef"}); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected etag mismatch, got %v", err)
	}
	if _, err := store.Put(ctx, "specs/features.json", bytes.NewReader([]byte(`{"v":2}`)), core.PutOptions{IfMatch: info.ETag}); err != nil {
		t.Fatalf("conditional update: %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	st, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil || st.bucket != "b" {
		t.Fatalf("new: %v", err)
	}
}

func TestDecodeChunked(t *testing.T) {
	body, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\nx-amz-checksum-crc32:abc\r\n\r\n"))
	if !ok || string(body) != "hello" {
		t.Fatalf("decode: %q %v", body, ok)
	}
	if _, ok := decodeChunked([]byte("plain body")); ok {
		t.Fatalf("plain body must not decode")
	}
	if _, err := parseHex("zz"); err == nil {
		t.Fatalf("expected hex error")
	}
}

func TestQuoting(t *testing.T) {
	if quote("abc") != `"abc"` || quote(`"abc"`) != `"abc"` || unquote(`"abc"`) != "abc" {
		t.Fatalf("quoting broken")
	}
}
