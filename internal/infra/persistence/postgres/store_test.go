package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"specsync/internal/infra/persistence/postgres/testutil"
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

func TestNewStoreCreatesDocumentsTable(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := NewStore(context.Background(), ""); err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS DOCUMENTS") && strings.Contains(stmt, "BYTEA") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected documents DDL, got execs: %v", conn.Execs)
	}
}

func TestCompareAndSwapUsesNumberedPlaceholders(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(ctx, "ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.CompareAndSwap(ctx, domain.DomainFeatures, 0, encoded(t, domain.DomainFeatures, 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CompareAndSwap(ctx, domain.DomainFeatures, 0, encoded(t, domain.DomainFeatures, 1)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.CompareAndSwap(ctx, domain.DomainFeatures, 1, encoded(t, domain.DomainFeatures, 2)); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.Load(ctx, domain.DomainFeatures)
	if err != nil || got.Version != 2 {
		t.Fatalf("load: %+v %v", got, err)
	}
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "?") {
			t.Fatalf("unexpected ? placeholder in %q", stmt)
		}
	}
}

func TestNewStorePropagatesFailures(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(context.Background(), "x"); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}
