// Package sqlstore implements domain.DocumentStore over database/sql. The sqlite
// and postgres packages supply the connection and dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"specsync/pkg/domain"
)

// Dialect captures the small differences between SQL engines.
type Dialect struct {
	Name        string
	PayloadType string // column type for the encoded document
	Numbered    bool   // $1, $2 placeholders instead of ?
}

// Known dialects.
var (
	SQLite   = Dialect{Name: "sqlite", PayloadType: "BLOB"}
	Postgres = Dialect{Name: "postgres", PayloadType: "BYTEA", Numbered: true}
)

// Rebind rewrites ? placeholders for dialects using numbered parameters.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store keeps each domain document in one row of the documents table. The version
// column mirrors document_version so compare-and-swap is a conditional UPDATE.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ domain.DocumentStore = (*Store)(nil)

// New ensures the documents table exists.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
		domain TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		payload %s NOT NULL
	)`, dialect.PayloadType)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the stored document for d.
func (s *Store) Load(ctx context.Context, d domain.Domain) (domain.StoredDocument, error) {
	var out domain.StoredDocument
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT payload, version FROM documents WHERE domain = ?`), string(d))
	if err := row.Scan(&out.Data, &out.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StoredDocument{}, domain.ErrNotFound
		}
		return domain.StoredDocument{}, fmt.Errorf("load %s: %w", d, err)
	}
	return out, nil
}

// CompareAndSwap inserts the first version or updates the row whose version equals expected.
func (s *Store) CompareAndSwap(ctx context.Context, d domain.Domain, expected int64, data []byte) error {
	next, err := domain.PeekVersion(data)
	if err != nil {
		return fmt.Errorf("cas %s: %w", d, err)
	}
	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(
			`INSERT INTO documents(domain, version, payload) VALUES(?,?,?) ON CONFLICT(domain) DO NOTHING`),
			string(d), next, data)
	} else {
		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(
			`UPDATE documents SET version = ?, payload = ? WHERE domain = ? AND version = ?`),
			next, data, string(d), expected)
	}
	if err != nil {
		return fmt.Errorf("cas %s: %w", d, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cas %s: %w", d, err)
	}
	if n == 1 {
		return nil
	}
	current := int64(0)
	if stored, err := s.Load(ctx, d); err == nil {
		current = stored.Version
	}
	return &domain.ConflictError{Domain: d, Expected: expected, Current: current}
}
