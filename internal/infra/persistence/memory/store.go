// Package memory provides an in-memory document store used for tests and
// ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"specsync/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain store interface.
var _ domain.DocumentStore = (*Store)(nil)

// Store holds documents in a map guarded by a mutex.
type Store struct {
	mu   sync.RWMutex
	docs map[domain.Domain]domain.StoredDocument
	// BeforeSwap, when set, runs inside CompareAndSwap before the version check.
	// Tests use it to inject a concurrent writer.
	BeforeSwap func(d domain.Domain)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{docs: make(map[domain.Domain]domain.StoredDocument)}
}

// Load returns a copy of the stored document.
func (s *Store) Load(_ context.Context, d domain.Domain) (domain.StoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[d]
	if !ok {
		return domain.StoredDocument{}, domain.ErrNotFound
	}
	return domain.StoredDocument{Data: append([]byte(nil), doc.Data...), Version: doc.Version}, nil
}

// CompareAndSwap writes data if the stored version equals expected.
func (s *Store) CompareAndSwap(ctx context.Context, d domain.Domain, expected int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := s.BeforeSwap; hook != nil {
		hook(d)
	}
	next, err := domain.PeekVersion(data)
	if err != nil {
		return fmt.Errorf("cas %s: %w", d, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.docs[d].Version
	if current != expected {
		return &domain.ConflictError{Domain: d, Expected: expected, Current: current}
	}
	s.docs[d] = domain.StoredDocument{Data: append([]byte(nil), data...), Version: next}
	return nil
}

// Domains lists the domains with a stored document.
func (s *Store) Domains() []domain.Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Domain, 0, len(s.docs))
	for _, d := range domain.AllDomains() {
		if _, ok := s.docs[d]; ok {
			out = append(out, d)
		}
	}
	return out
}
