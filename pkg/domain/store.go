package domain

import "context"

// StoredDocument is the raw persisted form of a document and its version.
type StoredDocument struct {
	Data    []byte
	Version int64
}

// DocumentStore is the durable home of one document per domain. Writes use
// compare-and-swap on the document version so concurrent runs cannot lose updates.
type DocumentStore interface {
	// Load returns ErrNotFound when the domain has never been written.
	Load(ctx context.Context, d Domain) (StoredDocument, error)
	// CompareAndSwap replaces the document only if the stored version equals expected
	// (0 meaning absent). A mismatch returns a *ConflictError. Readers never observe
	// a partially written document.
	CompareAndSwap(ctx context.Context, d Domain, expected int64, data []byte) error
}
