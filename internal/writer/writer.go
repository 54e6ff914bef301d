// Package writer persists merged documents: it bumps the document version,
// re-validates the whole document and swaps it into the store only if no other
// run has written since the prior version was read.
package writer

import (
	"context"
	"errors"

	"specsync/internal/validate"
	"specsync/pkg/domain"
)

// Result describes one write attempt.
type Result struct {
	Version int64
	// Written is false when the merged records equal the prior document's and nothing was stored.
	Written bool
}

// Writer writes documents to a DocumentStore.
type Writer struct {
	store domain.DocumentStore
}

// New returns a Writer over store.
func New(store domain.DocumentStore) *Writer {
	return &Writer{store: store}
}

// Load reads the current document for d. A domain that was never written
// yields an empty document at version 0.
func Load(ctx context.Context, store domain.DocumentStore, d domain.Domain) (domain.Document, error) {
	stored, err := store.Load(ctx, d)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewDocument(d), nil
	}
	if err != nil {
		return domain.Document{}, &domain.WriteError{Domain: d, Op: "load", Err: err}
	}
	doc, err := domain.DecodeDocument(stored.Data)
	if err != nil {
		return domain.Document{}, &domain.WriteError{Domain: d, Op: "decode", Err: err}
	}
	if doc.Domain != d {
		return domain.Document{}, &domain.WriteError{Domain: d, Op: "decode", Err: domain.ErrInvalidDocument}
	}
	doc.Version = stored.Version
	return doc, nil
}

// Write stores merged as version prior.Version+1. A conflict is returned
// unwrapped as *domain.ConflictError so callers can retry; every other failure
// is a *domain.WriteError and the prior document stays authoritative.
func (w *Writer) Write(ctx context.Context, merged, prior domain.Document, refs *validate.References) (Result, error) {
	d := merged.Domain
	if prior.Version > 0 {
		same, err := domain.SameContent(prior, merged)
		if err != nil {
			return Result{}, &domain.WriteError{Domain: d, Op: "encode", Err: err}
		}
		if same {
			return Result{Version: prior.Version}, nil
		}
	}
	next := merged.Clone()
	next.Version = prior.Version + 1
	next.SchemaVersion = domain.SchemaVersion
	if err := validate.ValidateDocument(next, refs); err != nil {
		return Result{}, &domain.WriteError{Domain: d, Op: "validate", Err: err}
	}
	data, err := domain.EncodeDocument(next)
	if err != nil {
		return Result{}, &domain.WriteError{Domain: d, Op: "encode", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &domain.WriteError{Domain: d, Op: "cas", Err: err}
	}
	if err := w.store.CompareAndSwap(ctx, d, prior.Version, data); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return Result{}, err
		}
		return Result{}, &domain.WriteError{Domain: d, Op: "cas", Err: err}
	}
	return Result{Version: next.Version, Written: true}, nil
}
