package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by stores, the writer, and the run orchestrator.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("version conflict")
	ErrInvalidDocument = errors.New("invalid document")
	ErrUnknownDomain   = errors.New("unknown domain")
)

// ConflictError reports a failed compare-and-swap: another run wrote the document first.
type ConflictError struct {
	Domain   Domain
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: version conflict: expected %d, store has %d", e.Domain, e.Expected, e.Current)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ExtractionError wraps an extractor failure. It never fails a run; the pipeline
// degrades to an empty FactSet instead.
type ExtractionError struct {
	Domain Domain
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Domain, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// WriteError is a fatal store-level failure for one domain. The previous document stays authoritative.
type WriteError struct {
	Domain Domain
	Op     string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %s: %v", e.Domain, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
