package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// RunStatus describes how an extraction run ended.
type RunStatus string

// Extraction run outcomes. Only a complete run may retire records.
const (
	RunComplete RunStatus = "complete"
	RunPartial  RunStatus = "partial"
	RunFailed   RunStatus = "failed"
)

// Fact is one loosely structured key/value group reported by an extractor.
type Fact map[string]any

// FactSet is the raw output of one extractor run for one domain.
type FactSet struct {
	Domain Domain    `json:"domain" yaml:"domain"`
	Status RunStatus `json:"status" yaml:"status"`
	Facts  []Fact    `json:"facts" yaml:"facts"`
}

// Complete reports whether the extractor ran to completion; absence from a
// complete run is the only evidence that may retire a record.
func (f FactSet) Complete() bool {
	return f.Status == RunComplete || f.Status == ""
}

// Digest identifies the extraction run by its content. Identical facts produce
// identical digests, which keeps re-runs over unchanged input byte-identical.
func (f FactSet) Digest() string {
	h := sha256.New()
	_, _ = h.Write([]byte(f.Domain))
	for _, fact := range f.Facts {
		// encoding/json sorts map keys, giving a stable byte form.
		data, err := json.Marshal(fact)
		if err != nil {
			continue
		}
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{'\n'})
	}
	return "fs-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// FailedFactSet is the degraded result substituted for an extractor that errored or timed out.
func FailedFactSet(d Domain) FactSet {
	return FactSet{Domain: d, Status: RunFailed, Facts: []Fact{}}
}

// ExtractorConfig carries per-domain extractor options.
type ExtractorConfig struct {
	Domain  Domain
	Options map[string]string
}

// Extractor produces a FactSet for one domain. Scanning methods are opaque to the core.
type Extractor interface {
	Scan(ctx context.Context, projectRoot string, cfg ExtractorConfig) (FactSet, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, projectRoot string, cfg ExtractorConfig) (FactSet, error)

// Scan calls f.
func (f ExtractorFunc) Scan(ctx context.Context, projectRoot string, cfg ExtractorConfig) (FactSet, error) {
	return f(ctx, projectRoot, cfg)
}
