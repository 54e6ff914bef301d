// Package normalize turns raw extractor facts into domain-typed candidate records.
//
// Normalizers are pure: they apply per-domain defaults, compute identities, and
// stamp provenance. They never decide validity; unknown enum values and missing
// required fields pass through so the validator can quarantine them.
package normalize

import (
	"fmt"
	"sort"

	"specsync/pkg/domain"
)

// Note records a lenient coercion applied while reading a fact.
type Note struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// Result is the normalizer output for one FactSet. Candidates keep fact order.
type Result struct {
	Candidates []domain.Record
	Notes      []Note
}

// Normalizer converts one domain's facts into candidate records.
type Normalizer interface {
	Domain() domain.Domain
	Normalize(fs domain.FactSet) Result
}

// builder reads one fact and returns the payload plus its identity ("" when the
// identity fields are missing).
type builder[T domain.Payload] func(r *reader) (T, string)

type typed[T domain.Payload] struct {
	domain domain.Domain
	build  builder[T]
}

func (n typed[T]) Domain() domain.Domain { return n.domain }

func (n typed[T]) Normalize(fs domain.FactSet) Result {
	run := fs.Digest()
	out := Result{Candidates: make([]domain.Record, 0, len(fs.Facts))}
	for i, fact := range fs.Facts {
		var notes []Note
		r := &reader{fact: fact, index: i, notes: &notes}
		payload, id := n.build(r)
		for j := range notes {
			notes[j].ID = id
		}
		out.Notes = append(out.Notes, notes...)
		out.Candidates = append(out.Candidates, domain.Record{
			ID:         id,
			Status:     domain.StatusActive,
			Provenance: domain.Provenance{Source: domain.SourceExtractor, LastSeenRun: run},
			Payload:    payload.Canonical(),
		})
	}
	return out
}

// Registry maps domains to their normalizer.
type Registry struct {
	normalizers map[domain.Domain]Normalizer
}

// NewRegistry registers the given normalizers. Later entries replace earlier ones for the same domain.
func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{normalizers: make(map[domain.Domain]Normalizer, len(normalizers))}
	for _, n := range normalizers {
		r.Register(n)
	}
	return r
}

// Default returns a registry holding the built-in normalizer for every domain.
func Default() *Registry {
	return NewRegistry(
		typed[domain.Dependency]{domain.DomainDependencies, dependency},
		typed[domain.Table]{domain.DomainSchema, table},
		typed[domain.Endpoint]{domain.DomainAPI, endpoint},
		typed[domain.EnvVar]{domain.DomainEnv, envVar},
		typed[domain.CriticalPath]{domain.DomainCriticalPaths, criticalPath},
		typed[domain.Feature]{domain.DomainFeatures, feature},
		typed[domain.Issue]{domain.DomainIssues, issue},
		typed[domain.Lesson]{domain.DomainLessons, lesson},
		typed[domain.DesignToken]{domain.DomainDesignTokens, designToken},
	)
}

// Register adds or replaces the normalizer for n.Domain().
func (r *Registry) Register(n Normalizer) {
	r.normalizers[n.Domain()] = n
}

// Lookup returns the normalizer registered for d.
func (r *Registry) Lookup(d domain.Domain) (Normalizer, bool) {
	n, ok := r.normalizers[d]
	return n, ok
}

// Domains lists registered domains in lexical order.
func (r *Registry) Domains() []domain.Domain {
	out := make([]domain.Domain, 0, len(r.normalizers))
	for d := range r.normalizers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Normalize dispatches fs to the normalizer registered for its domain.
func (r *Registry) Normalize(fs domain.FactSet) (Result, error) {
	n, ok := r.Lookup(fs.Domain)
	if !ok {
		return Result{}, fmt.Errorf("normalize: %w: %q", domain.ErrUnknownDomain, fs.Domain)
	}
	return n.Normalize(fs), nil
}
