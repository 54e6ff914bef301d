// Package validate partitions candidate records into accepted and quarantined
// sets and re-checks whole documents before they are written.
package validate

import (
	"errors"
	"fmt"
	"sort"

	"specsync/internal/graph"
	"specsync/pkg/domain"
)

// Outcome partitions one domain's candidates.
type Outcome struct {
	Accepted    []domain.Record
	Quarantined []domain.Quarantine
	Warnings    []domain.Warning
}

// QuarantinedIDs lists the distinct identities that were quarantined, in candidate order.
func (o Outcome) QuarantinedIDs() []string {
	seen := make(map[int]struct{}, len(o.Quarantined))
	var out []string
	for _, q := range o.Quarantined {
		if _, dup := seen[q.Index]; dup {
			continue
		}
		seen[q.Index] = struct{}{}
		out = append(out, q.ID)
	}
	return out
}

type state uint8

const (
	live state = iota
	invalid
	duplicate
	dangling
	cyclic
)

type pass struct {
	domain   domain.Domain
	cands    []domain.Record
	refs     *References
	state    []state
	byID     map[string]int
	retained map[string]domain.Record
	out      []domain.Quarantine
	warnings []domain.Warning
}

// Validate checks candidates in order: per-record schema (required fields and
// closed enums), duplicate identities (first occurrence wins), hard references
// iterated to a fixpoint, then depends_on/blocks cycles. Records published in
// refs under the candidates' own domain are treated as persisted siblings that
// survive the merge. Validation never rejects the whole set.
func Validate(d domain.Domain, candidates []domain.Record, refs *References) Outcome {
	if refs == nil {
		refs = NewReferences()
	}
	p := &pass{
		domain:   d,
		cands:    candidates,
		refs:     refs,
		state:    make([]state, len(candidates)),
		byID:     make(map[string]int, len(candidates)),
		retained: refs.snapshot(d),
	}
	p.checkRecords()
	p.checkDuplicates()
	for {
		p.resolveReferences()
		if !p.checkCycles() {
			break
		}
	}
	p.reportInvalidReferences()
	p.checkSoftReferences()
	p.checkRetained()

	sort.SliceStable(p.out, func(i, j int) bool { return p.out[i].Index < p.out[j].Index })
	outcome := Outcome{Quarantined: p.out, Warnings: p.warnings}
	for i, rec := range candidates {
		if p.state[i] == live {
			outcome.Accepted = append(outcome.Accepted, rec)
		}
	}
	return outcome
}

func (p *pass) quarantine(i int, reason domain.Reason, field, detail string) {
	p.out = append(p.out, domain.Quarantine{ID: p.cands[i].ID, Index: i, Reason: reason, Field: field, Detail: detail})
}

func (p *pass) checkRecords() {
	for i, rec := range p.cands {
		if rec.Payload == nil {
			p.state[i] = invalid
			p.quarantine(i, domain.ReasonMissingRequiredField, "payload", "")
			continue
		}
		if rec.Payload.Domain() != p.domain {
			p.state[i] = invalid
			p.quarantine(i, domain.ReasonMissingRequiredField, "payload", fmt.Sprintf("payload belongs to %s", rec.Payload.Domain()))
			continue
		}
		errs := rec.Payload.Check()
		if len(errs) == 0 && rec.ID == "" {
			errs = append(errs, domain.FieldError{Field: "id", Reason: domain.ReasonMissingRequiredField, Detail: "identity could not be derived"})
		}
		if len(errs) == 0 {
			continue
		}
		p.state[i] = invalid
		for _, fe := range errs {
			p.quarantine(i, fe.Reason, fe.Field, fe.Detail)
		}
	}
}

func (p *pass) checkDuplicates() {
	first := make(map[string]int, len(p.cands))
	for i, rec := range p.cands {
		if rec.ID == "" {
			continue
		}
		if j, seen := first[rec.ID]; seen {
			if p.state[i] == live {
				p.state[i] = duplicate
			}
			p.quarantine(i, domain.ReasonDuplicateIdentity, "id", fmt.Sprintf("first seen at index %d", j))
			continue
		}
		first[rec.ID] = i
		if p.state[i] == live {
			p.byID[rec.ID] = i
		}
	}
}

func (p *pass) target(ref domain.Reference) (domain.Record, bool) {
	if ref.Domain == p.domain {
		if i, ok := p.byID[ref.ID]; ok && p.state[i] == live {
			return p.cands[i], true
		}
		rec, ok := p.retained[ref.ID]
		return rec, ok
	}
	return p.refs.Lookup(ref.Domain, ref.ID)
}

// unresolved returns a detail for every hard reference of rec that does not resolve.
func unresolved(rec domain.Record, lookup func(domain.Reference) (domain.Record, bool)) []domain.FieldError {
	referrer, ok := rec.Payload.(domain.Referrer)
	if !ok {
		return nil
	}
	var out []domain.FieldError
	for _, ref := range referrer.References() {
		if ref.Soft {
			continue
		}
		target, found := lookup(ref)
		if !found {
			out = append(out, domain.FieldError{
				Field:  ref.Field,
				Reason: domain.ReasonDanglingHardReference,
				Detail: fmt.Sprintf("%s %q not found", ref.Domain, ref.ID),
			})
			continue
		}
		if ref.Column == "" {
			continue
		}
		if owner, isOwner := target.Payload.(domain.ColumnOwner); !isOwner || !owner.HasColumn(ref.Column) {
			out = append(out, domain.FieldError{
				Field:  ref.Field,
				Reason: domain.ReasonDanglingHardReference,
				Detail: fmt.Sprintf("column %s.%s not found", ref.ID, ref.Column),
			})
		}
	}
	return out
}

// resolveReferences repeats until no further record is rejected, so a record
// whose referent was rejected in an earlier round is itself dangling.
func (p *pass) resolveReferences() {
	for changed := true; changed; {
		changed = false
		for i, rec := range p.cands {
			if p.state[i] != live {
				continue
			}
			errs := unresolved(rec, p.target)
			if len(errs) == 0 {
				continue
			}
			p.state[i] = dangling
			changed = true
			for _, fe := range errs {
				p.quarantine(i, fe.Reason, fe.Field, fe.Detail)
			}
		}
	}
}

// checkCycles quarantines every live candidate on a depends_on/blocks cycle and
// reports whether anything changed.
func (p *pass) checkCycles() bool {
	g := graph.New()
	var declared []domain.Edge
	for i, rec := range p.cands {
		if p.state[i] != live {
			continue
		}
		g.AddNode(rec.ID)
		if ed, ok := rec.Payload.(domain.EdgeDeclarer); ok {
			declared = append(declared, ed.Edges(rec.ID)...)
		}
	}
	retainedIDs := make([]string, 0, len(p.retained))
	for id := range p.retained {
		if i, ok := p.byID[id]; ok && p.state[i] == live {
			continue
		}
		retainedIDs = append(retainedIDs, id)
	}
	sort.Strings(retainedIDs)
	for _, id := range retainedIDs {
		g.AddNode(id)
		if ed, ok := p.retained[id].Payload.(domain.EdgeDeclarer); ok {
			declared = append(declared, ed.Edges(id)...)
		}
	}
	if len(declared) == 0 {
		return false
	}
	for _, e := range declared {
		g.AddEdge(e.From, e.To)
	}
	cycles := g.Cycles()
	if len(cycles) == 0 {
		return false
	}
	changed := false
	for _, c := range cycles {
		for _, id := range c.Path {
			i, ok := p.byID[id]
			if !ok || p.state[i] != live {
				continue
			}
			p.state[i] = cyclic
			changed = true
			p.out = append(p.out, domain.Quarantine{
				ID:     id,
				Index:  i,
				Reason: domain.ReasonCycleDetected,
				Field:  "depends_on",
				Detail: c.String(),
				Cycle:  append([]string(nil), c.Path...),
			})
		}
	}
	return changed
}

// reportInvalidReferences also reports dangling references of records that already
// failed per-record checks, so one pass surfaces every problem with a record.
func (p *pass) reportInvalidReferences() {
	for i, rec := range p.cands {
		if p.state[i] != invalid || rec.Payload == nil || rec.Payload.Domain() != p.domain {
			continue
		}
		for _, fe := range unresolved(rec, p.target) {
			p.quarantine(i, fe.Reason, fe.Field, fe.Detail)
		}
	}
}

func (p *pass) checkSoftReferences() {
	for i, rec := range p.cands {
		if p.state[i] != live {
			continue
		}
		referrer, ok := rec.Payload.(domain.Referrer)
		if !ok {
			continue
		}
		for _, ref := range referrer.References() {
			if !ref.Soft {
				continue
			}
			if found, indexed := p.refs.HasFile(ref.ID); indexed && !found {
				p.warnings = append(p.warnings, domain.Warning{
					ID:     rec.ID,
					Field:  ref.Field,
					Detail: fmt.Sprintf("file %q not found in project tree", ref.ID),
				})
			}
		}
	}
}

// checkRetained looks at the hard references of persisted records that survive
// the merge without a fresh report. Nothing can quarantine them, so a reference
// that no longer resolves is kept on the record and surfaced as a warning.
func (p *pass) checkRetained() {
	ids := make([]string, 0, len(p.retained))
	for id, rec := range p.retained {
		if i, ok := p.byID[id]; ok && p.state[i] == live {
			continue
		}
		if rec.Payload == nil || rec.Payload.Domain() != p.domain {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, fe := range unresolved(p.retained[id], p.target) {
			p.warnings = append(p.warnings, domain.Warning{
				ID:     id,
				Field:  fe.Field,
				Detail: fe.Detail + "; kept without a fresh report",
			})
		}
	}
}

// ValidateDocument re-checks every invariant over a merged document: identities
// present and unique, envelope fields from their closed sets, payload schema,
// hard references, and an acyclic depends_on/blocks graph. Hard references are
// enforced on active extractor records only; stale, archived and curator-sourced
// records were not re-validated this run and may point at retired targets.
func ValidateDocument(doc domain.Document, refs *References) error {
	if refs == nil {
		refs = NewReferences()
	}
	var errs []error
	if !doc.Domain.Valid() {
		return fmt.Errorf("%w: %w: %q", domain.ErrInvalidDocument, domain.ErrUnknownDomain, doc.Domain)
	}
	if doc.SchemaVersion != domain.SchemaVersion {
		errs = append(errs, fmt.Errorf("schema_version %d, want %d", doc.SchemaVersion, domain.SchemaVersion))
	}
	if doc.Records == nil {
		errs = append(errs, errors.New("records must be an array"))
	}
	seen := make(map[string]struct{}, len(doc.Records))
	for i, rec := range doc.Records {
		if rec.ID == "" {
			errs = append(errs, fmt.Errorf("record %d: empty identity", i))
		} else if _, dup := seen[rec.ID]; dup {
			errs = append(errs, fmt.Errorf("record %s: %s", rec.ID, domain.ReasonDuplicateIdentity))
		}
		seen[rec.ID] = struct{}{}
		switch rec.Status {
		case domain.StatusActive, domain.StatusStale, domain.StatusArchived:
		default:
			errs = append(errs, fmt.Errorf("record %s: unknown status %q", rec.ID, rec.Status))
		}
		switch rec.Provenance.Source {
		case domain.SourceExtractor, domain.SourceCurator:
		default:
			errs = append(errs, fmt.Errorf("record %s: unknown provenance source %q", rec.ID, rec.Provenance.Source))
		}
		if rec.Payload == nil {
			errs = append(errs, fmt.Errorf("record %s: missing payload", rec.ID))
			continue
		}
		if rec.Payload.Domain() != doc.Domain {
			errs = append(errs, fmt.Errorf("record %s: payload belongs to %s", rec.ID, rec.Payload.Domain()))
			continue
		}
		for _, fe := range rec.Payload.Check() {
			errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, fe))
		}
	}

	pool := doc.Index()
	lookup := func(ref domain.Reference) (domain.Record, bool) {
		if ref.Domain == doc.Domain {
			rec, ok := pool[ref.ID]
			return rec, ok
		}
		return refs.Lookup(ref.Domain, ref.ID)
	}
	g := graph.New()
	for _, rec := range doc.Records {
		if rec.Payload == nil || rec.Payload.Domain() != doc.Domain {
			continue
		}
		if rec.Status == domain.StatusActive && rec.Provenance.Source == domain.SourceExtractor {
			for _, fe := range unresolved(rec, lookup) {
				errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, fe))
			}
		}
		g.AddNode(rec.ID)
	}
	for _, rec := range doc.Records {
		if ed, ok := rec.Payload.(domain.EdgeDeclarer); ok {
			for _, e := range ed.Edges(rec.ID) {
				g.AddEdge(e.From, e.To)
			}
		}
	}
	for _, c := range g.Cycles() {
		errs = append(errs, fmt.Errorf("%s: %s", domain.ReasonCycleDetected, c))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidDocument, errors.Join(errs...))
	}
	return nil
}
