// Package merge folds validated candidates into the previously persisted document.
//
// Curator-owned fields keep their persisted values unless the policy re-derives
// them from extraction. Records missing from a run are kept as stale when a
// curator touched them (or when the run cannot be trusted), archived when their
// archive flag is set, and retired otherwise. A record that would be retired is
// kept as stale while a surviving record of the same domain still references it.
package merge

import (
	"bytes"

	"specsync/pkg/domain"
)

// Policy controls one domain's merge.
type Policy struct {
	// ExtractorFailed marks the run as failed or partial: absence proves nothing,
	// so no record is retired.
	ExtractorFailed bool
	// Rederive names curator fields whose value is taken from extraction.
	Rederive map[string]bool
}

func (p Policy) rederives(field string) bool { return p.Rederive[field] }

// Merge returns the next document and a summary of what happened to each identity.
// accepted must be free of duplicate identities. The result keeps prev's version;
// the writer is responsible for bumping it.
func Merge(accepted []domain.Record, prev domain.Document, policy Policy) (domain.Document, domain.Diff) {
	out := domain.Document{
		Domain:        prev.Domain,
		SchemaVersion: domain.SchemaVersion,
		Version:       prev.Version,
		Records:       make([]domain.Record, 0, len(prev.Records)+len(accepted)),
	}
	if out.Domain == "" && len(accepted) > 0 && accepted[0].Payload != nil {
		out.Domain = accepted[0].Payload.Domain()
	}
	var diff domain.Diff

	incoming := make(map[string]domain.Record, len(accepted))
	for _, rec := range accepted {
		if _, dup := incoming[rec.ID]; !dup {
			incoming[rec.ID] = rec
		}
	}
	existing := make(map[string]struct{}, len(prev.Records))
	kept := make([]domain.Record, 0, len(prev.Records))
	staled := make(map[string]bool)
	retiring := make(map[string]domain.Record)

	for _, old := range prev.Records {
		existing[old.ID] = struct{}{}
		fresh, reported := incoming[old.ID]
		if reported {
			merged, conflicts := refresh(old, fresh, policy)
			diff.Refreshed = append(diff.Refreshed, old.ID)
			diff.Conflicted = append(diff.Conflicted, conflicts...)
			if merged.Status == domain.StatusArchived && old.Status != domain.StatusArchived {
				diff.Archived = append(diff.Archived, old.ID)
			}
			if sameRecord(old, merged) {
				diff.Unchanged = append(diff.Unchanged, old.ID)
			}
			kept = append(kept, merged)
			continue
		}

		rec := old.Clone()
		switch {
		case old.Archived():
			rec.Status = domain.StatusArchived
			if old.Status != domain.StatusArchived {
				diff.Archived = append(diff.Archived, old.ID)
			}
		case old.Provenance.Source == domain.SourceCurator:
		case old.CuratorTouched(), policy.ExtractorFailed:
			rec.Status = domain.StatusStale
			staled[old.ID] = true
		default:
			retiring[old.ID] = rec
		}
		kept = append(kept, rec)
	}

	var added []domain.Record
	for _, fresh := range accepted {
		if _, seen := existing[fresh.ID]; seen {
			continue
		}
		existing[fresh.ID] = struct{}{}
		rec := adopt(fresh, policy)
		diff.Added = append(diff.Added, rec.ID)
		if rec.Status == domain.StatusArchived {
			diff.Archived = append(diff.Archived, rec.ID)
		}
		added = append(added, rec)
	}

	// A record still referenced by a survivor is demoted instead of retired.
	survivors := make([]domain.Record, 0, len(kept)+len(added))
	for _, rec := range kept {
		if _, pending := retiring[rec.ID]; !pending {
			survivors = append(survivors, rec)
		}
	}
	pinned := referenced(out.Domain, append(survivors, added...), retiring)

	for _, rec := range kept {
		_, pending := retiring[rec.ID]
		_, pin := pinned[rec.ID]
		switch {
		case pending && !pin:
			diff.Retired = append(diff.Retired, rec.ID)
			continue
		case pending:
			rec.Status = domain.StatusStale
			diff.Stale = append(diff.Stale, rec.ID)
		case staled[rec.ID]:
			diff.Stale = append(diff.Stale, rec.ID)
		}
		out.Records = append(out.Records, rec)
	}
	out.Records = append(out.Records, added...)
	return out, diff
}

// Retained returns the records of prev that survive a merge even when the
// extractor does not report them, together with every record they reach through
// same-domain hard references. Validation treats them as resolvable siblings.
func Retained(prev domain.Document, extractorFailed bool) []domain.Record {
	var roots []domain.Record
	rest := make(map[string]domain.Record)
	for _, rec := range prev.Records {
		if extractorFailed || rec.Archived() || rec.Provenance.Source == domain.SourceCurator || rec.CuratorTouched() {
			roots = append(roots, rec)
			continue
		}
		rest[rec.ID] = rec
	}
	pinned := referenced(prev.Domain, roots, rest)
	var out []domain.Record
	for _, rec := range prev.Records {
		if _, pin := pinned[rec.ID]; pin {
			out = append(out, rec)
			continue
		}
		if _, plain := rest[rec.ID]; !plain {
			out = append(out, rec)
		}
	}
	return out
}

// referenced returns the identities in pool reachable from roots through hard
// references inside domain d.
func referenced(d domain.Domain, roots []domain.Record, pool map[string]domain.Record) map[string]struct{} {
	out := make(map[string]struct{})
	if len(pool) == 0 {
		return out
	}
	queue := append([]domain.Record(nil), roots...)
	for len(queue) > 0 {
		rec := queue[0]
		queue = queue[1:]
		referrer, ok := rec.Payload.(domain.Referrer)
		if !ok {
			continue
		}
		for _, ref := range referrer.References() {
			if ref.Soft || ref.Domain != d {
				continue
			}
			target, ok := pool[ref.ID]
			if !ok {
				continue
			}
			if _, done := out[ref.ID]; done {
				continue
			}
			out[ref.ID] = struct{}{}
			queue = append(queue, target)
		}
	}
	return out
}

// refresh applies a re-reported extraction to a persisted record.
func refresh(old, fresh domain.Record, policy Policy) (domain.Record, []domain.FieldConflict) {
	merged := domain.Record{
		ID:            old.ID,
		Status:        domain.StatusActive,
		CuratorFields: keepListed(old.CuratorFields, policy),
		Provenance:    domain.Provenance{Source: old.Provenance.Source, LastSeenRun: fresh.Provenance.LastSeenRun},
		Payload:       fresh.Payload,
	}
	if merged.Provenance.Source == "" {
		merged.Provenance.Source = domain.SourceExtractor
	}
	var conflicts []domain.FieldConflict
	oldCurated, _ := old.Payload.(domain.Curated)
	if freshCurated, ok := fresh.Payload.(domain.Curated); ok && oldCurated != nil {
		listed := make(map[string]struct{}, len(old.CuratorFields))
		for _, f := range old.CuratorFields {
			listed[f] = struct{}{}
		}
		payload := fresh.Payload
		for _, field := range freshCurated.CuratorFields() {
			if policy.rederives(field) {
				continue
			}
			_, explicit := listed[field]
			curatorSet := explicit || oldCurated.CuratorSet(field)
			if curatorSet && freshCurated.CuratorSet(field) && !oldCurated.CuratorEqual(field, fresh.Payload) {
				conflicts = append(conflicts, domain.FieldConflict{ID: old.ID, Field: field})
			}
			payload = payload.(domain.Curated).WithCurator(field, old.Payload)
		}
		merged.Payload = payload
	}
	merged.CuratorFields = keepListed(merged.CuratorSetFields(), policy)
	if merged.Archived() {
		merged.Status = domain.StatusArchived
	}
	return merged, conflicts
}

// adopt prepares a record seen for the first time. Curator fields start at their
// schema defaults unless the policy re-derives them.
func adopt(fresh domain.Record, policy Policy) domain.Record {
	rec := fresh.Clone()
	rec.Status = domain.StatusActive
	rec.CuratorFields = nil
	if rec.Provenance.Source == "" {
		rec.Provenance.Source = domain.SourceExtractor
	}
	if curated, ok := rec.Payload.(domain.Curated); ok {
		payload := rec.Payload
		for _, field := range curated.CuratorFields() {
			if !policy.rederives(field) {
				payload = payload.(domain.Curated).WithoutCurator(field)
			}
		}
		rec.Payload = payload
	}
	if rec.Archived() {
		rec.Status = domain.StatusArchived
	}
	return rec
}

func keepListed(fields []string, policy Policy) []string {
	var out []string
	for _, f := range fields {
		if !policy.rederives(f) {
			out = append(out, f)
		}
	}
	return out
}

// sameRecord compares persisted forms, ignoring the run stamp.
func sameRecord(a, b domain.Record) bool {
	a.Provenance.LastSeenRun = ""
	b.Provenance.LastSeenRun = ""
	ea, errA := domain.EncodeDocument(domain.Document{Records: []domain.Record{a}})
	eb, errB := domain.EncodeDocument(domain.Document{Records: []domain.Record{b}})
	return errA == nil && errB == nil && bytes.Equal(ea, eb)
}
