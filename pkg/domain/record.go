package domain

// Source identifies who created a record.
type Source string

// Record sources.
const (
	SourceExtractor Source = "extractor"
	SourceCurator   Source = "curator"
)

// Status is the lifecycle state of a persisted record.
type Status string

// Record statuses. Retired records are removed and therefore have no status.
const (
	StatusActive   Status = "active"
	StatusStale    Status = "stale"
	StatusArchived Status = "archived"
)

// Provenance records where a record came from and which extraction run last reported it.
type Provenance struct {
	Source      Source `json:"source"`
	LastSeenRun string `json:"last_seen_run,omitempty"`
}

// Record is the shared envelope around a domain payload.
type Record struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	CuratorFields []string   `json:"curator_fields"`
	Provenance    Provenance `json:"provenance"`
	Payload       Payload    `json:"payload"`
}

// CuratorTouched reports whether any curator-owned field carries a curator-set value,
// either because it is non-default or because a curator listed it explicitly.
func (r Record) CuratorTouched() bool {
	return len(r.CuratorSetFields()) > 0
}

// CuratorSetFields returns the curator-owned fields holding curator-set values, in declaration order.
func (r Record) CuratorSetFields() []string {
	curated, ok := r.Payload.(Curated)
	if !ok {
		return nil
	}
	listed := make(map[string]struct{}, len(r.CuratorFields))
	for _, f := range r.CuratorFields {
		listed[f] = struct{}{}
	}
	var out []string
	for _, field := range curated.CuratorFields() {
		_, explicit := listed[field]
		if explicit || curated.CuratorSet(field) {
			out = append(out, field)
		}
	}
	return out
}

// Archived reports whether the payload's archive flag (resolved / is_addressed) is set.
func (r Record) Archived() bool {
	a, ok := r.Payload.(Archivable)
	return ok && a.ArchiveFlag()
}

// Clone returns a copy whose slices are not shared with r. Payloads are values.
func (r Record) Clone() Record {
	out := r
	if r.CuratorFields != nil {
		out.CuratorFields = append([]string(nil), r.CuratorFields...)
	}
	return out
}

// Document is the persisted envelope for one domain.
type Document struct {
	Domain        Domain   `json:"domain"`
	SchemaVersion int      `json:"schema_version"`
	Version       int64    `json:"document_version"`
	Records       []Record `json:"records"`
}

// NewDocument returns an empty document at version 0, used on a domain's first run.
func NewDocument(d Domain) Document {
	return Document{Domain: d, SchemaVersion: SchemaVersion, Records: []Record{}}
}

// Index maps identities to records.
func (d Document) Index() map[string]Record {
	out := make(map[string]Record, len(d.Records))
	for _, rec := range d.Records {
		if _, dup := out[rec.ID]; !dup {
			out[rec.ID] = rec
		}
	}
	return out
}

// IDs returns the record identities in document order.
func (d Document) IDs() []string {
	out := make([]string, 0, len(d.Records))
	for _, rec := range d.Records {
		out = append(out, rec.ID)
	}
	return out
}

// Clone deep-copies the record slice.
func (d Document) Clone() Document {
	out := d
	out.Records = make([]Record, len(d.Records))
	for i, rec := range d.Records {
		out.Records[i] = rec.Clone()
	}
	return out
}

// StatusTotals counts a document's records per status. Active excludes stale
// and archived records.
type StatusTotals struct {
	Active   int `json:"active"`
	Stale    int `json:"stale"`
	Archived int `json:"archived"`
}

// Total is the number of persisted records.
func (t StatusTotals) Total() int { return t.Active + t.Stale + t.Archived }

// Totals tallies the records of d by status.
func (d Document) Totals() StatusTotals {
	var t StatusTotals
	for _, rec := range d.Records {
		switch rec.Status {
		case StatusActive:
			t.Active++
		case StatusStale:
			t.Stale++
		case StatusArchived:
			t.Archived++
		}
	}
	return t
}
