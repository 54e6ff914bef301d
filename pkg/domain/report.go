package domain

import "time"

// FieldConflict records a curator-owned field whose fresh extracted value was discarded.
type FieldConflict struct {
	ID    string `json:"id"`
	Field string `json:"field"`
}

// Diff is the merge engine's per-domain change summary. It is returned for
// observability and never persisted.
type Diff struct {
	Added      []string        `json:"added"`
	Refreshed  []string        `json:"refreshed"`
	Stale      []string        `json:"stale"`
	Retired    []string        `json:"retired"`
	Archived   []string        `json:"archived"`
	Conflicted []FieldConflict `json:"conflicted"`
	// Unchanged is the subset of Refreshed whose persisted form did not change.
	Unchanged []string `json:"unchanged"`
}

// DomainReport summarizes one domain's pipeline run.
type DomainReport struct {
	Domain Domain `json:"domain"`
	Diff
	// Totals counts the records of the document persisted at the end of the run.
	Totals          StatusTotals  `json:"totals"`
	Quarantined     []Quarantine  `json:"quarantined"`
	Warnings        []Warning     `json:"warnings"`
	Notes           int           `json:"normalizer_notes"`
	ExtractorFailed bool          `json:"extractor_failed"`
	PriorVersion    int64         `json:"prior_version"`
	Version         int64         `json:"version"`
	Written         bool          `json:"written"`
	Attempts        int           `json:"attempts"`
	Duration        time.Duration `json:"duration_ns"`
	Err             error         `json:"-"`
	Error           string        `json:"error,omitempty"`
}

// Failed reports whether the domain ended with a fatal error.
func (r DomainReport) Failed() bool { return r.Err != nil }

// Report is the outcome of one synchronization run across domains.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Domains    []DomainReport `json:"domains"`
}

// Failed returns the domains that ended with a fatal error.
func (r Report) Failed() []DomainReport {
	var out []DomainReport
	for _, d := range r.Domains {
		if d.Failed() {
			out = append(out, d)
		}
	}
	return out
}
