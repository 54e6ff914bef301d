package validate

import (
	"path"
	"strings"
	"sync"

	"specsync/pkg/domain"
)

// References is the resolution context for hard and soft references. It holds
// the records each domain will persist in this run and, optionally, an index of
// project files. Pipelines running in parallel publish into it as they finish.
type References struct {
	mu      sync.RWMutex
	records map[domain.Domain]map[string]domain.Record
	files   map[string]struct{}
}

// NewReferences returns an empty context. Soft file references are not checked
// until SetFiles is called.
func NewReferences() *References {
	return &References{records: make(map[domain.Domain]map[string]domain.Record)}
}

// Publish replaces the records known for d.
func (r *References) Publish(d domain.Domain, records []domain.Record) {
	idx := make(map[string]domain.Record, len(records))
	for _, rec := range records {
		if _, dup := idx[rec.ID]; !dup {
			idx[rec.ID] = rec
		}
	}
	r.mu.Lock()
	r.records[d] = idx
	r.mu.Unlock()
}

// Lookup returns the published record with identity id in domain d.
func (r *References) Lookup(d domain.Domain, id string) (domain.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[d][id]
	return rec, ok
}

func (r *References) snapshot(d domain.Domain) map[string]domain.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[d]
}

// SetFiles installs the project file index used for soft references. Paths are
// slash-separated and relative to the project root.
func (r *References) SetFiles(paths []string) {
	idx := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		idx[cleanPath(p)] = struct{}{}
	}
	r.mu.Lock()
	r.files = idx
	r.mu.Unlock()
}

// HasFile reports whether p exists in the file index. ok is false when no index was set.
func (r *References) HasFile(p string) (found, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.files == nil {
		return false, false
	}
	_, found = r.files[cleanPath(p)]
	return found, true
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
}
