// Package extract provides extractors that feed pre-computed facts into a run,
// plus the project file index used for soft file references.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"specsync/pkg/domain"
)

// extensions are tried in order for each domain.
var extensions = []string{".yaml", ".yml", ".json"}

// FileExtractor loads a domain's facts from <dir>/<domain>.{yaml,yml,json}.
// A file is either a FactSet mapping (domain, status, facts) or a bare
// sequence of facts, which is treated as a complete run.
type FileExtractor struct {
	dir string
}

var _ domain.Extractor = (*FileExtractor)(nil)

// NewFileExtractor reads fact files from dir. A relative dir is resolved
// against the project root passed to Scan.
func NewFileExtractor(dir string) *FileExtractor {
	return &FileExtractor{dir: dir}
}

// Path returns the fact file for d, or the first candidate when none exists.
func (e *FileExtractor) Path(projectRoot string, d domain.Domain) (string, bool) {
	dir := e.dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectRoot, dir)
	}
	for _, ext := range extensions {
		candidate := filepath.Join(dir, string(d)+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return filepath.Join(dir, string(d)+extensions[0]), false
}

// Scan implements domain.Extractor. The option "file" overrides the path.
func (e *FileExtractor) Scan(ctx context.Context, projectRoot string, cfg domain.ExtractorConfig) (domain.FactSet, error) {
	if err := ctx.Err(); err != nil {
		return domain.FactSet{}, &domain.ExtractionError{Domain: cfg.Domain, Err: err}
	}
	path, found := e.Path(projectRoot, cfg.Domain)
	if override := cfg.Options["file"]; override != "" {
		path = override
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectRoot, path)
		}
		found = true
	}
	if !found {
		return domain.FactSet{}, &domain.ExtractionError{
			Domain: cfg.Domain,
			Err:    fmt.Errorf("no fact file at %s: %w", path, fs.ErrNotExist),
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.FactSet{}, &domain.ExtractionError{Domain: cfg.Domain, Err: err}
	}
	set, err := Decode(data)
	if err != nil {
		return domain.FactSet{}, &domain.ExtractionError{Domain: cfg.Domain, Err: fmt.Errorf("%s: %w", path, err)}
	}
	if set.Domain == "" {
		set.Domain = cfg.Domain
	}
	if set.Domain != cfg.Domain {
		return domain.FactSet{}, &domain.ExtractionError{
			Domain: cfg.Domain,
			Err:    fmt.Errorf("%s declares domain %s", path, set.Domain),
		}
	}
	return set, nil
}

// ErrEmptyFactFile is returned for a file with no YAML document.
var ErrEmptyFactFile = errors.New("fact file is empty")

// Decode parses a fact file. JSON input is accepted since it is valid YAML.
func Decode(data []byte) (domain.FactSet, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return domain.FactSet{}, fmt.Errorf("parse facts: %w", err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return domain.FactSet{}, ErrEmptyFactFile
	}
	root := node.Content[0]

	var set domain.FactSet
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&set.Facts); err != nil {
			return domain.FactSet{}, fmt.Errorf("decode facts: %w", err)
		}
		set.Status = domain.RunComplete
	case yaml.MappingNode:
		if err := root.Decode(&set); err != nil {
			return domain.FactSet{}, fmt.Errorf("decode fact set: %w", err)
		}
		if set.Status == "" {
			set.Status = domain.RunComplete
		}
	default:
		return domain.FactSet{}, fmt.Errorf("fact file must hold a mapping or a sequence, got %s", root.Tag)
	}

	switch set.Status {
	case domain.RunComplete, domain.RunPartial, domain.RunFailed:
	default:
		return domain.FactSet{}, fmt.Errorf("unknown run status %q", set.Status)
	}
	if set.Facts == nil {
		set.Facts = []domain.Fact{}
	}
	return set, nil
}
