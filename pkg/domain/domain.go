// Package domain defines the specification documents, record envelopes,
// per-domain payloads, and the store and extractor contracts used by specsync.
package domain

import (
	"fmt"
	"strings"
)

// Domain identifies one specification document.
type Domain string

// Supported specification domains. Each domain owns exactly one document.
const (
	// DomainDependencies is the dependency inventory.
	DomainDependencies Domain = "dependencies"
	// DomainSchema is the database schema (one record per table).
	DomainSchema Domain = "schema"
	// DomainAPI is the HTTP API surface.
	DomainAPI Domain = "api"
	// DomainEnv lists environment variables read by the project.
	DomainEnv Domain = "env"
	// DomainCriticalPaths lists critical user paths.
	DomainCriticalPaths Domain = "critical_paths"
	// DomainFeatures is the feature list with its dependency DAG.
	DomainFeatures Domain = "features"
	// DomainIssues lists quality issues.
	DomainIssues Domain = "issues"
	// DomainLessons lists lessons learned.
	DomainLessons Domain = "lessons"
	// DomainDesignTokens lists design tokens.
	DomainDesignTokens Domain = "design_tokens"
)

// SchemaVersion is the current envelope schema version written to every document.
const SchemaVersion = 1

var allDomains = []Domain{
	DomainDependencies,
	DomainSchema,
	DomainAPI,
	DomainEnv,
	DomainCriticalPaths,
	DomainFeatures,
	DomainIssues,
	DomainLessons,
	DomainDesignTokens,
}

// AllDomains returns every supported domain in canonical order.
func AllDomains() []Domain {
	out := make([]Domain, len(allDomains))
	copy(out, allDomains)
	return out
}

// Valid reports whether d is a supported domain.
func (d Domain) Valid() bool {
	for _, known := range allDomains {
		if d == known {
			return true
		}
	}
	return false
}

// Archives reports whether resolved records of the domain are archived instead of retired.
func (d Domain) Archives() bool {
	return d == DomainIssues || d == DomainLessons
}

// ParseDomains converts a comma separated list into domains. An empty input yields all domains.
func ParseDomains(raw string) ([]Domain, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AllDomains(), nil
	}
	seen := make(map[Domain]struct{})
	var out []Domain
	for _, part := range strings.Split(raw, ",") {
		d := Domain(strings.TrimSpace(part))
		if d == "" {
			continue
		}
		if !d.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, d)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}
