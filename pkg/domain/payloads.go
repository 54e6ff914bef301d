package domain

import (
	"fmt"
	"strings"
	"time"
)

// Payload is the domain-typed body of a Record. Each domain has exactly one payload type.
type Payload interface {
	Domain() Domain
	// Check reports per-record schema violations (required fields, closed enums).
	Check() []FieldError
	// Canonical returns the payload with nil collections replaced by empty ones.
	Canonical() Payload
}

// Curated is implemented by payloads that own curator fields.
type Curated interface {
	// CuratorFields lists curator-owned fields in declaration order.
	CuratorFields() []string
	// CuratorSet reports whether field holds a non-default value.
	CuratorSet(field string) bool
	// CuratorEqual reports whether field holds the same value in both payloads.
	CuratorEqual(field string, other Payload) bool
	// WithCurator returns a copy whose field value is taken from src.
	WithCurator(field string, src Payload) Payload
	// WithoutCurator returns a copy whose field is reset to its schema default.
	WithoutCurator(field string) Payload
}

// Archivable is implemented by payloads retained for history once resolved.
type Archivable interface {
	ArchiveFlag() bool
}

// Reference points from a payload field to another record (or to a file when Soft).
type Reference struct {
	Field  string
	Domain Domain
	ID     string
	// Column must exist on the target record (schema foreign keys).
	Column string
	// Soft references only produce warnings when they do not resolve.
	Soft bool
}

// Referrer is implemented by payloads that declare cross references.
type Referrer interface {
	References() []Reference
}

// Edge is a "From depends on To" relation inside one domain.
type Edge struct {
	From  string
	To    string
	Field string
}

// EdgeDeclarer is implemented by payloads that participate in an acyclic dependency graph.
type EdgeDeclarer interface {
	Edges(id string) []Edge
}

// ColumnOwner exposes the members a foreign key may target.
type ColumnOwner interface {
	HasColumn(name string) bool
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// Dependency is one entry of the dependency inventory.
type Dependency struct {
	Name       string          `json:"name"`
	Version    string          `json:"version,omitempty"`
	Ecosystem  string          `json:"ecosystem"`
	Scope      DependencyScope `json:"scope"`
	License    string          `json:"license,omitempty"`
	Deprecated bool            `json:"deprecated"`
}

func (Dependency) Domain() Domain { return DomainDependencies }

func (d Dependency) Check() []FieldError {
	var errs []FieldError
	if blank(d.Name) {
		errs = append(errs, missing("name"))
	}
	if !d.Scope.Valid() {
		errs = append(errs, invalidEnum("scope", d.Scope, dependencyScopes))
	}
	return errs
}

func (d Dependency) Canonical() Payload { return d }

// ForeignKey references a column of another table in the same schema document.
type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Column is one column of a Table.
type Column struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Nullable   bool        `json:"nullable"`
	PrimaryKey bool        `json:"primary_key"`
	Unique     bool        `json:"unique"`
	ForeignKey *ForeignKey `json:"foreign_key,omitempty"`
}

// Table is one record of the schema document.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Indexes []string `json:"indexes"`
}

func (Table) Domain() Domain { return DomainSchema }

func (t Table) Check() []FieldError {
	var errs []FieldError
	if blank(t.Name) {
		errs = append(errs, missing("name"))
	}
	for i, col := range t.Columns {
		if blank(col.Name) {
			errs = append(errs, missing(fmt.Sprintf("columns[%d].name", i)))
		}
		if blank(col.Type) {
			errs = append(errs, missing(fmt.Sprintf("columns[%d].type", i)))
		}
		if fk := col.ForeignKey; fk != nil {
			if blank(fk.Table) {
				errs = append(errs, missing(fmt.Sprintf("columns[%d].foreign_key.table", i)))
			}
			if blank(fk.Column) {
				errs = append(errs, missing(fmt.Sprintf("columns[%d].foreign_key.column", i)))
			}
		}
	}
	return errs
}

func (t Table) Canonical() Payload {
	if t.Columns == nil {
		t.Columns = []Column{}
	}
	t.Indexes = emptyIfNil(t.Indexes)
	return t
}

func (t Table) References() []Reference {
	var refs []Reference
	for _, col := range t.Columns {
		if col.ForeignKey == nil {
			continue
		}
		refs = append(refs, Reference{
			Field:  "columns." + col.Name + ".foreign_key",
			Domain: DomainSchema,
			ID:     col.ForeignKey.Table,
			Column: col.ForeignKey.Column,
		})
	}
	return refs
}

// HasColumn reports whether the table declares a column with the given name.
func (t Table) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// Endpoint is one route of the API surface.
type Endpoint struct {
	Method      HTTPMethod `json:"method"`
	Path        string     `json:"path"`
	Handler     string     `json:"handler,omitempty"`
	Auth        AuthMode   `json:"auth"`
	Description string     `json:"description,omitempty"`
}

func (Endpoint) Domain() Domain { return DomainAPI }

func (e Endpoint) Check() []FieldError {
	var errs []FieldError
	switch {
	case blank(string(e.Method)):
		errs = append(errs, missing("method"))
	case !e.Method.Valid():
		errs = append(errs, invalidEnum("method", e.Method, httpMethods))
	}
	if blank(e.Path) {
		errs = append(errs, missing("path"))
	}
	if !e.Auth.Valid() {
		errs = append(errs, invalidEnum("auth", e.Auth, authModes))
	}
	return errs
}

func (e Endpoint) Canonical() Payload { return e }

// EnvVar is one environment variable read by the project.
type EnvVar struct {
	Name        string      `json:"name"`
	Required    bool        `json:"required"`
	Default     string      `json:"default,omitempty"`
	Secret      bool        `json:"secret"`
	Category    EnvCategory `json:"category"`
	Description string      `json:"description,omitempty"`
}

func (EnvVar) Domain() Domain { return DomainEnv }

func (v EnvVar) Check() []FieldError {
	var errs []FieldError
	if blank(v.Name) {
		errs = append(errs, missing("name"))
	}
	if !v.Category.Valid() {
		errs = append(errs, invalidEnum("category", v.Category, envCategories))
	}
	return errs
}

func (v EnvVar) Canonical() Payload { return v }

// CriticalPath is a user journey whose regressions matter most.
// Coverage is curator-owned: once a reviewer sets it, extraction never overwrites it.
type CriticalPath struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority"`
	Steps       []string `json:"steps"`
	Files       []string `json:"files"`
	Features    []string `json:"features"`
	Coverage    *int     `json:"coverage,omitempty"`
}

// Curator-owned critical path fields.
const FieldCoverage = "coverage"

func (CriticalPath) Domain() Domain { return DomainCriticalPaths }

func (c CriticalPath) Check() []FieldError {
	var errs []FieldError
	if blank(c.Name) {
		errs = append(errs, missing("name"))
	}
	if !c.Priority.Valid() {
		errs = append(errs, invalidEnum("priority", c.Priority, priorities))
	}
	return errs
}

func (c CriticalPath) Canonical() Payload {
	c.Steps = emptyIfNil(c.Steps)
	c.Files = emptyIfNil(c.Files)
	c.Features = emptyIfNil(c.Features)
	return c
}

func (c CriticalPath) References() []Reference {
	refs := make([]Reference, 0, len(c.Features)+len(c.Files))
	for _, slug := range c.Features {
		refs = append(refs, Reference{Field: "features", Domain: DomainFeatures, ID: slug})
	}
	for _, path := range c.Files {
		refs = append(refs, Reference{Field: "files", ID: path, Soft: true})
	}
	return refs
}

func (CriticalPath) CuratorFields() []string { return []string{FieldCoverage} }

func (c CriticalPath) CuratorSet(field string) bool {
	return field == FieldCoverage && c.Coverage != nil
}

func (c CriticalPath) CuratorEqual(field string, other Payload) bool {
	o, ok := other.(CriticalPath)
	if !ok || field != FieldCoverage {
		return false
	}
	if c.Coverage == nil || o.Coverage == nil {
		return c.Coverage == nil && o.Coverage == nil
	}
	return *c.Coverage == *o.Coverage
}

func (c CriticalPath) WithCurator(field string, src Payload) Payload {
	if s, ok := src.(CriticalPath); ok && field == FieldCoverage {
		c.Coverage = copyInt(s.Coverage)
	}
	return c
}

func (c CriticalPath) WithoutCurator(field string) Payload {
	if field == FieldCoverage {
		c.Coverage = nil
	}
	return c
}

// Feature is one entry of the feature list. DependsOn and Blocks reference other
// features by slug and must form a directed acyclic graph.
type Feature struct {
	Slug        string        `json:"slug"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      FeatureStatus `json:"status"`
	Priority    Priority      `json:"priority"`
	DependsOn   []string      `json:"depends_on"`
	Blocks      []string      `json:"blocks"`
}

func (Feature) Domain() Domain { return DomainFeatures }

func (f Feature) Check() []FieldError {
	var errs []FieldError
	if blank(f.Name) {
		errs = append(errs, missing("name"))
	}
	if blank(f.Slug) {
		errs = append(errs, missing("slug"))
	}
	if !f.Status.Valid() {
		errs = append(errs, invalidEnum("status", f.Status, featureStatuses))
	}
	if !f.Priority.Valid() {
		errs = append(errs, invalidEnum("priority", f.Priority, priorities))
	}
	return errs
}

func (f Feature) Canonical() Payload {
	f.DependsOn = emptyIfNil(f.DependsOn)
	f.Blocks = emptyIfNil(f.Blocks)
	return f
}

func (f Feature) References() []Reference {
	refs := make([]Reference, 0, len(f.DependsOn)+len(f.Blocks))
	for _, slug := range f.DependsOn {
		refs = append(refs, Reference{Field: "depends_on", Domain: DomainFeatures, ID: slug})
	}
	for _, slug := range f.Blocks {
		refs = append(refs, Reference{Field: "blocks", Domain: DomainFeatures, ID: slug})
	}
	return refs
}

// Edges returns depends_on edges as declared and blocks edges reversed:
// A.blocks=[B] means B depends on A.
func (f Feature) Edges(id string) []Edge {
	edges := make([]Edge, 0, len(f.DependsOn)+len(f.Blocks))
	for _, slug := range f.DependsOn {
		edges = append(edges, Edge{From: id, To: slug, Field: "depends_on"})
	}
	for _, slug := range f.Blocks {
		edges = append(edges, Edge{From: slug, To: id, Field: "blocks"})
	}
	return edges
}

// Issue is one quality issue. Resolved and ResolvedAt are curator-owned.
type Issue struct {
	Title       string     `json:"title"`
	IssueType   IssueType  `json:"issue_type"`
	Severity    Severity   `json:"severity"`
	File        string     `json:"file,omitempty"`
	Line        int        `json:"line,omitempty"`
	Description string     `json:"description,omitempty"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Curator-owned issue fields.
const (
	FieldResolved   = "resolved"
	FieldResolvedAt = "resolved_at"
)

func (Issue) Domain() Domain { return DomainIssues }

func (i Issue) Check() []FieldError {
	var errs []FieldError
	if blank(i.Title) {
		errs = append(errs, missing("title"))
	}
	switch {
	case blank(string(i.IssueType)):
		errs = append(errs, missing("issue_type"))
	case !i.IssueType.Valid():
		errs = append(errs, invalidEnum("issue_type", i.IssueType, issueTypes))
	}
	if !i.Severity.Valid() {
		errs = append(errs, invalidEnum("severity", i.Severity, severities))
	}
	return errs
}

func (i Issue) Canonical() Payload { return i }

func (Issue) CuratorFields() []string { return []string{FieldResolved, FieldResolvedAt} }

func (i Issue) CuratorSet(field string) bool {
	switch field {
	case FieldResolved:
		return i.Resolved
	case FieldResolvedAt:
		return i.ResolvedAt != nil
	}
	return false
}

func (i Issue) CuratorEqual(field string, other Payload) bool {
	o, ok := other.(Issue)
	if !ok {
		return false
	}
	switch field {
	case FieldResolved:
		return i.Resolved == o.Resolved
	case FieldResolvedAt:
		return timesEqual(i.ResolvedAt, o.ResolvedAt)
	}
	return false
}

func (i Issue) WithCurator(field string, src Payload) Payload {
	s, ok := src.(Issue)
	if !ok {
		return i
	}
	switch field {
	case FieldResolved:
		i.Resolved = s.Resolved
	case FieldResolvedAt:
		i.ResolvedAt = copyTime(s.ResolvedAt)
	}
	return i
}

func (i Issue) WithoutCurator(field string) Payload {
	switch field {
	case FieldResolved:
		i.Resolved = false
	case FieldResolvedAt:
		i.ResolvedAt = nil
	}
	return i
}

// ArchiveFlag reports whether the issue is resolved.
func (i Issue) ArchiveFlag() bool { return i.Resolved }

// Lesson is one lesson learned. IsAddressed and AddressedAt are curator-owned.
type Lesson struct {
	Title       string         `json:"title"`
	Category    LessonCategory `json:"category"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description,omitempty"`
	IsAddressed bool           `json:"is_addressed"`
	AddressedAt *time.Time     `json:"addressed_at,omitempty"`
}

// Curator-owned lesson fields.
const (
	FieldIsAddressed = "is_addressed"
	FieldAddressedAt = "addressed_at"
)

func (Lesson) Domain() Domain { return DomainLessons }

func (l Lesson) Check() []FieldError {
	var errs []FieldError
	if blank(l.Title) {
		errs = append(errs, missing("title"))
	}
	if !l.Category.Valid() {
		errs = append(errs, invalidEnum("category", l.Category, lessonCategories))
	}
	if !l.Severity.Valid() {
		errs = append(errs, invalidEnum("severity", l.Severity, severities))
	}
	return errs
}

func (l Lesson) Canonical() Payload { return l }

func (Lesson) CuratorFields() []string { return []string{FieldIsAddressed, FieldAddressedAt} }

func (l Lesson) CuratorSet(field string) bool {
	switch field {
	case FieldIsAddressed:
		return l.IsAddressed
	case FieldAddressedAt:
		return l.AddressedAt != nil
	}
	return false
}

func (l Lesson) CuratorEqual(field string, other Payload) bool {
	o, ok := other.(Lesson)
	if !ok {
		return false
	}
	switch field {
	case FieldIsAddressed:
		return l.IsAddressed == o.IsAddressed
	case FieldAddressedAt:
		return timesEqual(l.AddressedAt, o.AddressedAt)
	}
	return false
}

func (l Lesson) WithCurator(field string, src Payload) Payload {
	s, ok := src.(Lesson)
	if !ok {
		return l
	}
	switch field {
	case FieldIsAddressed:
		l.IsAddressed = s.IsAddressed
	case FieldAddressedAt:
		l.AddressedAt = copyTime(s.AddressedAt)
	}
	return l
}

func (l Lesson) WithoutCurator(field string) Payload {
	switch field {
	case FieldIsAddressed:
		l.IsAddressed = false
	case FieldAddressedAt:
		l.AddressedAt = nil
	}
	return l
}

// ArchiveFlag reports whether the lesson has been addressed.
func (l Lesson) ArchiveFlag() bool { return l.IsAddressed }

// DesignToken is one design system token.
type DesignToken struct {
	Name   string    `json:"name"`
	Type   TokenType `json:"type"`
	Value  string    `json:"value"`
	Source string    `json:"source,omitempty"`
}

func (DesignToken) Domain() Domain { return DomainDesignTokens }

func (t DesignToken) Check() []FieldError {
	var errs []FieldError
	if blank(t.Name) {
		errs = append(errs, missing("name"))
	}
	switch {
	case blank(string(t.Type)):
		errs = append(errs, missing("type"))
	case !t.Type.Valid():
		errs = append(errs, invalidEnum("type", t.Type, tokenTypes))
	}
	if blank(t.Value) {
		errs = append(errs, missing("value"))
	}
	return errs
}

func (t DesignToken) Canonical() Payload { return t }

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
