package normalize

import (
	"fmt"
	"strings"

	"specsync/pkg/domain"
)

// Slug lowercases s, collapses every run of characters outside [a-z0-9] to a
// single '-', and trims leading and trailing dashes.
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// UnknownEcosystem is assigned to dependencies whose ecosystem was not reported.
const UnknownEcosystem = "unknown"

func dependency(r *reader) (domain.Dependency, string) {
	d := domain.Dependency{
		Name:       r.str("name", "package"),
		Version:    r.str("version"),
		Ecosystem:  r.str("ecosystem", "manager"),
		Scope:      domain.DependencyScope(r.str("scope")),
		License:    r.str("license"),
		Deprecated: r.boolean("deprecated"),
	}
	if d.Ecosystem == "" {
		d.Ecosystem = UnknownEcosystem
	}
	if d.Scope == "" {
		d.Scope = domain.ScopeRuntime
	}
	if d.Name == "" {
		return d, ""
	}
	return d, d.Ecosystem + "/" + d.Name
}

func table(r *reader) (domain.Table, string) {
	t := domain.Table{
		Name:    r.str("name", "table"),
		Indexes: r.list("indexes"),
	}
	for i, raw := range r.objects("columns") {
		c := r.child(raw, fmt.Sprintf("columns[%d].", i))
		col := domain.Column{
			Name:       c.str("name"),
			Type:       c.str("type", "data_type"),
			Nullable:   c.boolean("nullable"),
			PrimaryKey: c.boolean("primary_key", "primaryKey", "pk"),
			Unique:     c.boolean("unique"),
			ForeignKey: foreignKey(c),
		}
		t.Columns = append(t.Columns, col)
	}
	return t, t.Name
}

// foreignKey accepts {table, column} objects and "table.column" strings.
func foreignKey(r *reader) *domain.ForeignKey {
	keys := []string{"foreign_key", "foreignKey", "references"}
	if m, _, ok := r.object(keys...); ok {
		fk := r.child(m, "foreign_key.")
		return &domain.ForeignKey{Table: fk.str("table"), Column: fk.str("column")}
	}
	key, v, ok := r.lookup(keys...)
	if !ok {
		return nil
	}
	s, isString := v.(string)
	if !isString || strings.TrimSpace(s) == "" {
		r.note(key, "ignored %T foreign key", v)
		return nil
	}
	r.note(key, "split table.column string")
	tbl, col, _ := strings.Cut(strings.TrimSpace(s), ".")
	return &domain.ForeignKey{Table: tbl, Column: col}
}

func endpoint(r *reader) (domain.Endpoint, string) {
	e := domain.Endpoint{
		Method:      domain.HTTPMethod(r.str("method", "verb")),
		Path:        r.str("path", "route"),
		Handler:     r.str("handler"),
		Auth:        domain.AuthMode(r.str("auth")),
		Description: r.str("description"),
	}
	if e.Auth == "" {
		e.Auth = domain.AuthNone
	}
	if e.Method == "" || e.Path == "" {
		return e, ""
	}
	return e, string(e.Method) + " " + e.Path
}

func envVar(r *reader) (domain.EnvVar, string) {
	v := domain.EnvVar{
		Name:        r.str("name", "key"),
		Required:    r.boolean("required"),
		Default:     r.str("default"),
		Secret:      r.boolean("secret"),
		Category:    domain.EnvCategory(r.str("category")),
		Description: r.str("description"),
	}
	if v.Category == "" {
		v.Category = domain.EnvCategoryOther
	}
	return v, v.Name
}

// slugs slugifies references so they match feature identities.
func slugs(r *reader, field string, in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		slug := Slug(s)
		if slug != s {
			r.note(field, "slugified reference %q", s)
		}
		if slug != "" {
			out = append(out, slug)
		}
	}
	return out
}

func criticalPath(r *reader) (domain.CriticalPath, string) {
	c := domain.CriticalPath{
		Name:        r.str("name"),
		Description: r.str("description"),
		Priority:    domain.Priority(r.str("priority")),
		Steps:       r.list("steps"),
		Files:       r.list("files"),
		Coverage:    r.optionalInt("coverage"),
	}
	c.Features = slugs(r, "features", r.list("features"))
	if c.Priority == "" {
		c.Priority = domain.PriorityMedium
	}
	return c, Slug(c.Name)
}

func feature(r *reader) (domain.Feature, string) {
	f := domain.Feature{
		Name:        r.str("name", "title"),
		Description: r.str("description"),
		Status:      domain.FeatureStatus(r.str("status")),
		Priority:    domain.Priority(r.str("priority")),
	}
	f.DependsOn = slugs(r, "depends_on", r.list("depends_on", "dependsOn"))
	f.Blocks = slugs(r, "blocks", r.list("blocks"))
	if explicit := r.str("slug"); explicit != "" {
		f.Slug = Slug(explicit)
	} else {
		f.Slug = Slug(f.Name)
	}
	if f.Status == "" {
		f.Status = domain.FeatureImplemented
	}
	if f.Priority == "" {
		f.Priority = domain.PriorityMedium
	}
	return f, f.Slug
}

func issue(r *reader) (domain.Issue, string) {
	i := domain.Issue{
		Title:       r.str("title"),
		IssueType:   domain.IssueType(r.str("issue_type", "type")),
		Severity:    domain.Severity(r.str("severity")),
		File:        r.str("file", "path"),
		Description: r.str("description"),
		Resolved:    r.boolean("resolved"),
		ResolvedAt:  r.timestamp("resolved_at"),
	}
	if line, ok := r.integer("line"); ok {
		i.Line = line
	}
	if i.Severity == "" {
		i.Severity = domain.SeverityMedium
	}
	if id := r.str("id"); id != "" {
		return i, id
	}
	if i.Title == "" || i.IssueType == "" {
		return i, ""
	}
	return i, Slug(string(i.IssueType) + "-" + i.File + "-" + i.Title)
}

func lesson(r *reader) (domain.Lesson, string) {
	l := domain.Lesson{
		Title:       r.str("title"),
		Category:    domain.LessonCategory(r.str("category")),
		Severity:    domain.Severity(r.str("severity")),
		Description: r.str("description"),
		IsAddressed: r.boolean("is_addressed", "addressed"),
		AddressedAt: r.timestamp("addressed_at"),
	}
	if l.Category == "" {
		l.Category = domain.LessonOther
	}
	if l.Severity == "" {
		l.Severity = domain.SeverityInfo
	}
	return l, Slug(l.Title)
}

func designToken(r *reader) (domain.DesignToken, string) {
	t := domain.DesignToken{
		Name:   r.str("name"),
		Type:   domain.TokenType(r.str("type", "token_type")),
		Value:  r.str("value"),
		Source: r.str("source"),
	}
	if t.Name == "" || t.Type == "" {
		return t, ""
	}
	return t, string(t.Type) + "." + t.Name
}
