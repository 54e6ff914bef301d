package domain

import "strings"

// DependencyScope classifies how a dependency is consumed.
type DependencyScope string

// Closed set of dependency scopes.
const (
	ScopeRuntime  DependencyScope = "runtime"
	ScopeDev      DependencyScope = "dev"
	ScopePeer     DependencyScope = "peer"
	ScopeOptional DependencyScope = "optional"
)

// HTTPMethod enumerates the accepted API methods. Values are upper case and matched exactly.
type HTTPMethod string

// Closed set of HTTP methods.
const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodPatch   HTTPMethod = "PATCH"
	MethodDelete  HTTPMethod = "DELETE"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
)

// AuthMode describes whether an endpoint requires authentication.
type AuthMode string

// Closed set of auth modes.
const (
	AuthNone     AuthMode = "none"
	AuthOptional AuthMode = "optional"
	AuthRequired AuthMode = "required"
)

// EnvCategory groups environment variables.
type EnvCategory string

// Closed set of environment variable categories.
const (
	EnvCategoryDatabase       EnvCategory = "database"
	EnvCategoryAuth           EnvCategory = "auth"
	EnvCategoryAPI            EnvCategory = "api"
	EnvCategoryFeatureFlag    EnvCategory = "feature_flag"
	EnvCategoryInfrastructure EnvCategory = "infrastructure"
	EnvCategoryOther          EnvCategory = "other"
)

// Priority ranks critical paths and features.
type Priority string

// Closed set of priorities.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// FeatureStatus tracks feature delivery state.
type FeatureStatus string

// Closed set of feature statuses.
const (
	FeaturePlanned     FeatureStatus = "planned"
	FeatureInProgress  FeatureStatus = "in_progress"
	FeatureImplemented FeatureStatus = "implemented"
	FeatureDeprecated  FeatureStatus = "deprecated"
)

// IssueType classifies quality issues.
type IssueType string

// Closed set of issue types.
const (
	IssueBug             IssueType = "bug"
	IssueSecurity        IssueType = "security"
	IssuePerformance     IssueType = "performance"
	IssueStyle           IssueType = "style"
	IssueMaintainability IssueType = "maintainability"
	IssueAccessibility   IssueType = "accessibility"
	IssueDocumentation   IssueType = "documentation"
	IssueTesting         IssueType = "testing"
)

// Severity ranks issues and lessons.
type Severity string

// Closed set of severities.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// LessonCategory groups lessons learned.
type LessonCategory string

// Closed set of lesson categories.
const (
	LessonArchitecture LessonCategory = "architecture"
	LessonTesting      LessonCategory = "testing"
	LessonPerformance  LessonCategory = "performance"
	LessonSecurity     LessonCategory = "security"
	LessonProcess      LessonCategory = "process"
	LessonTooling      LessonCategory = "tooling"
	LessonOther        LessonCategory = "other"
)

// TokenType classifies design tokens.
type TokenType string

// Closed set of design token types.
const (
	TokenColor      TokenType = "color"
	TokenSpacing    TokenType = "spacing"
	TokenTypography TokenType = "typography"
	TokenRadius     TokenType = "radius"
	TokenShadow     TokenType = "shadow"
	TokenBreakpoint TokenType = "breakpoint"
	TokenZIndex     TokenType = "z_index"
	TokenDuration   TokenType = "duration"
)

type enumSet[T ~string] []T

func (s enumSet[T]) has(v T) bool {
	for _, candidate := range s {
		if candidate == v {
			return true
		}
	}
	return false
}

func (s enumSet[T]) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = string(v)
	}
	return strings.Join(parts, "|")
}

var (
	dependencyScopes = enumSet[DependencyScope]{ScopeRuntime, ScopeDev, ScopePeer, ScopeOptional}
	httpMethods      = enumSet[HTTPMethod]{MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodHead, MethodOptions}
	authModes        = enumSet[AuthMode]{AuthNone, AuthOptional, AuthRequired}
	envCategories    = enumSet[EnvCategory]{EnvCategoryDatabase, EnvCategoryAuth, EnvCategoryAPI, EnvCategoryFeatureFlag, EnvCategoryInfrastructure, EnvCategoryOther}
	priorities       = enumSet[Priority]{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	featureStatuses  = enumSet[FeatureStatus]{FeaturePlanned, FeatureInProgress, FeatureImplemented, FeatureDeprecated}
	issueTypes       = enumSet[IssueType]{IssueBug, IssueSecurity, IssuePerformance, IssueStyle, IssueMaintainability, IssueAccessibility, IssueDocumentation, IssueTesting}
	severities       = enumSet[Severity]{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
	lessonCategories = enumSet[LessonCategory]{LessonArchitecture, LessonTesting, LessonPerformance, LessonSecurity, LessonProcess, LessonTooling, LessonOther}
	tokenTypes       = enumSet[TokenType]{TokenColor, TokenSpacing, TokenTypography, TokenRadius, TokenShadow, TokenBreakpoint, TokenZIndex, TokenDuration}
)

// Valid reports whether the scope belongs to the closed set.
func (s DependencyScope) Valid() bool { return dependencyScopes.has(s) }

// Valid reports whether the method belongs to the closed set.
func (m HTTPMethod) Valid() bool { return httpMethods.has(m) }

// Valid reports whether the auth mode belongs to the closed set.
func (a AuthMode) Valid() bool { return authModes.has(a) }

// Valid reports whether the category belongs to the closed set.
func (c EnvCategory) Valid() bool { return envCategories.has(c) }

// Valid reports whether the priority belongs to the closed set.
func (p Priority) Valid() bool { return priorities.has(p) }

// Valid reports whether the status belongs to the closed set.
func (s FeatureStatus) Valid() bool { return featureStatuses.has(s) }

// Valid reports whether the issue type belongs to the closed set.
func (t IssueType) Valid() bool { return issueTypes.has(t) }

// Valid reports whether the severity belongs to the closed set.
func (s Severity) Valid() bool { return severities.has(s) }

// Valid reports whether the category belongs to the closed set.
func (c LessonCategory) Valid() bool { return lessonCategories.has(c) }

// Valid reports whether the token type belongs to the closed set.
func (t TokenType) Valid() bool { return tokenTypes.has(t) }
