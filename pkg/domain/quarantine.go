package domain

import "fmt"

// Reason is the closed set of per-record rejection codes.
type Reason string

// Quarantine reason codes.
const (
	ReasonInvalidEnum           Reason = "InvalidEnum"
	ReasonMissingRequiredField  Reason = "MissingRequiredField"
	ReasonDuplicateIdentity     Reason = "DuplicateIdentity"
	ReasonDanglingHardReference Reason = "DanglingHardReference"
	ReasonCycleDetected         Reason = "CycleDetected"
)

// FieldError is a single per-record schema violation reported by Payload.Check.
type FieldError struct {
	Field  string
	Reason Reason
	Detail string
}

func (e FieldError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Field, e.Reason, e.Detail)
}

func missing(field string) FieldError {
	return FieldError{Field: field, Reason: ReasonMissingRequiredField}
}

func invalidEnum[T ~string](field string, value T, set enumSet[T]) FieldError {
	return FieldError{
		Field:  field,
		Reason: ReasonInvalidEnum,
		Detail: fmt.Sprintf("%q not in %s", string(value), set.String()),
	}
}

// Quarantine describes a candidate record rejected from persistence.
// Index is the candidate's position in the extraction run.
type Quarantine struct {
	ID     string   `json:"id"`
	Index  int      `json:"index"`
	Reason Reason   `json:"reason"`
	Field  string   `json:"field,omitempty"`
	Detail string   `json:"detail,omitempty"`
	Cycle  []string `json:"cycle,omitempty"`
}

// Warning is a non-fatal finding such as a dangling soft reference.
type Warning struct {
	ID     string `json:"id"`
	Field  string `json:"field"`
	Detail string `json:"detail"`
}
