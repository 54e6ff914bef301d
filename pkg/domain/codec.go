package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type payloadDecoder func(json.RawMessage) (Payload, error)

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p.Canonical(), nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p.Canonical(), nil
}

var payloadDecoders = map[Domain]payloadDecoder{
	DomainDependencies:  decodeAs[Dependency],
	DomainSchema:        decodeAs[Table],
	DomainAPI:           decodeAs[Endpoint],
	DomainEnv:           decodeAs[EnvVar],
	DomainCriticalPaths: decodeAs[CriticalPath],
	DomainFeatures:      decodeAs[Feature],
	DomainIssues:        decodeAs[Issue],
	DomainLessons:       decodeAs[Lesson],
	DomainDesignTokens:  decodeAs[DesignToken],
}

type rawRecord struct {
	ID            string          `json:"id"`
	Status        Status          `json:"status"`
	CuratorFields []string        `json:"curator_fields"`
	Provenance    Provenance      `json:"provenance"`
	Payload       json.RawMessage `json:"payload"`
}

type rawDocument struct {
	Domain        Domain          `json:"domain"`
	SchemaVersion int             `json:"schema_version"`
	Version       int64           `json:"document_version"`
	Records       json.RawMessage `json:"records"`
}

// UnmarshalJSON decodes the envelope and dispatches each payload to its domain type.
// A records value that is not an array is rejected.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decode, ok := payloadDecoders[raw.Domain]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, raw.Domain)
	}
	var records []rawRecord
	trimmed := bytes.TrimSpace(raw.Records)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] != '[':
		return fmt.Errorf("%w: records must be an array", ErrInvalidDocument)
	default:
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return fmt.Errorf("decode records: %w", err)
		}
	}
	out := Document{
		Domain:        raw.Domain,
		SchemaVersion: raw.SchemaVersion,
		Version:       raw.Version,
		Records:       make([]Record, 0, len(records)),
	}
	for i, rr := range records {
		payload, err := decode(rr.Payload)
		if err != nil {
			return fmt.Errorf("decode %s record %d (%s): %w", raw.Domain, i, rr.ID, err)
		}
		status := rr.Status
		if status == "" {
			status = StatusActive
		}
		source := rr.Provenance.Source
		if source == "" {
			source = SourceCurator
		}
		out.Records = append(out.Records, Record{
			ID:            rr.ID,
			Status:        status,
			CuratorFields: rr.CuratorFields,
			Provenance:    Provenance{Source: source, LastSeenRun: rr.Provenance.LastSeenRun},
			Payload:       payload,
		})
	}
	*d = out
	return nil
}

// EncodeDocument renders the canonical byte form: two-space indented JSON with a trailing newline.
// Records and nested collections always encode as arrays.
func EncodeDocument(doc Document) ([]byte, error) {
	type plain Document
	out := plain(doc)
	out.Records = make([]Record, len(doc.Records))
	for i, rec := range doc.Records {
		rec = rec.Clone()
		if rec.CuratorFields == nil {
			rec.CuratorFields = []string{}
		}
		if rec.Payload != nil {
			rec.Payload = rec.Payload.Canonical()
		}
		out.Records[i] = rec
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s document: %w", doc.Domain, err)
	}
	return append(data, '\n'), nil
}

// DecodeDocument parses a persisted document.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// PeekVersion reads only the document_version field. Stores use it to enforce compare-and-swap
// without decoding payloads.
func PeekVersion(data []byte) (int64, error) {
	var head struct {
		Version *int64 `json:"document_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if head.Version == nil {
		return 0, fmt.Errorf("%w: missing document_version", ErrInvalidDocument)
	}
	return *head.Version, nil
}

// SameContent reports whether two documents encode to identical records, ignoring their versions.
func SameContent(a, b Document) (bool, error) {
	a.Version, b.Version = 0, 0
	ea, err := EncodeDocument(a)
	if err != nil {
		return false, err
	}
	eb, err := EncodeDocument(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}

// CuratorFieldsOf lists the curator-owned fields of d's payload type.
func CuratorFieldsOf(d Domain) []string {
	decode, ok := payloadDecoders[d]
	if !ok {
		return nil
	}
	p, err := decode(nil)
	if err != nil {
		return nil
	}
	if c, ok := p.(Curated); ok {
		return c.CuratorFields()
	}
	return nil
}
