// Package models defines the domain types shared across the intake pipeline.
package models

// IntakeRecord is the structured form of one intake-request email.
// TaskTag is never empty; messages without it are filtered before extraction.
type IntakeRecord struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TaskTag     string `json:"task_tag"`

	GoverningLink    string `json:"governing_link,omitempty"`
	HasGoverningLink bool   `json:"has_governing_link"`

	ExternalRef    string `json:"external_ref,omitempty"`
	HasExternalRef bool   `json:"has_external_ref"`
}

// PatchOperation is a single JSON patch field assignment.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Payload is the ordered set of field assignments for one new tracking item.
type Payload struct {
	TypeName   string           `json:"type"`
	Operations []PatchOperation `json:"operations"`
}

// Value returns the value assigned to path, if any.
func (p Payload) Value(path string) (any, bool) {
	for _, op := range p.Operations {
		if op.Path == path {
			return op.Value, true
		}
	}
	return nil, false
}
