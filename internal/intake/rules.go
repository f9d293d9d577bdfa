// Package intake turns raw intake-request emails into structured records.
package intake

import "strings"

// Rule extracts the text between Label and the next Terminator.
type Rule struct {
	Name       string
	Label      string
	Terminator string
}

// Field is the outcome of applying one rule. Present distinguishes an
// absent label from a label followed by an empty value.
type Field struct {
	Value   string
	Present bool
}

// Rules is an ordered extraction ruleset.
type Rules []Rule

// Rule names used by Extract.
const (
	FieldTitle         = "title"
	FieldGoverningLink = "governing_link"
	FieldExternalRef   = "external_ref"
)

const lineBreak = "<br>"

// DefaultRules matches the intake request email template.
var DefaultRules = Rules{
	{Name: FieldTitle, Label: "Request Name: ", Terminator: lineBreak},
	{Name: FieldGoverningLink, Label: "GBL#: ", Terminator: lineBreak},
	{Name: FieldExternalRef, Label: "PyxIS#: ", Terminator: lineBreak},
}

// Apply runs every rule against body. A rule whose label is missing yields a
// zero Field; a label without a terminator takes the rest of the body.
func (rs Rules) Apply(body string) map[string]Field {
	out := make(map[string]Field, len(rs))
	for _, r := range rs {
		out[r.Name] = r.Apply(body)
	}
	return out
}

// Apply extracts a single field from body.
func (r Rule) Apply(body string) Field {
	i := strings.Index(body, r.Label)
	if i < 0 {
		return Field{}
	}
	rest := body[i+len(r.Label):]
	if r.Terminator != "" {
		if j := strings.Index(rest, r.Terminator); j >= 0 {
			rest = rest[:j]
		}
	}
	return Field{Value: rest, Present: true}
}
