package intake

import (
	"strings"
	"unicode"

	"github.com/starford/wigen/internal/models"
)

// PlaceholderTitle is used when the body carries no request name.
const PlaceholderTitle = "NEW VSTS WORK ITEM"

const subjectPrefix = "TASK"

// IsIntakeSubject reports whether a subject marks an intake request.
func IsIntakeSubject(subject string) bool {
	return strings.HasPrefix(subject, subjectPrefix)
}

// TaskTag returns the text following the first "TASK" in subject up to the
// first whitespace.
func TaskTag(subject string) (string, bool) {
	i := strings.Index(subject, subjectPrefix)
	if i < 0 {
		return "", false
	}
	rest := subject[i+len(subjectPrefix):]
	if j := strings.IndexFunc(rest, unicode.IsSpace); j >= 0 {
		rest = rest[:j]
	}
	return rest, rest != ""
}

// Extractor applies a ruleset to normalized message bodies.
type Extractor struct {
	rules Rules
}

// NewExtractor returns an Extractor for rules, or DefaultRules when rules is empty.
func NewExtractor(rules Rules) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Extractor{rules: rules}
}

// Extract builds an IntakeRecord from a normalized body and its subject.
// It never fails: missing fields fall back to placeholders.
func (e *Extractor) Extract(body, subject string) models.IntakeRecord {
	fields := e.rules.Apply(body)

	rec := models.IntakeRecord{
		Title:       PlaceholderTitle,
		Description: body,
	}
	if f := fields[FieldTitle]; f.Present {
		rec.Title = f.Value
	}
	rec.TaskTag, _ = TaskTag(subject)

	if f := fields[FieldGoverningLink]; f.Present {
		rec.GoverningLink, rec.HasGoverningLink = f.Value, true
	}
	if f := fields[FieldExternalRef]; f.Present {
		rec.ExternalRef, rec.HasExternalRef = f.Value, true
	}
	return rec
}

// Extract runs the default ruleset.
func Extract(body, subject string) models.IntakeRecord {
	return NewExtractor(nil).Extract(body, subject)
}
