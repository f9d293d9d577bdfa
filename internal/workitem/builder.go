// Package workitem maps intake records onto tracking-system payloads.
package workitem

import "github.com/starford/wigen/internal/models"

// Default work item types and classification.
const (
	DefaultParentType = "Request"
	DefaultChildType  = "Product Backlog Item"
	DefaultAreaPath   = `GTS Architecture\Architecture`
)

// FieldMap holds the patch paths each record field is written to.
type FieldMap struct {
	Title         string `yaml:"title"`
	Description   string `yaml:"description"`
	TaskTag       string `yaml:"task_tag"`
	AreaPath      string `yaml:"area_path"`
	GoverningLink string `yaml:"governing_link"`
	ExternalRef   string `yaml:"external_ref"`
}

// DefaultFieldMap targets the custom GTSKanban process fields.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		Title:         "/fields/System.Title",
		Description:   "/fields/System.Description",
		TaskTag:       "/fields/GTSKanban.TASK",
		AreaPath:      "/fields/System.AreaPath",
		GoverningLink: "/fields/GTSKanban.GBL",
		ExternalRef:   "/fields/GTSKanban.Pyxis",
	}
}

// Builder produces the parent and child payloads for a record.
type Builder struct {
	ParentType string
	ChildType  string
	AreaPath   string
	Fields     FieldMap
}

// NewBuilder returns a Builder with the default types, area path and fields.
func NewBuilder() *Builder {
	return &Builder{
		ParentType: DefaultParentType,
		ChildType:  DefaultChildType,
		AreaPath:   DefaultAreaPath,
		Fields:     DefaultFieldMap(),
	}
}

// Build returns one payload per item type. The payloads carry identical
// operations and differ only in TypeName.
func (b *Builder) Build(rec models.IntakeRecord) (parent, child models.Payload) {
	ops := b.operations(rec)

	parent = models.Payload{TypeName: b.ParentType, Operations: ops}
	child = models.Payload{TypeName: b.ChildType, Operations: append([]models.PatchOperation(nil), ops...)}
	return parent, child
}

func (b *Builder) operations(rec models.IntakeRecord) []models.PatchOperation {
	ops := []models.PatchOperation{
		add(b.Fields.Title, rec.Title),
		add(b.Fields.Description, rec.Description),
		add(b.Fields.TaskTag, rec.TaskTag),
		add(b.Fields.AreaPath, b.AreaPath),
	}
	if rec.HasGoverningLink {
		ops = append(ops, add(b.Fields.GoverningLink, rec.GoverningLink))
	}
	if rec.HasExternalRef {
		ops = append(ops, add(b.Fields.ExternalRef, rec.ExternalRef))
	}
	return ops
}

func add(path string, value any) models.PatchOperation {
	return models.PatchOperation{Op: "add", Path: path, Value: value}
}
