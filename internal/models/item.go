package models

// ParentRelation is the relation type a child item carries towards its parent.
const ParentRelation = "System.LinkTypes.Hierarchy-Reverse"

// ItemKind classifies a tracking item relative to the configured pair types.
type ItemKind int

const (
	KindOther ItemKind = iota
	KindParent
	KindChild
)

func (k ItemKind) String() string {
	switch k {
	case KindParent:
		return "parent"
	case KindChild:
		return "child"
	default:
		return "other"
	}
}

// Relation is one outgoing link on a tracking item.
type Relation struct {
	Rel      string `json:"rel"`
	URL      string `json:"url"`
	TargetID int    `json:"target_id"`
}

// Item is the read-only view of a tracking-system work item.
type Item struct {
	ID         int        `json:"id"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	TaskTag    string     `json:"task_tag,omitempty"`
	HasTaskTag bool       `json:"has_task_tag"`
	Relations  []Relation `json:"relations,omitempty"`
}

// HasParent reports whether the item already links to parentID as its parent.
func (i *Item) HasParent(parentID int) bool {
	for _, r := range i.Relations {
		if r.Rel == ParentRelation && r.TargetID == parentID {
			return true
		}
	}
	return false
}

// LinkResult identifies a linked parent/child pair.
type LinkResult struct {
	ParentID int `json:"parent_id"`
	ChildID  int `json:"child_id"`
	// Existing is set when the child already carried the parent relation.
	Existing bool `json:"existing,omitempty"`
}
