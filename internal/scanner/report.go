package scanner

import "time"

// Status is the per-message result of a run.
type Status string

const (
	// StatusSkipped marks a message that is not an intake request. It stays
	// in the mailbox untouched.
	StatusSkipped Status = "skipped"
	// StatusLinked marks a message whose items were created and linked.
	StatusLinked Status = "linked"
	// StatusOrphaned marks a message that was archived but whose items were
	// not created or not linked.
	StatusOrphaned Status = "orphaned"
)

// Stages at which an orphaned message failed.
const (
	StageCreateParent = "create_parent"
	StageCreateChild  = "create_child"
	StageCursor       = "cursor"
	StageLink         = "link"
)

// Outcome describes what happened to one candidate message.
type Outcome struct {
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	TaskTag   string `json:"task_tag,omitempty"`
	Status    Status `json:"status"`
	ParentID  int    `json:"parent_id,omitempty"`
	ChildID   int    `json:"child_id,omitempty"`
	Existing  bool   `json:"existing_link,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report summarizes one run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Candidates int       `json:"candidates"`
	Outcomes   []Outcome `json:"outcomes"`
	// Error is set when the run stopped early.
	Error string `json:"error,omitempty"`
}

// Summary counts outcomes by status.
type Summary struct {
	Skipped  int `json:"skipped"`
	Linked   int `json:"linked"`
	Orphaned int `json:"orphaned"`
}

// Summary counts r's outcomes.
func (r Report) Summary() Summary {
	var s Summary
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSkipped:
			s.Skipped++
		case StatusLinked:
			s.Linked++
		case StatusOrphaned:
			s.Orphaned++
		}
	}
	return s
}

// Orphaned returns the orphaned outcomes.
func (r Report) Orphaned() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusOrphaned {
			out = append(out, o)
		}
	}
	return out
}
