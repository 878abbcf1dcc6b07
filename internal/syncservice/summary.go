package syncservice

import (
	"github.com/starford/ankisync/internal/flashcard"
	"github.com/starford/ankisync/internal/reconcile"
)

// PlannedOperation is a pending operation as exposed to clients.
type PlannedOperation struct {
	Kind     string `json:"kind"`
	Document string `json:"document"`
	Cell     int    `json:"cell"`
	Head     string `json:"head"`
	NoteID   string `json:"note_id,omitempty"`
	StaleID  string `json:"stale_id,omitempty"`
}

// SkippedCell is a cell left out of a plan because extraction failed.
type SkippedCell struct {
	Document string `json:"document"`
	Cell     int    `json:"cell"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// PlanSummary is the client-facing view of a reconcile.Plan.
type PlanSummary struct {
	Deck       string             `json:"deck"`
	InSync     bool               `json:"in_sync"`
	Operations []PlannedOperation `json:"operations"`
	Unchanged  int                `json:"unchanged"`
	Skipped    []SkippedCell      `json:"skipped"`
	Documents  []string           `json:"documents"`
	Orphans    []string           `json:"orphans"`
}

// Summarize flattens plan for JSON clients. NoOp operations are only
// counted.
func Summarize(plan *reconcile.Plan) PlanSummary {
	s := PlanSummary{
		Deck:       plan.Deck,
		Operations: []PlannedOperation{},
		Skipped:    []SkippedCell{},
		Documents:  plan.Documents(),
		Orphans:    plan.Orphans,
		Unchanged:  plan.Counts()[reconcile.NoOp],
	}
	for _, op := range plan.Pending() {
		po := PlannedOperation{
			Kind:    op.Kind.String(),
			Cell:    op.CellIndex,
			Head:    op.Head,
			StaleID: op.StaleID,
		}
		if op.Document != nil {
			po.Document = op.Document.Path
		}
		if op.Kind == reconcile.Update {
			po.NoteID = op.NoteID
		}
		s.Operations = append(s.Operations, po)
	}
	for _, cerr := range plan.Skipped {
		s.Skipped = append(s.Skipped, SkippedCell{
			Document: cerr.Document,
			Cell:     cerr.Index,
			Kind:     flashcard.Kind(cerr),
			Error:    cerr.Err.Error(),
		})
	}
	if s.Documents == nil {
		s.Documents = []string{}
	}
	if s.Orphans == nil {
		s.Orphans = []string{}
	}
	s.InSync = len(s.Operations) == 0
	return s
}
