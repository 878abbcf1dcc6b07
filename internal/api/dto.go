package api

import (
	"github.com/starford/ankisync/internal/models"
	"github.com/starford/ankisync/internal/reconcile"
	"github.com/starford/ankisync/internal/syncservice"
)

// SyncRequest is the request body for POST /api/sync. Sending it is the
// confirmation: the plan computed server-side is executed as is.
type SyncRequest struct {
	Deck   string `json:"deck,omitempty" example:"Go"`
	Path   string `json:"path,omitempty" example:"chapter1.ipynb"`
	Strict bool   `json:"strict,omitempty"`
}

// PruneRequest is the request body for POST /api/prune.
type PruneRequest struct {
	Deck  string `json:"deck,omitempty" example:"Go"`
	Force bool   `json:"force,omitempty"`
}

// PlanResponse is the plan view (aliased from the domain layer).
type PlanResponse = syncservice.PlanSummary

// Preview is a single extracted cell (aliased from the domain layer).
type Preview = syncservice.Preview

// Run is a journal run (aliased from the shared models).
type Run = models.Run

// AppliedOperation is one remote mutation of a run.
type AppliedOperation struct {
	Seq      int    `json:"seq" example:"1" validate:"required"`
	Kind     string `json:"kind" example:"create" validate:"required"`
	NoteID   string `json:"note_id" example:"1700000000001" validate:"required"`
	Document string `json:"document,omitempty" example:"chapter1.ipynb"`
	Head     string `json:"head,omitempty"`
}

// OutcomeResponse describes a finished or interrupted sync or prune.
type OutcomeResponse struct {
	RunID     string             `json:"run_id,omitempty"`
	Plan      PlanResponse       `json:"plan"`
	Applied   []AppliedOperation `json:"applied"`
	Deleted   []string           `json:"deleted"`
	Persisted []string           `json:"persisted"`
	// Error is set when the run was interrupted after some operations were
	// applied. Re-running resumes it.
	Error string `json:"error,omitempty"`
}

// HistoryResponse wraps recent runs.
type HistoryResponse struct {
	Runs []Run `json:"runs" validate:"required"`
}

func newOutcomeResponse(out *syncservice.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		RunID:     out.RunID,
		Applied:   []AppliedOperation{},
		Deleted:   []string{},
		Persisted: []string{},
	}
	if out.Plan != nil {
		resp.Plan = syncservice.Summarize(out.Plan)
	}
	for _, a := range out.Applied {
		resp.Applied = append(resp.Applied, appliedView(a))
	}
	resp.Deleted = append(resp.Deleted, out.Deleted...)
	resp.Persisted = append(resp.Persisted, out.Persisted...)
	return resp
}

func appliedView(a reconcile.Applied) AppliedOperation {
	return AppliedOperation{
		Seq:      a.Seq,
		Kind:     a.Kind.String(),
		NoteID:   a.NoteID,
		Document: a.Document,
		Head:     a.Head,
	}
}
