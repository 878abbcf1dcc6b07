package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/ankisync/internal/anki"
	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/flashcard"
	"github.com/starford/ankisync/internal/notebook"
)

// Candidate is a successfully extracted flashcard and where it came from.
type Candidate struct {
	Document  *notebook.Document
	CellIndex int
	Cell      *notebook.Cell
	Card      *flashcard.Flashcard
}

// Collect extracts every flashcard cell of docs, in document then cell
// order. Cells that fail extraction are returned as CellErrors; with strict
// set the first failure aborts collection instead.
func Collect(docs []*notebook.Document, ex *flashcard.Extractor, strict bool) ([]Candidate, []*flashcard.CellError, error) {
	var (
		candidates []Candidate
		skipped    []*flashcard.CellError
	)
	for _, doc := range docs {
		for i, cell := range doc.Notebook.Cells {
			if !flashcard.IsFlashcard(cell) {
				continue
			}
			card, err := ex.Extract(cell)
			if err != nil {
				cerr := &flashcard.CellError{Document: doc.Path, Index: i, Err: err}
				if strict {
					return nil, nil, cerr
				}
				skipped = append(skipped, cerr)
				continue
			}
			candidates = append(candidates, Candidate{
				Document:  doc,
				CellIndex: i,
				Cell:      cell,
				Card:      card,
			})
		}
	}
	return candidates, skipped, nil
}

// NoteReader fetches the current content of a remote note.
type NoteReader interface {
	NoteFields(ctx context.Context, id string) (anki.Note, error)
}

// Plan is the outcome of planning: one operation per candidate, in
// candidate order, plus remote notes no cell refers to.
type Plan struct {
	Deck       string
	Operations []Operation
	Orphans    []string
	Skipped    []*flashcard.CellError
}

// Pending returns the operations that will touch the remote store.
func (p *Plan) Pending() []Operation {
	var out []Operation
	for _, op := range p.Operations {
		if op.Mutating() {
			out = append(out, op)
		}
	}
	return out
}

// Counts returns the number of operations per kind.
func (p *Plan) Counts() map[Kind]int {
	out := make(map[Kind]int, 4)
	for _, op := range p.Operations {
		out[op.Kind]++
	}
	return out
}

// Documents returns the paths of documents that executing the plan may
// rewrite, in plan order.
func (p *Plan) Documents() []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range p.Operations {
		if !op.Rewrites() || seen[op.Document.Path] {
			continue
		}
		seen[op.Document.Path] = true
		out = append(out, op.Document.Path)
	}
	return out
}

// Planner decides operations against current remote truth.
type Planner struct {
	notes  NoteReader
	logger *slog.Logger
}

// NewPlanner creates a Planner. A nil logger falls back to slog.Default.
func NewPlanner(notes NoteReader, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{notes: notes, logger: logger}
}

// Plan decides one operation per candidate given the ids currently in deck.
// remoteIDs must not contain duplicates; a duplicate aborts planning before
// any remote read. Cards that already carry a known id cost one remote read
// each. Planning never writes to the remote store or to any cell.
func (p *Planner) Plan(ctx context.Context, deck string, candidates []Candidate, remoteIDs []string) (*Plan, error) {
	remote := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		if remote[id] {
			return nil, fmt.Errorf("%w: %s", apperr.ErrDuplicateRemoteID, id)
		}
		remote[id] = true
	}

	plan := &Plan{Deck: deck}
	referenced := make(map[string]string, len(candidates))
	for _, c := range candidates {
		op := Operation{
			Deck:        deck,
			Head:        c.Card.Head,
			Body:        c.Card.Body,
			Attachments: c.Card.Attachments,
			Document:    c.Document,
			CellIndex:   c.CellIndex,
			Cell:        c.Cell,
		}

		id, ok := c.Card.ID()
		switch {
		case !ok:
			op.Kind = Create
		case !remote[id]:
			op.Kind = Recreate
			op.StaleID = id
		default:
			note, err := p.notes.NoteFields(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("reconcile: fetch note %s: %w", id, err)
			}
			op.NoteID = id
			if note.Front == c.Card.Head && note.Back == c.Card.Body {
				op.Kind = NoOp
			} else {
				op.Kind = Update
			}
			if prev, dup := referenced[id]; dup {
				p.logger.Warn("reconcile: note referenced by more than one cell",
					slog.String("id", id),
					slog.String("first", prev),
					slog.String("second", cellRef(c)))
			}
			referenced[id] = cellRef(c)
		}
		plan.Operations = append(plan.Operations, op)
	}

	for _, id := range remoteIDs {
		if _, ok := referenced[id]; !ok {
			plan.Orphans = append(plan.Orphans, id)
		}
	}

	counts := plan.Counts()
	p.logger.Debug("reconcile: planned",
		slog.String("deck", deck),
		slog.Int("create", counts[Create]),
		slog.Int("recreate", counts[Recreate]),
		slog.Int("update", counts[Update]),
		slog.Int("noop", counts[NoOp]),
		slog.Int("orphans", len(plan.Orphans)))
	return plan, nil
}

func cellRef(c Candidate) string {
	return fmt.Sprintf("%s#%d", c.Document.Path, c.CellIndex)
}
