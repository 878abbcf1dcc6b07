package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/flashcard"
	"github.com/starford/ankisync/internal/notebook"
)

// NoteWriter is the part of the remote store the Executor mutates.
type NoteWriter interface {
	AddNote(ctx context.Context, deck, front, back string) (string, error)
	UpdateNote(ctx context.Context, id, front, back string) error
	MediaExists(ctx context.Context, name string) (bool, error)
	StoreMedia(ctx context.Context, name, payload string) error
}

// Applied describes one operation the remote store accepted.
type Applied struct {
	Seq      int
	Kind     Kind
	NoteID   string
	Document string
	Head     string
}

// Result reports what an execution pass did. Dirty lists the documents whose
// cell sources were rewritten, in the order they were first touched; only
// those need persisting.
type Result struct {
	Applied []Applied
	Dirty   []*notebook.Document
}

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// WithObserver registers fn to be called after every applied operation.
func WithObserver(fn func(Applied)) ExecOption {
	return func(e *Executor) { e.observe = fn }
}

// WithExecLogger sets a custom logger.
func WithExecLogger(l *slog.Logger) ExecOption {
	return func(e *Executor) { e.logger = l }
}

// Executor applies planned operations one at a time, in order.
type Executor struct {
	notes   NoteWriter
	observe func(Applied)
	logger  *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(notes NoteWriter, opts ...ExecOption) *Executor {
	e := &Executor{notes: notes, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute applies ops. The first failing operation halts the pass and its
// error is returned together with everything applied so far: remote
// creations are not rolled back, and documents already marked dirty still
// carry ids that must be persisted. Re-running plan then execute resumes.
//
// Create and Recreate rewrite the metadata block of their own cell. No
// other cell or document is modified. A created note counts as applied
// before its media is uploaded. If an upload fails, the next plan sees the
// note in sync and the upload is not retried: media is only sent with new
// notes.
func (e *Executor) Execute(ctx context.Context, ops []Operation) (*Result, error) {
	res := &Result{}
	dirty := make(map[*notebook.Document]bool)

	for i := range ops {
		op := &ops[i]
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var err error
		switch op.Kind {
		case NoOp:
			continue
		case Create, Recreate:
			err = e.create(ctx, op, dirty, res)
		case Update:
			err = e.notes.UpdateNote(ctx, op.NoteID, op.Head, op.Body)
		default:
			err = fmt.Errorf("%w: %v", apperr.ErrUnknownOperation, op.Kind)
		}
		if err != nil {
			return res, fmt.Errorf("reconcile: %s %s#%d: %w", op.Kind, docPath(op), op.CellIndex, err)
		}
		e.record(op, res)

		if op.Kind == Create || op.Kind == Recreate {
			if err := e.storeMedia(ctx, op); err != nil {
				return res, fmt.Errorf("reconcile: %s %s#%d: %w", op.Kind, docPath(op), op.CellIndex, err)
			}
		}
	}
	return res, nil
}

func (e *Executor) record(op *Operation, res *Result) {
	a := Applied{
		Seq:      len(res.Applied) + 1,
		Kind:     op.Kind,
		NoteID:   op.NoteID,
		Document: docPath(op),
		Head:     op.Head,
	}
	res.Applied = append(res.Applied, a)
	e.logger.Info("executor: applied",
		slog.String("kind", op.Kind.String()),
		slog.String("id", op.NoteID),
		slog.String("document", a.Document))
	if e.observe != nil {
		e.observe(a)
	}
}

// create adds the note and records the new id in the cell. op.NoteID is set
// to the new id.
func (e *Executor) create(ctx context.Context, op *Operation, dirty map[*notebook.Document]bool, res *Result) error {
	id, err := e.notes.AddNote(ctx, op.Deck, op.Head, op.Body)
	if err != nil {
		return err
	}
	op.NoteID = id

	before := op.Cell.Source.String()
	after := flashcard.PutMeta(before, id)
	if after != before {
		op.Cell.Source.Set(after)
		if op.Document != nil && !dirty[op.Document] {
			dirty[op.Document] = true
			res.Dirty = append(res.Dirty, op.Document)
		}
	}
	return nil
}

// storeMedia uploads the attachments of op the remote store does not hold
// yet.
func (e *Executor) storeMedia(ctx context.Context, op *Operation) error {
	names := make([]string, 0, len(op.Attachments))
	for name := range op.Attachments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ref := op.Attachments[name]
		ok, err := e.notes.MediaExists(ctx, ref.Hash)
		if err != nil {
			return fmt.Errorf("media %s: %w", name, err)
		}
		if ok {
			continue
		}
		if err := e.notes.StoreMedia(ctx, ref.Hash, ref.Payload); err != nil {
			return fmt.Errorf("media %s: %w", name, err)
		}
	}
	return nil
}

func docPath(op *Operation) string {
	if op.Document == nil {
		return ""
	}
	return op.Document.Path
}
