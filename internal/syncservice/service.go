// Package syncservice coordinates notebooks on disk, the remote deck and the
// journal. The CLI, the HTTP API and the MCP server all go through it.
package syncservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/attachment"
	"github.com/starford/ankisync/internal/flashcard"
	"github.com/starford/ankisync/internal/ledger"
	"github.com/starford/ankisync/internal/models"
	"github.com/starford/ankisync/internal/notebook"
	"github.com/starford/ankisync/internal/reconcile"
	"github.com/starford/ankisync/internal/storage"
)

// Remote is the remote store as the service uses it.
type Remote interface {
	reconcile.NoteReader
	reconcile.NoteWriter
	FindNotes(ctx context.Context, deck string) ([]string, error)
	DeleteNotes(ctx context.Context, ids []string) error
	RequireDeck(ctx context.Context, deck string) error
	CheckModel(ctx context.Context) error
}

// Request selects what to reconcile.
type Request struct {
	Deck string
	// Path is a notebook or directory relative to the store root; empty
	// means every notebook.
	Path string
	// Strict aborts on the first cell that fails extraction.
	Strict bool
}

// Confirm is asked before anything is mutated. Returning false aborts.
type Confirm func(*reconcile.Plan) bool

// Outcome describes a finished (or interrupted) run.
type Outcome struct {
	RunID     string
	Plan      *reconcile.Plan
	Applied   []reconcile.Applied
	Deleted   []string
	Persisted []string
}

// Service coordinates storage, the remote store and the journal.
type Service struct {
	store     storage.Provider
	remote    Remote
	extractor *flashcard.Extractor
	journal   ledger.Journal
	logger    *slog.Logger

	// mu serialises runs that mutate the remote store or notebooks.
	mu sync.Mutex
}

// New creates a Service. A nil journal disables the journal.
func New(store storage.Provider, remote Remote, extractor *flashcard.Extractor, journal ledger.Journal, logger *slog.Logger) *Service {
	if journal == nil {
		journal = ledger.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		remote:    remote,
		extractor: extractor,
		journal:   journal,
		logger:    logger,
	}
}

// Notebooks lists the notebooks under dir, sorted by path.
func (s *Service) Notebooks(dir string) ([]models.DocumentMeta, error) {
	return s.store.List(dir)
}

// Load reads and parses the notebooks selected by path, sorted by path.
func (s *Service) Load(path string) ([]*notebook.Document, error) {
	var paths []string
	if strings.HasSuffix(path, storage.NotebookExt) {
		paths = []string{path}
	} else {
		metas, err := s.store.List(path)
		if err != nil {
			return nil, err
		}
		for _, m := range metas {
			paths = append(paths, m.Path)
		}
	}

	docs := make([]*notebook.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := s.loadOne(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Service) loadOne(path string) (*notebook.Document, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, err
	}
	nb, err := notebook.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("syncservice: %s: %w", path, err)
	}
	return &notebook.Document{Path: path, Notebook: nb}, nil
}

// Plan computes the plan for req without mutating anything.
func (s *Service) Plan(ctx context.Context, req Request) (*reconcile.Plan, error) {
	return s.plan(ctx, req)
}

func (s *Service) plan(ctx context.Context, req Request) (*reconcile.Plan, error) {
	docs, err := s.Load(req.Path)
	if err != nil {
		return nil, err
	}
	candidates, skipped, err := reconcile.Collect(docs, s.extractor, req.Strict)
	if err != nil {
		return nil, err
	}
	for _, cerr := range skipped {
		s.logger.Warn("syncservice: cell skipped",
			slog.String("document", cerr.Document),
			slog.Int("cell", cerr.Index),
			slog.String("kind", flashcard.Kind(cerr)),
			slog.String("error", cerr.Err.Error()))
	}

	ids, err := s.remote.FindNotes(ctx, req.Deck)
	if err != nil {
		return nil, err
	}
	plan, err := reconcile.NewPlanner(s.remote, s.logger).Plan(ctx, req.Deck, candidates, ids)
	if err != nil {
		return nil, err
	}
	plan.Skipped = skipped
	return plan, nil
}

// Sync plans, asks confirm, executes and persists the notebooks whose cells
// received new ids. Documents dirtied before a failure are persisted before
// the failure is returned, so assigned ids are never lost.
func (s *Service) Sync(ctx context.Context, req Request, confirm Confirm) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Plan: plan}
	pending := plan.Pending()
	if len(pending) == 0 {
		return out, nil
	}
	if confirm != nil && !confirm(plan) {
		return out, apperr.ErrAborted
	}

	runID, err := s.journal.StartRun(req.Deck, "sync")
	if err != nil {
		return out, err
	}
	out.RunID = runID

	exec := reconcile.NewExecutor(s.remote,
		reconcile.WithExecLogger(s.logger),
		reconcile.WithObserver(func(a reconcile.Applied) {
			op := models.AppliedOperation{
				Seq:      a.Seq,
				Kind:     a.Kind.String(),
				NoteID:   a.NoteID,
				Document: a.Document,
				Head:     a.Head,
			}
			if err := s.journal.RecordOperation(runID, op); err != nil {
				s.logger.Warn("syncservice: journal write failed", slog.String("error", err.Error()))
			}
		}))

	res, execErr := exec.Execute(ctx, pending)
	out.Applied = res.Applied

	persisted, persistErr := s.persist(res.Dirty)
	out.Persisted = persisted

	runErr := errors.Join(execErr, persistErr)
	if err := s.journal.FinishRun(runID, runErr); err != nil {
		s.logger.Warn("syncservice: journal finish failed", slog.String("error", err.Error()))
	}
	if runErr != nil {
		s.logger.Error("syncservice: sync interrupted, re-run to resume",
			slog.Int("applied", len(out.Applied)),
			slog.Int("persisted", len(persisted)),
			slog.String("error", runErr.Error()))
		return out, runErr
	}
	s.logger.Info("syncservice: sync completed",
		slog.String("deck", req.Deck),
		slog.Int("applied", len(out.Applied)),
		slog.Int("persisted", len(persisted)))
	return out, nil
}

// persist writes every dirty document, continuing past failures so one bad
// write does not lose the ids of the others.
func (s *Service) persist(docs []*notebook.Document) ([]string, error) {
	var (
		written []string
		errs    []error
	)
	for _, doc := range docs {
		data, err := doc.Notebook.Marshal()
		if err == nil {
			err = s.store.Write(doc.Path, data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("syncservice: persist %s: %w", doc.Path, err))
			continue
		}
		written = append(written, doc.Path)
		s.logger.Debug("syncservice: persisted", slog.String("path", doc.Path))
	}
	return written, errors.Join(errs...)
}

// Prune deletes remote notes no cell refers to. Orphans are always computed
// over every notebook, whatever req.Path says. It refuses when some cells
// were skipped unless force is set: a skipped cell may still own a note
// that would otherwise look orphaned.
func (s *Service) Prune(ctx context.Context, req Request, force bool, confirm Confirm) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Path = ""
	req.Strict = false
	plan, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Plan: plan}
	if len(plan.Skipped) > 0 && !force {
		return out, fmt.Errorf("%w: %d cell(s); fix them or force the prune", apperr.ErrSkippedCells, len(plan.Skipped))
	}
	if len(plan.Orphans) == 0 {
		return out, nil
	}
	if confirm != nil && !confirm(plan) {
		return out, apperr.ErrAborted
	}

	runID, err := s.journal.StartRun(req.Deck, "prune")
	if err != nil {
		return out, err
	}
	out.RunID = runID

	delErr := s.remote.DeleteNotes(ctx, plan.Orphans)
	if delErr == nil {
		out.Deleted = plan.Orphans
		for i, id := range plan.Orphans {
			op := models.AppliedOperation{Seq: i + 1, Kind: "delete", NoteID: id}
			if err := s.journal.RecordOperation(runID, op); err != nil {
				s.logger.Warn("syncservice: journal write failed", slog.String("error", err.Error()))
			}
		}
	}
	if err := s.journal.FinishRun(runID, delErr); err != nil {
		s.logger.Warn("syncservice: journal finish failed", slog.String("error", err.Error()))
	}
	if delErr != nil {
		return out, delErr
	}
	s.logger.Info("syncservice: pruned", slog.String("deck", req.Deck), slog.Int("deleted", len(out.Deleted)))
	return out, nil
}

// Check verifies the note model and that deck exists.
func (s *Service) Check(ctx context.Context, deck string) error {
	if err := s.remote.CheckModel(ctx); err != nil {
		return err
	}
	return s.remote.RequireDeck(ctx, deck)
}

// History returns recent journal runs, newest first.
func (s *Service) History(limit int) ([]models.Run, error) {
	return s.journal.Recent(limit)
}

// RunDetail returns one journal run with its operations.
func (s *Service) RunDetail(id string) (*models.Run, error) {
	return s.journal.Get(id)
}

// Preview is the extraction result of a single cell.
type Preview struct {
	Document    string                           `json:"document"`
	Cell        int                              `json:"cell"`
	ID          string                           `json:"id,omitempty"`
	Head        string                           `json:"head"`
	Body        string                           `json:"body"`
	Attachments map[string]attachment.ContentRef `json:"attachments,omitempty"`
}

// PreviewCell errors.
var (
	ErrNotFlashcard = errors.New("cell is not a flashcard")
	ErrNoSuchCell   = errors.New("no such cell")
)

// PreviewCell extracts one cell of a notebook without touching the remote
// store.
func (s *Service) PreviewCell(path string, index int) (*Preview, error) {
	doc, err := s.loadOne(path)
	if err != nil {
		return nil, err
	}
	cells := doc.Notebook.Cells
	if index < 0 || index >= len(cells) {
		return nil, fmt.Errorf("%w: %s has %d cells, no cell %d", ErrNoSuchCell, path, len(cells), index)
	}
	cell := cells[index]
	if !flashcard.IsFlashcard(cell) {
		return nil, ErrNotFlashcard
	}
	card, err := s.extractor.Extract(cell)
	if err != nil {
		return nil, &flashcard.CellError{Document: path, Index: index, Err: err}
	}
	p := &Preview{
		Document:    path,
		Cell:        index,
		Head:        card.Head,
		Body:        card.Body,
		Attachments: card.Attachments,
	}
	p.ID, _ = card.ID()
	return p, nil
}
