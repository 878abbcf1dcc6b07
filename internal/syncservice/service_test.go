package syncservice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/ankisync/internal/anki"
	"github.com/starford/ankisync/internal/apperr"
	"github.com/starford/ankisync/internal/flashcard"
	"github.com/starford/ankisync/internal/ledger"
	"github.com/starford/ankisync/internal/models"
	"github.com/starford/ankisync/internal/reconcile"
	"github.com/starford/ankisync/internal/render"
	"github.com/starford/ankisync/internal/testutil"
)

const deck = "Go"

type env struct {
	dir     string
	fake    *testutil.FakeAnki
	journal *ledger.DB
	svc     *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir, store := testutil.TestNotebooks(t)
	fake := testutil.NewFakeAnki(t, deck)
	journal := testutil.TestLedger(t)
	client := anki.New(fake.URL, anki.WithBackoff(time.Millisecond))
	ex := flashcard.NewExtractor(render.NewPipeline(render.Options{}))
	return &env{
		dir:     dir,
		fake:    fake,
		journal: journal,
		svc:     New(store, client, ex, journal, nil),
	}
}

func yes(*reconcile.Plan) bool { return true }
func no(*reconcile.Plan) bool  { return false }

func TestSync_AssignsIDsAndPersists(t *testing.T) {
	e := newEnv(t)
	a := testutil.WriteNotebook(t, e.dir, "a.ipynb",
		testutil.Markdown("# Intro"),
		testutil.Markdown("<!---->\n**What is a goroutine?**\nA lightweight thread."),
	)
	b := testutil.WriteNotebook(t, e.dir, "sub/b.ipynb", testutil.Markdown("plain text only"))
	bBefore, _ := os.ReadFile(b)

	out, err := e.svc.Sync(context.Background(), Request{Deck: deck}, yes)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(out.Applied) != 1 || len(out.Persisted) != 1 || out.Persisted[0] != "a.ipynb" {
		t.Errorf("outcome = %+v", out)
	}

	sources := testutil.ReadNotebook(t, a)
	meta, _, err := flashcard.ParseMeta(sources[1])
	if err != nil {
		t.Fatalf("ParseMeta: %v", err)
	}
	note, ok := e.fake.Note(meta[flashcard.KeyID])
	if !ok || note.Front != "What is a goroutine?" || note.Back != "<p>A lightweight thread.</p>" {
		t.Errorf("remote note = %+v (%v)", note, ok)
	}
	if sources[0] != "# Intro" {
		t.Errorf("unrelated cell changed: %q", sources[0])
	}

	bAfter, _ := os.ReadFile(b)
	if string(bBefore) != string(bAfter) {
		t.Error("untouched notebook was rewritten")
	}

	run, err := e.journal.Get(out.RunID)
	if err != nil || run == nil {
		t.Fatalf("journal Get: %v", err)
	}
	if run.Status != models.RunCompleted || len(run.Operations) != 1 || run.Operations[0].Kind != "create" {
		t.Errorf("run = %+v", run)
	}
}

func TestSync_SecondRunIsNoOp(t *testing.T) {
	e := newEnv(t)
	testutil.WriteNotebook(t, e.dir, "a.ipynb", testutil.Markdown("<!---->**Q** A"))
	if _, err := e.svc.Sync(context.Background(), Request{Deck: deck}, yes); err != nil {
		t.Fatal(err)
	}
	confirmed := false
	out, err := e.svc.Sync(context.Background(), Request{Deck: deck}, func(*reconcile.Plan) bool {
		confirmed = true
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if confirmed {
		t.Error("confirmation asked with nothing to do")
	}
	if out.RunID != "" || len(out.Plan.Pending()) != 0 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestSync_DeclinedChangesNothing(t *testing.T) {
	e := newEnv(t)
	path := testutil.WriteNotebook(t, e.dir, "a.ipynb", testutil.Markdown("<!---->**Q** A"))
	before, _ := os.ReadFile(path)

	_, err := e.svc.Sync(context.Background(), Request{Deck: deck}, no)
	if !errors.Is(err, apperr.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("notebook changed after declining")
	}
	if e.fake.CallCount("addNote") != 0 {
		t.Error("remote mutated after declining")
	}
	if runs, _ := e.journal.Recent(10); len(runs) != 0 {
		t.Errorf("journal runs = %v", runs)
	}
}

func TestSync_PartialFailurePersistsAssignedIDs(t *testing.T) {
	e := newEnv(t)
	a := testutil.WriteNotebook(t, e.dir, "a.ipynb", testutil.Markdown("<!---->**Q1** one"))
	b := testutil.WriteNotebook(t, e.dir, "b.ipynb", testutil.Markdown("<!---->**Q2** two"))
	e.fake.FailAfter("addNote", 1, "collection is not available")

	out, err := e.svc.Sync(context.Background(), Request{Deck: deck}, yes)
	if !errors.Is(err, apperr.ErrRemoteStore) {
		t.Fatalf("err = %v, want ErrRemoteStore", err)
	}
	if len(out.Persisted) != 1 || out.Persisted[0] != "a.ipynb" {
		t.Errorf("persisted = %v", out.Persisted)
	}
	if !strings.Contains(testutil.ReadNotebook(t, a)[0], `"id"`) {
		t.Error("id assigned before the failure was not persisted")
	}
	if strings.Contains(testutil.ReadNotebook(t, b)[0], `"id"`) {
		t.Error("failed cell got an id")
	}

	run, _ := e.journal.Get(out.RunID)
	if run.Status != models.RunInterrupted || len(run.Operations) != 1 {
		t.Errorf("run = %+v", run)
	}

	e.fake.FailAfter("addNote", 1000, "")
	if _, err := e.svc.Sync(context.Background(), Request{Deck: deck}, yes); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if e.fake.NoteCount(deck) != 2 {
		t.Errorf("notes = %d, want 2", e.fake.NoteCount(deck))
	}
}

func TestSync_SkipsMalformedCells(t *testing.T) {
	e := newEnv(t)
	testutil.WriteNotebook(t, e.dir, "a.ipynb",
		testutil.Markdown("<!--{oops}-->**Q1** one"),
		testutil.Markdown("<!---->**Q2** two"),
	)
	out, err := e.svc.Sync(context.Background(), Request{Deck: deck}, yes)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(out.Plan.Skipped) != 1 || out.Plan.Skipped[0].Index != 0 {
		t.Errorf("skipped = %v", out.Plan.Skipped)
	}
	if len(out.Applied) != 1 {
		t.Errorf("applied = %v", out.Applied)
	}

	_, err = e.svc.Plan(context.Background(), Request{Deck: deck, Strict: true})
	if !errors.Is(err, apperr.ErrMalformedMetadata) {
		t.Errorf("strict err = %v", err)
	}
}

func TestPlan_SingleNotebook(t *testing.T) {
	e := newEnv(t)
	testutil.WriteNotebook(t, e.dir, "a.ipynb", testutil.Markdown("<!---->**Q1** one"))
	testutil.WriteNotebook(t, e.dir, "b.ipynb", testutil.Markdown("<!---->**Q2** two"))
	plan, err := e.svc.Plan(context.Background(), Request{Deck: deck, Path: "b.ipynb"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Operations) != 1 || plan.Operations[0].Head != "Q2" {
		t.Errorf("operations = %+v", plan.Operations)
	}
}

func TestPlan_UnknownDeck(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Plan(context.Background(), Request{Deck: "Nope"})
	if !errors.Is(err, apperr.ErrDeckNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestPrune(t *testing.T) {
	e := newEnv(t)
	kept := e.fake.Seed(deck, "Q", "<p>A</p>")
	orphan := e.fake.Seed(deck, "old", "x")
	nested := e.fake.Seed(deck+"::Child", "nested", "x")
	testutil.WriteNotebook(t, e.dir, "a.ipynb", testutil.Markdown(`<!--{"id":"`+kept+`"}-->**Q** A`))

	out, err := e.svc.Prune(context.Background(), Request{Deck: deck}, false, yes)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(out.Deleted) != 1 || out.Deleted[0] != orphan {
		t.Errorf("deleted = %v", out.Deleted)
	}
	if _, ok := e.fake.Note(orphan); ok {
		t.Error("orphan still present")
	}
	if _, ok := e.fake.Note(kept); !ok {
		t.Error("referenced note deleted")
	}
	if _, ok := e.fake.Note(nested); !ok {
		t.Error("subdeck note deleted")
	}
	run, _ := e.journal.Get(out.RunID)
	if run.Command != "prune" || len(run.Operations) != 1 || run.Operations[0].NoteID != orphan {
		t.Errorf("run = %+v", run)
	}
}

func TestPrune_RefusesWithSkippedCells(t *testing.T) {
	e := newEnv(t)
	owned := e.fake.Seed(deck, "Q", "A")
	testutil.WriteNotebook(t, e.dir, "a.ipynb", testutil.Markdown(`<!--{"id":"`+owned+`"}-->no head here`))

	_, err := e.svc.Prune(context.Background(), Request{Deck: deck}, false, yes)
	if !errors.Is(err, apperr.ErrSkippedCells) {
		t.Fatalf("err = %v, want ErrSkippedCells", err)
	}
	if _, ok := e.fake.Note(owned); !ok {
		t.Error("note deleted despite refusal")
	}

	if _, err := e.svc.Prune(context.Background(), Request{Deck: deck}, true, yes); err != nil {
		t.Fatalf("forced prune: %v", err)
	}
	if _, ok := e.fake.Note(owned); ok {
		t.Error("forced prune kept the note")
	}
}

func TestCheck(t *testing.T) {
	e := newEnv(t)
	if err := e.svc.Check(context.Background(), deck); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := e.svc.Check(context.Background(), "Nope"); !errors.Is(err, apperr.ErrDeckNotFound) {
		t.Errorf("missing deck: %v", err)
	}
	e.fake.SetModel("Basic", "Question", "Answer")
	if err := e.svc.Check(context.Background(), deck); !errors.Is(err, apperr.ErrModelMismatch) {
		t.Errorf("bad model: %v", err)
	}
}

func TestPreviewCell(t *testing.T) {
	e := newEnv(t)
	testutil.WriteNotebook(t, e.dir, "a.ipynb",
		testutil.Markdown("# title"),
		testutil.Markdown(`<!--{"id":"7"}-->**Price?** \$30 or $x$`),
	)
	p, err := e.svc.PreviewCell("a.ipynb", 1)
	if err != nil {
		t.Fatalf("PreviewCell: %v", err)
	}
	if p.ID != "7" || p.Head != "Price?" || p.Body != `<p>$30 or \(x\)</p>` {
		t.Errorf("preview = %+v", p)
	}
	if _, err := e.svc.PreviewCell("a.ipynb", 0); !errors.Is(err, ErrNotFlashcard) {
		t.Errorf("plain cell: %v", err)
	}
	if _, err := e.svc.PreviewCell("a.ipynb", 9); !errors.Is(err, ErrNoSuchCell) {
		t.Error("out of range: expected error")
	}
	if _, err := e.svc.PreviewCell("missing.ipynb", 0); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing notebook: %v", err)
	}
}

func TestHistory(t *testing.T) {
	e := newEnv(t)
	testutil.WriteNotebook(t, e.dir, "a.ipynb", testutil.Markdown("<!---->**Q** A"))
	if _, err := e.svc.Sync(context.Background(), Request{Deck: deck}, yes); err != nil {
		t.Fatal(err)
	}
	runs, err := e.svc.History(5)
	if err != nil || len(runs) != 1 || runs[0].OperationCount != 1 {
		t.Errorf("History = %+v, %v", runs, err)
	}
}

func TestNilJournal(t *testing.T) {
	dir, store := testutil.TestNotebooks(t)
	fake := testutil.NewFakeAnki(t, deck)
	svc := New(store, anki.New(fake.URL), flashcard.NewExtractor(render.NewPipeline(render.Options{})), nil, nil)
	testutil.WriteNotebook(t, dir, "a.ipynb", testutil.Markdown("<!---->**Q** A"))
	if _, err := svc.Sync(context.Background(), Request{Deck: deck}, yes); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.ipynb")); err != nil {
		t.Fatal(err)
	}
}
