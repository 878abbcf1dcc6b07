// Package report renders plans, outcomes and journal runs for a terminal.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/starford/ankisync/internal/flashcard"
	"github.com/starford/ankisync/internal/models"
	"github.com/starford/ankisync/internal/reconcile"
	"github.com/starford/ankisync/internal/syncservice"
)

// Printer writes styled reports. Colours are only emitted when w is a
// terminal.
type Printer struct {
	w       io.Writer
	title   lipgloss.Style
	kind    map[reconcile.Kind]lipgloss.Style
	warn    lipgloss.Style
	faint   lipgloss.Style
	success lipgloss.Style
}

// New creates a Printer writing to w.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:     w,
		title: r.NewStyle().Bold(true),
		kind: map[reconcile.Kind]lipgloss.Style{
			reconcile.Create:   r.NewStyle().Foreground(lipgloss.Color("2")),
			reconcile.Recreate: r.NewStyle().Foreground(lipgloss.Color("3")),
			reconcile.Update:   r.NewStyle().Foreground(lipgloss.Color("4")),
			reconcile.NoOp:     r.NewStyle().Faint(true),
		},
		warn:    r.NewStyle().Foreground(lipgloss.Color("1")),
		faint:   r.NewStyle().Faint(true),
		success: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
	}
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Plan prints the operations that would run, the cells that were skipped,
// the notebooks that may be rewritten and the number of orphaned notes.
func (p *Printer) Plan(plan *reconcile.Plan) {
	pending := plan.Pending()
	if len(pending) == 0 {
		p.printf("%s\n", p.success.Render(fmt.Sprintf("Notebooks and deck %q are in sync.", plan.Deck)))
	} else {
		p.printf("%s\n", p.title.Render("Operations required to sync:"))
		for _, op := range pending {
			label := p.kind[op.Kind].Render(fmt.Sprintf("%-8s", op.Kind))
			p.printf("  %s %s  %s%s\n", label, p.faint.Render(fmt.Sprintf("%s#%d", op.Document.Path, op.CellIndex)), op.Head, p.opNote(op))
		}
	}
	if n := plan.Counts()[reconcile.NoOp]; n > 0 {
		p.printf("%s\n", p.faint.Render(fmt.Sprintf("%d card(s) unchanged.", n)))
	}

	if len(plan.Skipped) > 0 {
		p.printf("%s\n", p.warn.Render(fmt.Sprintf("Skipped cells (%d):", len(plan.Skipped))))
		for _, cerr := range plan.Skipped {
			p.printf("  %s#%d  %s: %v\n", cerr.Document, cerr.Index, flashcard.Kind(cerr), cerr.Err)
		}
	}

	if docs := plan.Documents(); len(docs) > 0 {
		p.printf("%s\n", p.title.Render("Files that may be rewritten:"))
		for _, d := range docs {
			p.printf("  + %s\n", d)
		}
	}

	if len(plan.Orphans) > 0 {
		p.printf("%s\n", p.warn.Render(fmt.Sprintf("Orphaned notes in deck: %d (delete with prune)", len(plan.Orphans))))
	}
}

func (p *Printer) opNote(op reconcile.Operation) string {
	switch op.Kind {
	case reconcile.Recreate:
		return p.faint.Render(fmt.Sprintf("  (stale id %s)", op.StaleID))
	case reconcile.Update:
		return p.faint.Render(fmt.Sprintf("  (id %s)", op.NoteID))
	default:
		return ""
	}
}

// Orphans lists the ids a prune would delete.
func (p *Printer) Orphans(plan *reconcile.Plan) {
	if len(plan.Orphans) == 0 {
		p.printf("%s\n", p.success.Render("No orphaned notes."))
		return
	}
	p.printf("%s\n", p.title.Render(fmt.Sprintf("Orphaned notes to delete (%d):", len(plan.Orphans))))
	for _, id := range plan.Orphans {
		p.printf("  - %s\n", id)
	}
	if len(plan.Skipped) > 0 {
		p.printf("%s\n", p.warn.Render(fmt.Sprintf("%d cell(s) were skipped and may still own some of these notes.", len(plan.Skipped))))
	}
}

// Outcome prints what a run did. err is the run's error, if any.
func (p *Printer) Outcome(out *syncservice.Outcome, err error) {
	if out == nil {
		return
	}
	if len(out.Applied) > 0 {
		p.printf("Applied %d operation(s).\n", len(out.Applied))
	}
	if len(out.Deleted) > 0 {
		p.printf("Deleted %d note(s).\n", len(out.Deleted))
	}
	for _, path := range out.Persisted {
		p.printf("  saved %s\n", path)
	}
	if err != nil {
		p.printf("%s\n", p.warn.Render("Run interrupted: "+err.Error()))
		p.printf("%s\n", p.warn.Render("Some operations were applied. Re-run to resume."))
		return
	}
	if out.RunID != "" {
		p.printf("%s\n", p.faint.Render("run "+out.RunID))
	}
}

// Runs prints journal runs as a table.
func (p *Printer) Runs(runs []models.Run) {
	if len(runs) == 0 {
		p.printf("No runs recorded.\n")
		return
	}
	p.printf("%s\n", p.title.Render(fmt.Sprintf("%-36s  %-7s  %-12s  %-11s  %4s  %s", "RUN", "COMMAND", "DECK", "STATUS", "OPS", "STARTED")))
	for _, r := range runs {
		status := r.Status
		if r.Status == models.RunInterrupted {
			status = p.warn.Render(fmt.Sprintf("%-11s", r.Status))
		} else {
			status = fmt.Sprintf("%-11s", status)
		}
		p.printf("%-36s  %-7s  %-12s  %s  %4d  %s\n",
			r.ID, r.Command, truncate(r.Deck, 12), status, r.OperationCount,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if r.Error != "" {
			p.printf("  %s\n", p.faint.Render(r.Error))
		}
	}
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}

// Confirm writes question and reads a y/N answer from in. Anything but y or
// yes declines.
func Confirm(w io.Writer, in io.Reader, question string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", question)
	var answer string
	if _, err := fmt.Fscanln(in, &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
