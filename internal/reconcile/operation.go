// Package reconcile decides and applies the operations that converge a set
// of notebook flashcards with the notes of a remote deck.
//
// Planning is read-only. Execution applies operations strictly in plan
// order and is the only place cell sources are rewritten. Concurrent edits
// of a remote note between planning and execution are not detected: the
// local side wins.
package reconcile

import (
	"fmt"

	"github.com/starford/ankisync/internal/attachment"
	"github.com/starford/ankisync/internal/notebook"
)

// Kind is the closed set of planned operations.
type Kind int

const (
	NoOp Kind = iota
	Create
	Recreate
	Update
)

func (k Kind) String() string {
	switch k {
	case NoOp:
		return "noop"
	case Create:
		return "create"
	case Recreate:
		return "recreate"
	case Update:
		return "update"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText lets Kind appear as a string in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Operation is one planned change. It holds everything needed to run
// without re-extracting the cell, plus back-references to the cell (for the
// id write-back) and its document (for persistence).
type Operation struct {
	Kind Kind
	Deck string
	// NoteID is the remote note targeted by Update and NoOp.
	NoteID string
	// StaleID is the id discarded by Recreate.
	StaleID     string
	Head        string
	Body        string
	Attachments map[string]attachment.ContentRef

	Document  *notebook.Document
	CellIndex int
	Cell      *notebook.Cell
}

// Mutating reports whether executing op touches the remote store.
func (op *Operation) Mutating() bool {
	return op.Kind != NoOp
}

// Rewrites reports whether executing op rewrites the cell's metadata block.
func (op *Operation) Rewrites() bool {
	return op.Kind == Create || op.Kind == Recreate
}
