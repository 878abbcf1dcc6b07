package ledger

import "github.com/starford/ankisync/internal/models"

// Journal records sync runs. Consumers depend on this interface so a
// disabled journal can be swapped in.
type Journal interface {
	StartRun(deck, command string) (string, error)
	RecordOperation(runID string, op models.AppliedOperation) error
	FinishRun(runID string, runErr error) error
	Recent(limit int) ([]models.Run, error)
	Get(runID string) (*models.Run, error)
	Close() error
}

// Verify implementations satisfy Journal at compile time.
var (
	_ Journal = (*DB)(nil)
	_ Journal = Nop{}
)

// Nop is a Journal that records nothing.
type Nop struct{}

func (Nop) StartRun(string, string) (string, error)               { return "", nil }
func (Nop) RecordOperation(string, models.AppliedOperation) error { return nil }
func (Nop) FinishRun(string, error) error                         { return nil }
func (Nop) Recent(int) ([]models.Run, error)                      { return nil, nil }
func (Nop) Get(string) (*models.Run, error)                       { return nil, nil }
func (Nop) Close() error                                          { return nil }
