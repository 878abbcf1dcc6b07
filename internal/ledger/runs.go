package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/ankisync/internal/models"
)

// StartRun opens a new run in the running state and returns its id.
func (db *DB) StartRun(deck, command string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(`
		INSERT INTO runs (id, deck, command, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, deck, command, models.RunRunning, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("ledger: start run: %w", err)
	}
	return id, nil
}

// RecordOperation appends an applied operation to a run.
func (db *DB) RecordOperation(runID string, op models.AppliedOperation) error {
	_, err := db.conn.Exec(`
		INSERT INTO operations (run_id, seq, kind, note_id, document, head)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, op.Seq, op.Kind, op.NoteID, op.Document, op.Head)
	if err != nil {
		return fmt.Errorf("ledger: record operation: %w", err)
	}
	return nil
}

// FinishRun closes a run. A nil runErr marks it completed, anything else
// interrupted with the error text kept.
func (db *DB) FinishRun(runID string, runErr error) error {
	status, msg := models.RunCompleted, ""
	if runErr != nil {
		status, msg = models.RunInterrupted, runErr.Error()
	}
	res, err := db.conn.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, status, msg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: finish run: unknown run %s", runID)
	}
	return nil
}

// Recent returns the latest runs, newest first, without their operations.
func (db *DB) Recent(limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT r.id, r.deck, r.command, r.status, r.error, r.started_at, r.finished_at,
		       (SELECT count(*) FROM operations o WHERE o.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		var run models.Run
		if err := scanRun(rows, &run, &run.OperationCount); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Get returns one run with its operations in order, or nil if unknown.
func (db *DB) Get(runID string) (*models.Run, error) {
	row := db.conn.QueryRow(`
		SELECT id, deck, command, status, error, started_at, finished_at, 0
		FROM runs WHERE id = ?
	`, runID)
	var run models.Run
	if err := scanRun(row, &run, &run.OperationCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := db.conn.Query(`
		SELECT seq, kind, note_id, document, head
		FROM operations WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: operations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var op models.AppliedOperation
		if err := rows.Scan(&op.Seq, &op.Kind, &op.NoteID, &op.Document, &op.Head); err != nil {
			return nil, err
		}
		run.Operations = append(run.Operations, op)
	}
	run.OperationCount = len(run.Operations)
	return &run, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner, run *models.Run, count *int) error {
	var finished sql.NullTime
	err := s.Scan(&run.ID, &run.Deck, &run.Command, &run.Status, &run.Error,
		&run.StartedAt, &finished, count)
	if err != nil {
		return err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return nil
}
