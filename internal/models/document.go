// Package models defines types shared between the sync engine's outer layers.
package models

import "time"

// DocumentMeta is a lightweight description of a notebook on disk.
type DocumentMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run statuses.
const (
	RunRunning     = "running"
	RunCompleted   = "completed"
	RunInterrupted = "interrupted"
)

// Run is one recorded execution of a sync or prune.
type Run struct {
	ID         string     `json:"id"`
	Deck       string     `json:"deck"`
	Command    string     `json:"command"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// OperationCount is filled when Operations is not loaded.
	OperationCount int                `json:"operation_count"`
	Operations     []AppliedOperation `json:"operations,omitempty"`
}

// AppliedOperation is a single remote mutation performed during a run.
type AppliedOperation struct {
	Seq      int    `json:"seq"`
	Kind     string `json:"kind"`
	NoteID   string `json:"note_id"`
	Document string `json:"document,omitempty"`
	Head     string `json:"head,omitempty"`
}
