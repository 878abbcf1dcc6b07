package ledger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/starford/ankisync/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	for _, table := range []string{"runs", "operations"} {
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)
	id, err := db.StartRun("Go", "sync")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	ops := []models.AppliedOperation{
		{Seq: 1, Kind: "create", NoteID: "1", Document: "a.ipynb", Head: "Q1"},
		{Seq: 2, Kind: "update", NoteID: "2", Document: "a.ipynb", Head: "Q2"},
	}
	for _, op := range ops {
		if err := db.RecordOperation(id, op); err != nil {
			t.Fatalf("RecordOperation: %v", err)
		}
	}

	run, err := db.Get(id)
	if err != nil || run == nil {
		t.Fatalf("Get: %v, %v", run, err)
	}
	if run.Status != models.RunRunning || run.FinishedAt != nil {
		t.Errorf("unfinished run = %+v", run)
	}

	if err := db.FinishRun(id, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	run, _ = db.Get(id)
	if run.Status != models.RunCompleted || run.FinishedAt == nil || run.Error != "" {
		t.Errorf("finished run = %+v", run)
	}
	if len(run.Operations) != 2 || run.Operations[1].Head != "Q2" || run.OperationCount != 2 {
		t.Errorf("operations = %+v", run.Operations)
	}
}

func TestInterruptedRun(t *testing.T) {
	db := testDB(t)
	id, _ := db.StartRun("Go", "sync")
	if err := db.FinishRun(id, errors.New("remote store error: boom")); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	run, _ := db.Get(id)
	if run.Status != models.RunInterrupted || run.Error != "remote store error: boom" {
		t.Errorf("run = %+v", run)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	db := testDB(t)
	if err := db.FinishRun("missing", nil); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestGetUnknownRun(t *testing.T) {
	db := testDB(t)
	run, err := db.Get("missing")
	if err != nil || run != nil {
		t.Errorf("Get = %v, %v", run, err)
	}
}

func TestRecent(t *testing.T) {
	db := testDB(t)
	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := db.StartRun("Go", "sync")
		_ = db.RecordOperation(id, models.AppliedOperation{Seq: 1, Kind: "create"})
		_ = db.FinishRun(id, nil)
		ids = append(ids, id)
	}
	runs, err := db.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[0].OperationCount != 1 || runs[0].Operations != nil {
		t.Errorf("run = %+v", runs[0])
	}
}

func TestDuplicateSeqRejected(t *testing.T) {
	db := testDB(t)
	id, _ := db.StartRun("Go", "sync")
	op := models.AppliedOperation{Seq: 1, Kind: "create"}
	if err := db.RecordOperation(id, op); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordOperation(id, op); err == nil {
		t.Error("expected unique constraint violation")
	}
}

func TestNop(t *testing.T) {
	var j Journal = Nop{}
	id, err := j.StartRun("Go", "sync")
	if err != nil || id != "" {
		t.Errorf("StartRun = %q, %v", id, err)
	}
	if runs, err := j.Recent(5); err != nil || runs != nil {
		t.Errorf("Recent = %v, %v", runs, err)
	}
}
