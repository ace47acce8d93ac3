package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"livedetect/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "journal.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func startRun(t *testing.T, db *DB, id string, started time.Time) {
	t.Helper()
	run := &models.Run{ID: id, Source: "0", Model: "yolov8n.onnx", StartedAt: started}
	if err := NewRunRepository(db).Start(run); err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}
}

func detection(runID string, seq uint64, name string, at time.Time) models.Detection {
	return models.Detection{
		RunID:      runID,
		FrameSeq:   seq,
		Timestamp:  at,
		ClassID:    5,
		ObjectName: name,
		Confidence: 0.91,
		X1:         270,
		Y1:         280,
		X2:         370,
		Y2:         360,
	}
}

func TestDatabase_CreatesFileAndDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestDatabase_MigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		db, err := New(path)
		if err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
		db.Close()
	}
}

func TestRunRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewRunRepository(db)
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)

	startRun(t, db, "run-1", started)

	run, err := repo.GetByID("run-1")
	if err != nil || run == nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if run.EndedAt != nil {
		t.Error("new run should not have an end time")
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, started)
	}

	ended := started.Add(30 * time.Second)
	if err := repo.Finish("run-1", ended); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	run, _ = repo.GetByID("run-1")
	if run.EndedAt == nil || !run.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", run.EndedAt, ended)
	}

	if err := repo.Finish("missing", ended); err == nil {
		t.Error("expected error finishing unknown run")
	}
	if missing, err := repo.GetByID("missing"); err != nil || missing != nil {
		t.Errorf("expected nil run for unknown id, got %v, %v", missing, err)
	}
}

func TestRunRepository_GetAllNewestFirst(t *testing.T) {
	db := newTestDB(t)
	base := time.Now().UTC()
	startRun(t, db, "old", base.Add(-time.Hour))
	startRun(t, db, "new", base)

	runs, err := NewRunRepository(db).GetAll()
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "old" {
		t.Errorf("unexpected run order: %+v", runs)
	}
}

func TestDetectionRepository_InsertBatchAndRead(t *testing.T) {
	db := newTestDB(t)
	repo := NewDetectionRepository(db)
	base := time.Now().UTC()
	startRun(t, db, "run-1", base)
	startRun(t, db, "run-2", base)

	batch := []models.Detection{
		detection("run-1", 1, "bus", base),
		detection("run-1", 1, "person", base),
		detection("run-1", 4, "person", base.Add(time.Second)),
		detection("run-2", 2, "car", base.Add(2*time.Second)),
	}
	if err := repo.InsertBatch(batch); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	total, err := repo.GetTotalCount()
	if err != nil || total != 4 {
		t.Errorf("expected 4 detections, got %d (%v)", total, err)
	}

	byRun, err := repo.GetByRun("run-1")
	if err != nil {
		t.Fatalf("GetByRun failed: %v", err)
	}
	if len(byRun) != 3 {
		t.Fatalf("expected 3 detections for run-1, got %d", len(byRun))
	}
	first := byRun[0]
	if first.ObjectName != "bus" || first.FrameSeq != 1 || first.X2 != 370 || first.Confidence != 0.91 {
		t.Errorf("unexpected first detection %+v", first)
	}

	recent, err := repo.GetRecent(2)
	if err != nil {
		t.Fatalf("GetRecent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ObjectName != "car" || recent[1].FrameSeq != 4 {
		t.Errorf("unexpected recent detections %+v", recent)
	}

	if none, _ := repo.GetRecent(0); len(none) != 0 {
		t.Error("expected no detections for limit 0")
	}
}

func TestDetectionRepository_CountByClass(t *testing.T) {
	db := newTestDB(t)
	repo := NewDetectionRepository(db)
	now := time.Now().UTC()
	startRun(t, db, "run-1", now)

	repo.InsertBatch([]models.Detection{
		detection("run-1", 1, "person", now),
		detection("run-1", 2, "person", now),
		detection("run-1", 2, "bus", now),
	})

	counts, err := repo.CountByClass()
	if err != nil {
		t.Fatalf("CountByClass failed: %v", err)
	}
	want := []models.ClassCount{{ObjectName: "person", Count: 2}, {ObjectName: "bus", Count: 1}}
	if len(counts) != len(want) {
		t.Fatalf("expected %v, got %v", want, counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestDetectionRepository_DeleteByRun(t *testing.T) {
	db := newTestDB(t)
	repo := NewDetectionRepository(db)
	now := time.Now().UTC()
	startRun(t, db, "run-1", now)
	startRun(t, db, "run-2", now)

	repo.InsertBatch([]models.Detection{detection("run-1", 1, "bus", now), detection("run-2", 1, "bus", now)})

	if err := repo.DeleteByRun("run-1"); err != nil {
		t.Fatalf("DeleteByRun failed: %v", err)
	}
	if total, _ := repo.GetTotalCount(); total != 1 {
		t.Errorf("expected 1 detection left, got %d", total)
	}
}

func TestRunRepository_DeleteCascades(t *testing.T) {
	db := newTestDB(t)
	runs := NewRunRepository(db)
	detections := NewDetectionRepository(db)
	now := time.Now().UTC()
	startRun(t, db, "run-1", now)

	if err := detections.InsertBatch([]models.Detection{detection("run-1", 1, "bus", now), detection("run-1", 2, "car", now)}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if err := runs.Delete("run-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if total, _ := detections.GetTotalCount(); total != 0 {
		t.Errorf("expected detections to be deleted with the run, %d left", total)
	}
	if err := runs.Delete("run-1"); err == nil {
		t.Error("expected error deleting a missing run")
	}
}

func TestDetectionRepository_RejectsUnknownRun(t *testing.T) {
	db := newTestDB(t)
	err := NewDetectionRepository(db).InsertBatch([]models.Detection{detection("ghost", 1, "bus", time.Now())})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}
