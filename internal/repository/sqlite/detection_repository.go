package sqlite

import (
	"database/sql"
	"fmt"

	"livedetect/internal/models"
)

const detectionColumns = `id, run_id, frame_seq, timestamp, class_id, object_name, confidence, x1, y1, x2, y2`

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []models.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (run_id, frame_seq, timestamp, class_id, object_name, confidence, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(det.RunID, int64(det.FrameSeq), det.Timestamp, det.ClassID, det.ObjectName,
			det.Confidence, det.X1, det.Y1, det.X2, det.Y2); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetRecent returns the newest detections first.
func (r *DetectionRepository) GetRecent(limit int) ([]models.Detection, error) {
	if limit <= 0 {
		return []models.Detection{}, nil
	}

	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT `+detectionColumns+`
		FROM detections ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// GetByRun returns the detections of one run in insertion order.
func (r *DetectionRepository) GetByRun(runID string) ([]models.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT `+detectionColumns+`
		FROM detections WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// CountByClass returns how often each object class was journaled, most frequent first.
func (r *DetectionRepository) CountByClass() ([]models.ClassCount, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT object_name, COUNT(*) FROM detections
		GROUP BY object_name ORDER BY COUNT(*) DESC, object_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query class counts: %w", err)
	}
	defer rows.Close()

	counts := []models.ClassCount{}
	for rows.Next() {
		var c models.ClassCount
		if err := rows.Scan(&c.ObjectName, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan class count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GetTotalCount returns the number of journaled detections.
func (r *DetectionRepository) GetTotalCount() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}

// DeleteByRun removes all detections of a run.
func (r *DetectionRepository) DeleteByRun(runID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}

func scanDetections(rows *sql.Rows) ([]models.Detection, error) {
	detections := []models.Detection{}
	for rows.Next() {
		var det models.Detection
		var seq int64
		if err := rows.Scan(&det.ID, &det.RunID, &seq, &det.Timestamp, &det.ClassID, &det.ObjectName,
			&det.Confidence, &det.X1, &det.Y1, &det.X2, &det.Y2); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		det.FrameSeq = uint64(seq)
		detections = append(detections, det)
	}
	return detections, rows.Err()
}
