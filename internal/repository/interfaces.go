package repository

import (
	"time"

	"livedetect/internal/models"
)

// RunRepository defines the interface for pipeline run records.
type RunRepository interface {
	// Create operations
	Start(run *models.Run) error

	// Update operations
	Finish(id string, endedAt time.Time) error

	// Read operations
	GetByID(id string) (*models.Run, error)
	GetAll() ([]models.Run, error)

	// Delete operations
	Delete(id string) error
}

// DetectionRepository defines the interface for detection journal operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []models.Detection) error

	// Read operations
	GetRecent(limit int) ([]models.Detection, error)
	GetByRun(runID string) ([]models.Detection, error)
	CountByClass() ([]models.ClassCount, error)
	GetTotalCount() (int, error)

	// Delete operations
	DeleteByRun(runID string) error
}
