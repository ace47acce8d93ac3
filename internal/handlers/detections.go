package handlers

import (
	"net/http"
	"strconv"

	"livedetect/internal/logger"
	"livedetect/internal/models"
	"livedetect/internal/repository"
)

const (
	defaultDetectionLimit = 50
	maxDetectionLimit     = 1000
)

type DetectionsData struct {
	Detections []models.Detection `json:"detections"`
	Length     int                `json:"length"`
	Total      int                `json:"total"`
}

// DetectionsHandler serves journaled detections: the newest ones, or all of one run with ?run=<id>.
func DetectionsHandler(repo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			detections []models.Detection
			err        error
		)

		if runID := r.URL.Query().Get("run"); runID != "" {
			detections, err = repo.GetByRun(runID)
		} else {
			detections, err = repo.GetRecent(parseLimit(r.URL.Query().Get("limit")))
		}
		if err != nil {
			logger.Error("Failed to read detections: %v", err)
			http.Error(w, "Unable to read detections", http.StatusInternalServerError)
			return
		}

		total, err := repo.GetTotalCount()
		if err != nil {
			logger.Error("Failed to count detections: %v", err)
			http.Error(w, "Unable to count detections", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, DetectionsData{
			Detections: detections,
			Length:     len(detections),
			Total:      total,
		}, logger)
	}
}

// ClassCountsHandler serves how often each class was journaled.
func ClassCountsHandler(repo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := repo.CountByClass()
		if err != nil {
			logger.Error("Failed to count classes: %v", err)
			http.Error(w, "Unable to count classes", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, counts, logger)
	}
}

// RunsHandler serves the recorded pipeline runs, newest first.
func RunsHandler(runs repository.RunRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := runs.GetAll()
		if err != nil {
			logger.Error("Failed to read runs: %v", err)
			http.Error(w, "Unable to read runs", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, all, logger)
	}
}

func parseLimit(value string) int {
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return defaultDetectionLimit
	}
	return min(limit, maxDetectionLimit)
}
