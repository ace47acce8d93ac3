package handlers

import (
	"encoding/json"
	"net/http"

	"livedetect/internal/classes"
	"livedetect/internal/dto"
	"livedetect/internal/logger"
	"livedetect/internal/pipeline"
)

// PipelineStatus is the part of the pipeline the status endpoints read.
type PipelineStatus interface {
	Stats() pipeline.Stats
	Latest() (pipeline.Result, bool)
}

// ObserverStatus reports the state of the result sinks.
type ObserverStatus struct {
	Viewers        int    `json:"viewers"`
	EventsDropped  uint64 `json:"events_dropped"`
	JournalPending int    `json:"journal_pending"`
	RunID          string `json:"run_id,omitempty"`
}

type StatsData struct {
	Pipeline  pipeline.Stats `json:"pipeline"`
	Observers ObserverStatus `json:"observers"`
}

// StatsHandler serves the pipeline and mailbox counters. observers may be nil.
func StatsHandler(status PipelineStatus, observers func() ObserverStatus, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := StatsData{Pipeline: status.Stats()}
		if observers != nil {
			data.Observers = observers()
		}
		writeJSON(w, http.StatusOK, data, logger)
	}
}

// LatestDetectionHandler serves the most recent result, or 204 before the first one.
func LatestDetectionHandler(status PipelineStatus, names classes.Names, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := status.Latest()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, dto.NewDetectionEvent(res, names), logger)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
