package routes

import (
	"net/http"

	"livedetect/internal/classes"
	"livedetect/internal/handlers"
	"livedetect/internal/logger"
	"livedetect/internal/middleware"
	"livedetect/internal/repository"
	"livedetect/internal/services/websocket"

	"github.com/gorilla/mux"
)

// Dependencies are the services the HTTP surface reads from. Journal repositories and the
// hub are optional.
type Dependencies struct {
	Status     handlers.PipelineStatus
	Observers  func() handlers.ObserverStatus
	Hub        *websocket.HubService
	Detections repository.DetectionRepository
	Runs       repository.RunRepository
	Names      classes.Names
	Logger     *logger.Logger
}

// SetupRoutes registers the status, journal, viewer and log endpoints.
func SetupRoutes(deps Dependencies) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recover(deps.Logger), middleware.RequestLogger(deps.Logger))

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", handlers.StatsHandler(deps.Status, deps.Observers, deps.Logger)).Methods(http.MethodGet)
	api.HandleFunc("/detections/latest", handlers.LatestDetectionHandler(deps.Status, deps.Names, deps.Logger)).Methods(http.MethodGet)

	if deps.Detections != nil {
		api.HandleFunc("/detections", handlers.DetectionsHandler(deps.Detections, deps.Logger)).Methods(http.MethodGet)
		api.HandleFunc("/detections/classes", handlers.ClassCountsHandler(deps.Detections, deps.Logger)).Methods(http.MethodGet)
	}
	if deps.Runs != nil {
		api.HandleFunc("/runs", handlers.RunsHandler(deps.Runs, deps.Logger)).Methods(http.MethodGet)
	}
	if deps.Hub != nil {
		api.HandleFunc("/view", handlers.ViewWebsocketHandler(deps.Hub, deps.Logger))
	}

	// Log endpoints
	router.HandleFunc("/logs/{level:info|warning|error}", handlers.ShowLogsHandler(deps.Logger)).Methods(http.MethodGet)
	router.HandleFunc("/logs/{level:info|warning|error}/clear", handlers.ClearLogsHandler(deps.Logger)).Methods(http.MethodPost)

	return router
}
