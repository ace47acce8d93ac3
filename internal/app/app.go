package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"livedetect/internal/capture"
	"livedetect/internal/classes"
	"livedetect/internal/config"
	"livedetect/internal/handlers"
	"livedetect/internal/inference"
	"livedetect/internal/logger"
	"livedetect/internal/models"
	"livedetect/internal/pipeline"
	"livedetect/internal/render"
	"livedetect/internal/repository/sqlite"
	"livedetect/internal/routes"
	"livedetect/internal/services/journal"
	"livedetect/internal/services/websocket"
)

const (
	shutdownTimeout = 5 * time.Second
	headlessEvery   = 30
)

type App struct {
	config   *config.Config
	logger   *logger.Logger
	names    classes.Names
	backend  inference.Backend
	pipeline *pipeline.Pipeline

	db            *sqlite.DB
	runs          *sqlite.RunRepository
	detections    *sqlite.DetectionRepository
	run           *models.Run
	bufferService *journal.BufferService
	hubService    *websocket.HubService
	server        *http.Server
}

// NewApp loads the model, opens the camera and wires the pipeline to its observers.
// On error everything opened so far is released.
func NewApp(cfg *config.Config, logger *logger.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.names, err = classes.Load(cfg.ClassesPath); err != nil {
		return nil, err
	}
	if len(a.names) != cfg.NumClasses {
		logger.Warning("Model has %d classes but %d names were loaded", cfg.NumClasses, len(a.names))
	}

	var sinks []pipeline.Sink
	if cfg.DatabasePath != "" {
		if err := a.openJournal(); err != nil {
			return nil, err
		}
		sinks = append(sinks, a.bufferService)
	}
	if cfg.Port > 0 {
		a.hubService = websocket.NewHubService(a.names, logger)
		sinks = append(sinks, a.hubService)
	}

	if a.backend, err = inference.New(cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to load detector: %w", err)
	}
	if err := inference.Warmup(a.backend, warmupSize(cfg.CaptureWidth, cfg.InputSize), warmupSize(cfg.CaptureHeight, cfg.InputSize), logger); err != nil {
		return nil, err
	}

	camera, err := capture.Open(capture.SettingsFromConfig(cfg), logger)
	if err != nil {
		return nil, err
	}

	renderer := a.newRenderer()
	a.pipeline, err = pipeline.New(camera, a.backend, renderer, logger, pipeline.OptionsFromConfig(cfg), sinks...)
	if err != nil {
		camera.Release()
		renderer.Close()
		return nil, err
	}
	renderer.SetStatsSource(a.pipeline)

	if cfg.Port > 0 {
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           a.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

func (a *App) openJournal() error {
	db, err := sqlite.New(a.config.DatabasePath)
	if err != nil {
		return err
	}
	a.db = db
	a.runs = sqlite.NewRunRepository(db)
	a.detections = sqlite.NewDetectionRepository(db)

	a.run, err = journal.StartRun(a.runs, a.config.Source, filepath.Base(a.config.ModelPath))
	if err != nil {
		return err
	}
	a.bufferService = journal.NewBufferService(a.detections, a.run.ID, a.names, a.config.JournalBufferLimit, a.logger)
	a.logger.Info("Journaling detections to %s (run %s)", a.config.DatabasePath, a.run.ID)
	return nil
}

// overlayRenderer is a renderer that shows the pipeline counters.
type overlayRenderer interface {
	pipeline.Renderer
	SetStatsSource(src render.StatsSource)
}

func (a *App) newRenderer() overlayRenderer {
	if a.config.Display {
		return render.NewWindow(a.config.WindowName, a.config.CaptureWidth, a.config.CaptureHeight, a.names, a.logger)
	}
	return render.NewHeadless(a.names, headlessEvery, a.logger)
}

func (a *App) routes() http.Handler {
	deps := routes.Dependencies{
		Status:    a.pipeline,
		Observers: a.observerStatus,
		Hub:       a.hubService,
		Names:     a.names,
		Logger:    a.logger,
	}
	if a.db != nil {
		deps.Detections = a.detections
		deps.Runs = a.runs
	}
	return routes.SetupRoutes(deps)
}

func (a *App) observerStatus() handlers.ObserverStatus {
	var status handlers.ObserverStatus
	if a.hubService != nil {
		status.Viewers = a.hubService.GetClientCount()
		status.EventsDropped = a.hubService.Dropped()
	}
	if a.bufferService != nil {
		status.JournalPending = a.bufferService.Pending()
		status.RunID = a.bufferService.RunID()
	}
	return status
}

// Run blocks until the pipeline stops. It must be called from the goroutine that called NewApp
// when the display window is enabled.
func (a *App) Run(ctx context.Context) error {
	background, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if a.hubService != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.hubService.Run(background)
		}()
	}
	if a.bufferService != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.bufferService.Run(background, a.config.JournalFlushInterval)
		}()
	}
	if a.server != nil {
		go func() {
			a.logger.Info("Status server listening on http://localhost%s", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Status server failed: %v", err)
			}
		}()
	}

	a.logger.Info("Pipeline started on %s with %s backend, inferring every %d frame(s)",
		a.config.Source, a.config.Backend, a.config.InferEvery)
	runErr := a.pipeline.Run(ctx)

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warning("Status server shutdown: %v", err)
		}
		cancel()
	}
	stopBackground()
	wg.Wait()

	stats := a.pipeline.Stats()
	a.logger.Info("Pipeline stopped: %d frames, %d inferences, %d reused, %d dropped by the mailbox",
		stats.Frames, stats.Inferences, stats.Reused, stats.Mailbox.Dropped)
	return runErr
}

// Close releases the detector and the journal. The camera and the window are released by the pipeline.
func (a *App) Close() error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
		a.backend = nil
	}
	if a.run != nil && a.runs != nil {
		errs = append(errs, a.runs.Finish(a.run.ID, time.Now().UTC()))
		a.run = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	return errors.Join(errs...)
}

// warmupSize falls back to the detector input size when the capture size is left to the driver.
func warmupSize(requested, inputSize int) int {
	if requested > 0 {
		return requested
	}
	return inputSize
}
