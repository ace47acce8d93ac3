package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"livedetect/internal/app"
	"livedetect/internal/capture"
	"livedetect/internal/config"
	"livedetect/internal/logger"

	"github.com/urfave/cli/v2"
)

// The display window must be driven from the main OS thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	cliApp := &cli.App{
		Name:  "livedetect",
		Usage: "run an object detector on a live camera feed",
		Flags: flags(),
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			applyFlags(c, cfg)
			return run(cfg)
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.NewLogger(cfg)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Error("Failed to start: %v", err)
		return err
	}

	runErr := application.Run(ctx)
	if err := application.Close(); err != nil {
		log.Warning("Shutdown: %v", err)
	}
	if errors.Is(runErr, capture.ErrRead) {
		log.Error("Capture stopped: %v", runErr)
	}
	return runErr
}
