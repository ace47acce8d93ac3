package main

import (
	"livedetect/internal/config"

	"github.com/urfave/cli/v2"
)

const (
	flagSource     = "source"
	flagModel      = "model"
	flagClasses    = "classes"
	flagBackend    = "backend"
	flagDevice     = "device"
	flagHalf       = "half"
	flagConf       = "conf"
	flagIoU        = "iou"
	flagInferEvery = "infer-every"
	flagDisplay    = "display"
	flagPort       = "port"
	flagDatabase   = "db"
	flagLogLevel   = "log-level"
)

// flags mirror the environment configuration. Defaults live in config.Load, so a flag
// only takes effect when it is set.
func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagSource, Aliases: []string{"s"}, Usage: "camera index, video file or stream URL"},
		&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Usage: "path to the ONNX detector"},
		&cli.StringFlag{Name: flagClasses, Usage: "class names file, one per line (COCO when empty)"},
		&cli.StringFlag{Name: flagBackend, Usage: "inference backend: opencv or onnxruntime"},
		&cli.StringFlag{Name: flagDevice, Usage: "compute device: cpu or cuda"},
		&cli.BoolFlag{Name: flagHalf, Usage: "use half precision on CUDA"},
		&cli.Float64Flag{Name: flagConf, Usage: "minimum class score"},
		&cli.Float64Flag{Name: flagIoU, Usage: "NMS overlap threshold"},
		&cli.IntFlag{Name: flagInferEvery, Usage: "run inference on every Nth frame"},
		&cli.BoolFlag{Name: flagDisplay, Usage: "show the annotated window"},
		&cli.IntFlag{Name: flagPort, Usage: "status server port, 0 to disable"},
		&cli.StringFlag{Name: flagDatabase, Usage: "detection journal path, empty to disable"},
		&cli.StringFlag{Name: flagLogLevel, Usage: "debug, info, warning or error"},
	}
}

type flagSet interface {
	IsSet(name string) bool
	String(name string) string
	Bool(name string) bool
	Int(name string) int
	Float64(name string) float64
}

func applyFlags(c flagSet, cfg *config.Config) {
	if c.IsSet(flagSource) {
		cfg.Source = c.String(flagSource)
	}
	if c.IsSet(flagModel) {
		cfg.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagClasses) {
		cfg.ClassesPath = c.String(flagClasses)
	}
	if c.IsSet(flagBackend) {
		cfg.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagDevice) {
		cfg.Device = c.String(flagDevice)
	}
	if c.IsSet(flagHalf) {
		cfg.HalfPrecision = c.Bool(flagHalf)
	}
	if c.IsSet(flagConf) {
		cfg.ScoreThreshold = c.Float64(flagConf)
	}
	if c.IsSet(flagIoU) {
		cfg.IoUThreshold = c.Float64(flagIoU)
	}
	if c.IsSet(flagInferEvery) {
		cfg.InferEvery = c.Int(flagInferEvery)
	}
	if c.IsSet(flagDisplay) {
		cfg.Display = c.Bool(flagDisplay)
	}
	if c.IsSet(flagPort) {
		cfg.Port = c.Int(flagPort)
	}
	if c.IsSet(flagDatabase) {
		cfg.DatabasePath = c.String(flagDatabase)
	}
	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}
}
