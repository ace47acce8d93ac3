package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Inference backends understood by the application.
const (
	BackendOpenCV      = "opencv"
	BackendONNXRuntime = "onnxruntime"
)

// Compute devices for the inference backend.
const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

type Config struct {
	// Capture
	Source        string // device index ("0") or a file/stream URL
	CaptureWidth  int
	CaptureHeight int
	PixelFormat   string // FOURCC, best effort

	// Inference
	Backend         string
	ModelPath       string
	ONNXLibraryPath string
	Device          string
	HalfPrecision   bool
	InputSize       int // square detector input, letterboxed
	NumClasses      int
	ClassesPath     string

	// Decoding
	ScoreThreshold float64
	IoUThreshold   float64

	// Loop
	InferEvery  int // run inference on every Nth taken frame, reuse the last result otherwise
	TakeTimeout time.Duration

	// Display
	Display    bool
	WindowName string

	// Observers
	Port                 int // 0 disables the HTTP status surface
	DatabasePath         string
	JournalBufferLimit   int
	JournalFlushInterval time.Duration

	// Logging
	LogDirectory string
	LogLevel     string
}

// Load reads configuration from the environment, after loading an optional .env file.
func Load() *Config {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	return &Config{
		Source:        getEnv("CAMERA_SOURCE", "0"),
		CaptureWidth:  getEnvAsInt("CAPTURE_WIDTH", 1280),
		CaptureHeight: getEnvAsInt("CAPTURE_HEIGHT", 720),
		PixelFormat:   getEnv("PIXEL_FORMAT", "MJPG"),

		Backend:         getEnv("INFERENCE_BACKEND", BackendOpenCV),
		ModelPath:       getEnv("MODEL_PATH", filepath.Join(".", "models", "yolov8n.onnx")),
		ONNXLibraryPath: getEnv("ONNXRUNTIME_LIB", ""),
		Device:          getEnv("INFERENCE_DEVICE", DeviceCPU),
		HalfPrecision:   getEnvAsBool("HALF_PRECISION", false),
		InputSize:       getEnvAsInt("INPUT_SIZE", 640),
		NumClasses:      getEnvAsInt("NUM_CLASSES", 80),
		ClassesPath:     getEnv("CLASSES_PATH", ""),

		ScoreThreshold: getEnvAsFloat("SCORE_THRESHOLD", 0.25),
		IoUThreshold:   getEnvAsFloat("IOU_THRESHOLD", 0.45),

		InferEvery:  getEnvAsInt("INFER_EVERY", 1),
		TakeTimeout: getEnvAsDuration("TAKE_TIMEOUT", 2*time.Second),

		Display:    getEnvAsBool("DISPLAY_WINDOW", true),
		WindowName: getEnv("WINDOW_NAME", "livedetect"),

		Port:                 getEnvAsInt("PORT", 8080),
		DatabasePath:         getEnv("DATABASE_PATH", filepath.Join(".", "data", "detections.db")),
		JournalBufferLimit:   getEnvAsInt("JOURNAL_BUFFER_LIMIT", 256),
		JournalFlushInterval: getEnvAsDuration("JOURNAL_FLUSH_INTERVAL", 5*time.Second),

		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// ValidationError lists every invalid field found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate rejects out-of-range values instead of clamping them.
func (c *Config) Validate() error {
	var problems []string
	add := func(p string) { problems = append(problems, p) }

	if strings.TrimSpace(c.Source) == "" {
		add("camera source is empty")
	}
	if c.CaptureWidth < 0 || c.CaptureHeight < 0 {
		add("capture size must not be negative")
	}
	if c.PixelFormat != "" && len(c.PixelFormat) != 4 {
		add("pixel format must be a four character code, got " + strconv.Quote(c.PixelFormat))
	}
	switch c.Backend {
	case BackendOpenCV, BackendONNXRuntime:
	default:
		add("unknown inference backend " + strconv.Quote(c.Backend))
	}
	if c.ModelPath == "" {
		add("model path is empty")
	}
	switch c.Device {
	case DeviceCPU, DeviceCUDA:
	default:
		add("unknown inference device " + strconv.Quote(c.Device))
	}
	if c.InputSize <= 0 {
		add("input size must be positive")
	}
	if c.NumClasses <= 0 {
		add("number of classes must be positive")
	}
	if !(c.ScoreThreshold >= 0 && c.ScoreThreshold <= 1) {
		add("score threshold must be within [0, 1], got " + strconv.FormatFloat(c.ScoreThreshold, 'g', -1, 64))
	}
	if !(c.IoUThreshold >= 0 && c.IoUThreshold <= 1) {
		add("iou threshold must be within [0, 1], got " + strconv.FormatFloat(c.IoUThreshold, 'g', -1, 64))
	}
	if c.InferEvery < 1 {
		add("infer-every must be at least 1")
	}
	if c.TakeTimeout < 0 {
		add("take timeout must not be negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		add("port out of range")
	}
	if c.JournalBufferLimit < 0 {
		add("journal buffer limit must not be negative")
	}
	if c.DatabasePath != "" && c.JournalFlushInterval <= 0 {
		add("journal flush interval must be positive")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// IsValidationError reports whether err is a configuration problem.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DeviceIndex returns the numeric camera index when Source is one.
func (c *Config) DeviceIndex() (int, bool) {
	return ParseDeviceIndex(c.Source)
}

// ParseDeviceIndex reports whether source is a non-negative camera index.
func ParseDeviceIndex(source string) (int, bool) {
	idx, err := strconv.Atoi(strings.TrimSpace(source))
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
