package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"livedetect/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (debug/info/warning/error) to stdout and per-level files.
type Logger struct {
	entry  *logrus.Logger
	logDir string
	files  map[string]*lumberjack.Logger
	mu     sync.Mutex
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	logger := &Logger{
		logDir: config.LogDirectory,
		files:  make(map[string]*lumberjack.Logger),
	}

	logger.setupLoggers(os.Stdout, config.LogLevel)
	return logger
}

// NewWithWriter creates a Logger that writes only to w. Used by tools and tests.
func NewWithWriter(w io.Writer) *Logger {
	logger := &Logger{files: make(map[string]*lumberjack.Logger)}
	logger.setupLoggers(w, "debug")
	return logger
}

// setupLoggers initializes the logrus instance and the per-level file hook.
func (l *Logger) setupLoggers(out io.Writer, level string) {
	l.entry = logrus.New()
	l.entry.SetOutput(out)
	l.entry.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.entry.SetLevel(parsed)

	if l.logDir == "" {
		return
	}

	for _, name := range []string{InfoFile, WarningFile, ErrorFile} {
		l.files[name] = l.openLogFile(filepath.Join(l.logDir, name))
	}

	l.entry.AddHook(&levelFileHook{
		formatter: &logrus.TextFormatter{FullTimestamp: true, DisableColors: true},
		writers: map[logrus.Level]io.Writer{
			logrus.DebugLevel: l.files[InfoFile],
			logrus.InfoLevel:  l.files[InfoFile],
			logrus.WarnLevel:  l.files[WarningFile],
			logrus.ErrorLevel: l.files[ErrorFile],
			logrus.FatalLevel: l.files[ErrorFile],
			logrus.PanicLevel: l.files[ErrorFile],
		},
	})
}

// openLogFile returns a size-rotated writer for filename.
func (l *Logger) openLogFile(filename string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

// WithField returns a logrus entry carrying a structured field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry.WithField(key, value)
}

// LogDirectory returns the directory holding the level files, or "" when file logging is off.
func (l *Logger) LogDirectory() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logDir == "" {
		return
	}

	filePath := filepath.Join(l.logDir, fileName)
	if w, ok := l.files[fileName]; ok {
		// Release the handle so the truncated file is reopened on the next write.
		w.Close()
	}
	if err := os.Truncate(filePath, 0); err != nil && !os.IsNotExist(err) {
		l.Error("Error truncating %s: %v", fileName, err)
		return
	}

	l.Info("File content has been cleared.")
}

// Close flushes and closes the level files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, w := range l.files {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// levelFileHook mirrors every entry into the file registered for its level.
type levelFileHook struct {
	formatter logrus.Formatter
	writers   map[logrus.Level]io.Writer
	mu        sync.Mutex
}

func (h *levelFileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *levelFileHook) Fire(entry *logrus.Entry) error {
	w, ok := h.writers[entry.Level]
	if !ok {
		return nil
	}

	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = w.Write(line)
	return err
}
