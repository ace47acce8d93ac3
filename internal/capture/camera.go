package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"livedetect/internal/config"
	"livedetect/internal/logger"
	"livedetect/internal/mailbox"

	"gocv.io/x/gocv"
)

var (
	// ErrOpen means the device or stream could not be opened.
	ErrOpen = errors.New("could not open capture device")
	// ErrRead means the device stopped delivering frames.
	ErrRead = errors.New("could not read capture device")
)

// Error records which capture operation failed on which source.
type Error struct {
	Op     string
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s %s: %v", e.Op, e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Settings describe what to open and what to ask the driver for.
type Settings struct {
	Source      string
	Width       int
	Height      int
	PixelFormat string
}

// SettingsFromConfig copies the capture section out of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Source:      cfg.Source,
		Width:       cfg.CaptureWidth,
		Height:      cfg.CaptureHeight,
		PixelFormat: cfg.PixelFormat,
	}
}

// Camera reads BGR frames from a V4L2 device, a video file or a stream URL.
// It is not safe for concurrent use; the pipeline producer owns it.
type Camera struct {
	capture  *gocv.VideoCapture
	mat      gocv.Mat
	settings Settings
	finite   bool // a regular file: running out of frames is io.EOF
	logger   *logger.Logger

	releaseOnce sync.Once
	releaseErr  error
}

// Open opens the source and requests size, pixel format and a one-frame driver buffer.
// The driver may not honor the request; the negotiated size is logged.
func Open(settings Settings, logger *logger.Logger) (*Camera, error) {
	capture, err := openSource(settings.Source)
	if err != nil {
		return nil, &Error{Op: "open", Source: settings.Source, Err: fmt.Errorf("%w: %v", ErrOpen, err)}
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, &Error{Op: "open", Source: settings.Source, Err: ErrOpen}
	}

	cam := &Camera{
		capture:  capture,
		mat:      gocv.NewMat(),
		settings: settings,
		finite:   isFileSource(settings.Source),
		logger:   logger,
	}
	cam.configure()
	return cam, nil
}

func openSource(source string) (*gocv.VideoCapture, error) {
	if idx, ok := config.ParseDeviceIndex(source); ok {
		api := gocv.VideoCaptureAny
		if runtime.GOOS == "linux" {
			api = gocv.VideoCaptureV4L2
		}
		return gocv.OpenVideoCaptureWithAPI(idx, api)
	}
	return gocv.OpenVideoCapture(source)
}

func (c *Camera) configure() {
	if c.finite {
		return
	}

	if c.settings.Width > 0 && c.settings.Height > 0 {
		c.capture.Set(gocv.VideoCaptureFrameWidth, float64(c.settings.Width))
		c.capture.Set(gocv.VideoCaptureFrameHeight, float64(c.settings.Height))
	}
	if c.settings.PixelFormat != "" {
		c.capture.Set(gocv.VideoCaptureFOURCC, c.capture.ToCodec(c.settings.PixelFormat))
	}
	c.capture.Set(gocv.VideoCaptureBufferSize, 1)

	width := int(c.capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(c.capture.Get(gocv.VideoCaptureFrameHeight))
	c.logger.Info("Capture %s opened at %dx%d (requested %dx%d %s)",
		c.settings.Source, width, height, c.settings.Width, c.settings.Height, c.settings.PixelFormat)
	if width != c.settings.Width || height != c.settings.Height {
		c.logger.Warning("Capture driver negotiated %dx%d instead of %dx%d", width, height, c.settings.Width, c.settings.Height)
	}
}

// Read blocks until the next frame is grabbed. The returned frame owns a copy of the pixels.
func (c *Camera) Read() (mailbox.Frame, error) {
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		if c.finite {
			return mailbox.Frame{}, io.EOF
		}
		return mailbox.Frame{}, &Error{Op: "read", Source: c.settings.Source, Err: ErrRead}
	}

	img := c.mat
	if c.mat.Channels() != 3 {
		converted := gocv.NewMat()
		defer converted.Close()
		code := gocv.ColorGrayToBGR
		if c.mat.Channels() == 4 {
			code = gocv.ColorBGRAToBGR
		}
		if err := gocv.CvtColor(c.mat, &converted, code); err != nil {
			return mailbox.Frame{}, &Error{Op: "read", Source: c.settings.Source, Err: fmt.Errorf("%w: %v", ErrRead, err)}
		}
		img = converted
	}

	return mailbox.Frame{
		Data:      img.ToBytes(),
		Width:     img.Cols(),
		Height:    img.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// Release closes the device. Only the first call has an effect.
func (c *Camera) Release() error {
	c.releaseOnce.Do(func() {
		c.mat.Close()
		c.releaseErr = c.capture.Close()
		c.logger.Info("Capture %s released", c.settings.Source)
	})
	return c.releaseErr
}

// isFileSource reports whether source names a regular file rather than a device or stream.
func isFileSource(source string) bool {
	if _, ok := config.ParseDeviceIndex(source); ok {
		return false
	}
	if strings.Contains(source, "://") {
		return false
	}
	info, err := os.Stat(source)
	return err == nil && info.Mode().IsRegular()
}
