package inference

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"livedetect/internal/config"
	"livedetect/internal/decoder"
	"livedetect/internal/logger"
	"livedetect/internal/mailbox"

	"gocv.io/x/gocv"
)

// OpenCV runs the model with the OpenCV DNN module.
type OpenCV struct {
	net       gocv.Net
	inputSize int
	logger    *logger.Logger
}

// NewOpenCV reads the ONNX model and selects the compute target from cfg.
func NewOpenCV(cfg *config.Config, logger *logger.Logger) (*OpenCV, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", cfg.ModelPath)
	}

	backend, target := netTarget(cfg)
	errBackend := net.SetPreferableBackend(backend)
	errTarget := net.SetPreferableTarget(target)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	logger.Info("OpenCV detection network loaded from %s (device %s, half precision %v)",
		cfg.ModelPath, cfg.Device, cfg.HalfPrecision)

	return &OpenCV{net: net, inputSize: cfg.InputSize, logger: logger}, nil
}

func netTarget(cfg *config.Config) (gocv.NetBackendType, gocv.NetTargetType) {
	if cfg.Device != config.DeviceCUDA {
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	}
	if cfg.HalfPrecision {
		return gocv.NetBackendCUDA, gocv.NetTargetCUDAFP16
	}
	return gocv.NetBackendCUDA, gocv.NetTargetCUDA
}

// InputSize returns the side of the square network input.
func (o *OpenCV) InputSize() int { return o.inputSize }

// Infer letterboxes the frame, forwards it and returns one row per output cell.
func (o *OpenCV) Infer(frame mailbox.Frame) ([]decoder.Row, error) {
	if err := checkFrame(frame); err != nil {
		return nil, err
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %v", err)
	}
	defer mat.Close()

	side := squareSide(frame.Width, frame.Height)
	square := gocv.NewMat()
	defer square.Close()
	if err := gocv.CopyMakeBorder(mat, &square, 0, side-frame.Height, 0, side-frame.Width, gocv.BorderConstant, color.RGBA{}); err != nil {
		return nil, fmt.Errorf("failed to pad frame: %v", err)
	}

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(o.inputSize, o.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	o.net.SetInput(blob, "")
	output := o.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %v", err)
	}
	return decoder.RowsFromTensor(data, dims[1], dims[2])
}

// Close frees the network.
func (o *OpenCV) Close() error {
	return o.net.Close()
}
