package inference

import (
	"fmt"
	"os"
	"runtime"

	"livedetect/internal/config"
	"livedetect/internal/decoder"
	"livedetect/internal/logger"
	"livedetect/internal/mailbox"

	ort "github.com/yalue/onnxruntime_go"
)

// Tensor names of an Ultralytics YOLOv8 ONNX export.
const (
	onnxInputName  = "images"
	onnxOutputName = "output0"
)

// ONNX runs the model with ONNX Runtime on fixed, preallocated tensors.
type ONNX struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	inputSize int
	attrs     int
	anchors   int
	logger    *logger.Logger
}

// NewONNX initializes the runtime environment and creates a session for cfg.ModelPath.
func NewONNX(cfg *config.Config, logger *logger.Logger) (*ONNX, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	if cfg.ONNXLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.ONNXLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("error initializing onnx runtime: %w", err)
	}

	o := &ONNX{
		inputSize: cfg.InputSize,
		attrs:     4 + cfg.NumClasses,
		anchors:   anchorCount(cfg.InputSize),
		logger:    logger,
	}
	if err := o.initSession(cfg); err != nil {
		o.destroy()
		ort.DestroyEnvironment()
		return nil, err
	}

	if cfg.HalfPrecision {
		logger.Warning("Half precision is a property of the exported model for onnxruntime; flag ignored")
	}
	logger.Info("ONNX Runtime session created for %s (device %s, output %dx%d)",
		cfg.ModelPath, cfg.Device, o.attrs, o.anchors)
	return o, nil
}

func (o *ONNX) initSession(cfg *config.Config) error {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(1)

	if cfg.Device == config.DeviceCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("error creating cuda options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
			return fmt.Errorf("error configuring cuda: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return fmt.Errorf("error enabling cuda: %w", err)
		}
	}

	o.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(o.inputSize), int64(o.inputSize)))
	if err != nil {
		return fmt.Errorf("error creating input tensor: %w", err)
	}

	o.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(o.attrs), int64(o.anchors)))
	if err != nil {
		return fmt.Errorf("error creating output tensor: %w", err)
	}

	o.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{onnxInputName},
		[]string{onnxOutputName},
		[]ort.ArbitraryTensor{o.input},
		[]ort.ArbitraryTensor{o.output},
		options,
	)
	if err != nil {
		return fmt.Errorf("error creating session: %w", err)
	}
	return nil
}

// InputSize returns the side of the square network input.
func (o *ONNX) InputSize() int { return o.inputSize }

// Infer letterboxes the frame into the input tensor, runs the session and returns one row per output cell.
func (o *ONNX) Infer(frame mailbox.Frame) ([]decoder.Row, error) {
	if err := checkFrame(frame); err != nil {
		return nil, err
	}

	if err := fillNCHW(letterbox(frame, o.inputSize), o.input.GetData()); err != nil {
		return nil, fmt.Errorf("prepare input buffer: %w", err)
	}
	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	return decoder.RowsFromTensor(o.output.GetData(), o.attrs, o.anchors)
}

// Close destroys the session, its tensors and the runtime environment.
func (o *ONNX) Close() error {
	o.destroy()
	return ort.DestroyEnvironment()
}

func (o *ONNX) destroy() {
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	if o.input != nil {
		o.input.Destroy()
		o.input = nil
	}
	if o.output != nil {
		o.output.Destroy()
		o.output = nil
	}
}
