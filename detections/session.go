package detections

import (
	"fmt"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

// Config describes the ONNX plate model and how many sessions to keep for it.
type Config struct {
	ModelPath      string
	InputSize      int
	NumClasses     int
	ConfThreshold  float32
	IoUThreshold   float64
	PoolSize       int
	AcquireTimeout time.Duration
	IntraOpThreads int
	InterOpThreads int
	InputName      string
	OutputName     string
}

// DefaultConfig returns a Config for modelPath with the default thresholds.
// The thresholds are not filled in by NewDetector, since 0 is a valid setting
// for both.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:     modelPath,
		ConfThreshold: DefaultConfThreshold,
		IoUThreshold:  DefaultIoUThreshold,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if c.NumClasses <= 0 {
		c.NumClasses = DefaultNumClasses
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.IntraOpThreads <= 0 {
		c.IntraOpThreads = runtime.NumCPU()
	}
	if c.InterOpThreads <= 0 {
		c.InterOpThreads = runtime.NumCPU()
	}
	if c.InputName == "" {
		c.InputName = DefaultInputName
	}
	if c.OutputName == "" {
		c.OutputName = DefaultOutputName
	}
	return c
}

// outputChannels is the number of rows per anchor in the raw output: four box
// coordinates followed by one score per class.
func (c Config) outputChannels() int {
	return boxChannels + c.NumClasses
}

// anchorCount is the number of candidate boxes a YOLOv8 head emits for a
// square input of the given size.
func anchorCount(inputSize int) int {
	n := 0
	for _, s := range strides {
		side := inputSize / s
		n += side * side
	}
	return n
}

type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// NewSession creates an inference session bound to preallocated input and
// output tensors. The ONNX Runtime environment must already be initialized.
func NewSession(cfg Config) (*ModelSession, error) {
	cfg = cfg.withDefaults()

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	size := int64(cfg.InputSize)
	inputShape := ort.NewShape(1, 3, size, size)
	outputShape := ort.NewShape(1, int64(cfg.outputChannels()), int64(anchorCount(cfg.InputSize)))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}
