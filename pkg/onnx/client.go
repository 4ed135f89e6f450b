package onnx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sys/cpu"

	"github.com/menta2k/orthotile/pkg/types"
)

// CPUDevice selects the CPU execution provider
const CPUDevice = -1

var (
	envOnce sync.Once
	envErr  error
)

// Options configures an ONNX Runtime session
type Options struct {
	// ModelPath is the .onnx graph holding the trained weights
	ModelPath string
	// InputName and OutputName default to the first input and output of the graph
	InputName  string
	OutputName string
	// SharedLibrary is the onnxruntime library; empty uses the loader default
	SharedLibrary string
	// DeviceID is the CUDA device index, CPUDevice for CPU
	DeviceID       int
	IntraOpThreads int
	InterOpThreads int
	Geometry       types.Geometry
}

// Client runs minibatches through an ONNX graph whose batch dimension is dynamic
type Client struct {
	session *ort.DynamicAdvancedSession
	opts    Options
}

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Shutdown releases the ONNX Runtime environment. Call it once all clients are closed.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func (o Options) validate() error {
	if o.ModelPath == "" {
		return errors.New("model path is required")
	}
	if _, err := os.Stat(o.ModelPath); err != nil {
		return fmt.Errorf("model file: %w", err)
	}
	if err := o.Geometry.Validate(); err != nil {
		return fmt.Errorf("invalid geometry: %w", err)
	}
	if o.DeviceID < CPUDevice {
		return fmt.Errorf("invalid device %d", o.DeviceID)
	}
	return nil
}

// NewClient loads the graph and prepares a session on the requested device
func NewClient(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := initEnvironment(opts.SharedLibrary); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	if opts.InputName == "" || opts.OutputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read model info: %w", err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, fmt.Errorf("model %s has no inputs or outputs", opts.ModelPath)
		}
		if opts.InputName == "" {
			opts.InputName = inputs[0].Name
		}
		if opts.OutputName == "" {
			opts.OutputName = outputs[0].Name
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("error setting intra-op threads: %w", err)
		}
	}
	if opts.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
			return nil, fmt.Errorf("error setting inter-op threads: %w", err)
		}
	}

	if opts.DeviceID >= 0 {
		if err := appendCUDA(options, opts.DeviceID); err != nil {
			return nil, err
		}
		log.Printf("onnx: using CUDA device %d", opts.DeviceID)
	} else {
		log.Printf("onnx: using CPU (avx2=%v avx512f=%v fma=%v asimd=%v)",
			cpu.X86.HasAVX2, cpu.X86.HasAVX512F, cpu.X86.HasFMA, cpu.ARM64.HasASIMD)
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{opts.InputName}, []string{opts.OutputName}, options)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	log.Printf("onnx: loaded %s (input=%q output=%q)", opts.ModelPath, opts.InputName, opts.OutputName)
	return &Client{session: session, opts: opts}, nil
}

func appendCUDA(options *ort.SessionOptions, device int) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("error creating CUDA options: %w", err)
	}
	defer cudaOpts.Destroy()

	if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(device)}); err != nil {
		return fmt.Errorf("error selecting CUDA device %d: %w", device, err)
	}
	if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("error enabling CUDA provider: %w", err)
	}
	return nil
}

// Predict implements predictor.Predictor
func (c *Client) Predict(ctx context.Context, batch types.Batch) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if batch.N == 0 {
		return nil, nil
	}

	shape := ort.NewShape(int64(batch.N), int64(batch.Channels), int64(batch.Size), int64(batch.Size))
	input, err := ort.NewTensor(shape, batch.Data[:batch.N*batch.PatchLen()])
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := c.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	if outputs[0] == nil {
		return nil, errors.New("model produced no output")
	}
	defer outputs[0].Destroy()

	output, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unsupported output type %T", outputs[0])
	}
	if err := c.checkShape(output.GetShape(), batch.N); err != nil {
		return nil, err
	}

	// the tensor memory is released with the output value
	data := output.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (c *Client) checkShape(shape ort.Shape, n int) error {
	g := c.opts.Geometry
	want := ort.NewShape(int64(n), int64(g.Channels), int64(g.MapSize), int64(g.MapSize))
	if len(shape) != len(want) {
		return fmt.Errorf("output shape %v, expected %v", shape, want)
	}
	for i := range want {
		if shape[i] != want[i] {
			return fmt.Errorf("output shape %v, expected %v", shape, want)
		}
	}
	return nil
}

// Close implements predictor.Predictor
func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}
