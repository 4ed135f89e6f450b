// Package orthotile runs dense segmentation models over large orthophotos.
//
// An orthophoto is far larger than the network input, so it is swept with a
// sliding window. Every window (the patch) is normalized and handed to the
// model in minibatches; the model answers with a smaller centred prediction
// that is added into an output canvas at the window's interior position.
// Several shifted sweeps (phases) are summed so tile seams are covered.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		"github.com/menta2k/orthotile"
//		"github.com/menta2k/orthotile/internal/config"
//	)
//
//	func main() {
//		cfg := config.Default()
//		cfg.Model.Descriptor = "models/roads/model.json"
//		cfg.Input.TestDir = "data/tiles"
//
//		ot, err := orthotile.Open(cfg)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer ot.Close()
//
//		if err := ot.ProcessDir(context.Background(), cfg.Input.TestDir); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of these components:
//
//  1. Analyzer (pkg/analyzer): loads TIFF/PNG/JPEG/WebP orthophotos as BGR or RGB rasters
//  2. Pipeline (pkg/pipeline): producer, inference and accumulator goroutines
//  3. Predictor backends (pkg/onnx, pkg/identity): the model behind the pipeline
//  4. Processing (pkg/processing): canvas encoding and the debug tile overlay
//  5. Monitor (pkg/monitor): optional HTTP progress endpoint
package orthotile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/orthotile/internal/config"
	"github.com/menta2k/orthotile/internal/utils"
	"github.com/menta2k/orthotile/pkg/analyzer"
	"github.com/menta2k/orthotile/pkg/canvas"
	"github.com/menta2k/orthotile/pkg/identity"
	"github.com/menta2k/orthotile/pkg/onnx"
	"github.com/menta2k/orthotile/pkg/pipeline"
	"github.com/menta2k/orthotile/pkg/predictor"
	"github.com/menta2k/orthotile/pkg/processing"
	"github.com/menta2k/orthotile/pkg/types"
)

// Version of the orthotile library
const Version = "1.0.0"

// Orthotile ties loading, prediction and output together
type Orthotile struct {
	cfg       *config.Config
	predictor predictor.Predictor
	analyzer  *analyzer.ImageAnalyzer
	processor *processing.Processor
	pipeline  *pipeline.Pipeline
	stats     *pipeline.Stats

	mu          sync.Mutex
	runID       string
	currentFile string
	imagesDone  int
	imagesTotal int
}

// Snapshot is the progress report served by the monitor
type Snapshot struct {
	RunID       string `json:"run_id"`
	CurrentFile string `json:"current_file"`
	ImagesDone  int    `json:"images_done"`
	ImagesTotal int    `json:"images_total"`
	pipeline.Snapshot
}

// Open builds the predictor named by the configuration and returns a ready
// Orthotile. The model descriptor is resolved first.
func Open(cfg *config.Config) (*Orthotile, error) {
	if err := cfg.ResolveModel(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		pr  predictor.Predictor
		err error
	)
	switch cfg.Model.Backend {
	case config.BackendIdentity:
		pr, err = identity.New(cfg.Geometry())
	default:
		pr, err = onnx.NewClient(onnx.Options{
			ModelPath:      cfg.Model.Param,
			InputName:      cfg.Model.InputName,
			OutputName:     cfg.Model.OutputName,
			SharedLibrary:  cfg.Model.SharedLibrary,
			DeviceID:       cfg.Model.GPU,
			IntraOpThreads: cfg.Model.Threads,
			Geometry:       cfg.Geometry(),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s predictor: %w", cfg.Model.Backend, err)
	}

	ot, err := New(cfg, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	return ot, nil
}

// New creates an Orthotile around an already constructed predictor
func New(cfg *config.Config, pr predictor.Predictor) (*Orthotile, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stats := pipeline.NewStats()
	p, err := pipeline.New(pr, cfg.Geometry(),
		pipeline.WithStats(stats),
		pipeline.WithFlushPartial(cfg.Tiling.FlushPartial),
		pipeline.WithDebug(cfg.Debug),
	)
	if err != nil {
		return nil, err
	}

	order := cfg.ColorOrder()
	proc := processing.NewProcessor()
	proc.Format = cfg.Output.Format
	proc.Quality = cfg.Output.Quality
	proc.Lossless = cfg.Output.Lossless
	proc.Scale = cfg.Output.Scale
	proc.ColorOrder = order

	return &Orthotile{
		cfg:       cfg,
		predictor: pr,
		analyzer: analyzer.NewWithConfig(analyzer.Config{
			SupportedFormats: []string{"tiff", "png", "jpeg", "webp"},
			MinImageSize:     cfg.Tiling.SatSize,
			ColorOrder:       order,
		}),
		processor: proc,
		pipeline:  p,
		stats:     stats,
	}, nil
}

// Predict sweeps one orthophoto and returns the raw accumulated canvas
func (ot *Orthotile) Predict(ctx context.Context, ortho *types.Orthophoto) (*canvas.Canvas, error) {
	return ot.pipeline.Run(ctx, ortho)
}

// ProcessFile predicts a single image and writes <outDir>/<basename>.<format>.
// It returns the path written.
func (ot *Orthotile) ProcessFile(ctx context.Context, inputPath, outDir string) (string, error) {
	runID := uuid.NewString()
	ot.mu.Lock()
	ot.runID = runID
	ot.currentFile = inputPath
	ot.mu.Unlock()

	start := time.Now()
	img, err := ot.analyzer.LoadImage(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}
	if err := ot.analyzer.ValidateImage(img); err != nil {
		return "", fmt.Errorf("image validation failed for %s: %w", inputPath, err)
	}
	info := ot.analyzer.GetImageInfo(img)
	log.Printf("[%s] %s %dx%d", runID[:8], filepath.Base(inputPath), info.Width, info.Height)
	ortho := ot.analyzer.ToOrthophoto(img)

	cv, err := ot.Predict(ctx, ortho)
	if err != nil {
		return "", fmt.Errorf("prediction failed for %s: %w", inputPath, err)
	}
	if ot.cfg.Output.Average {
		cv.Average()
	}

	lo, hi := cv.Range()
	shape := cv.Shape()
	log.Printf("[%s] %s shape:(%d, %d, %d) min:%g max:%g (%.3f sec)",
		runID[:8], filepath.Base(inputPath), shape[0], shape[1], shape[2], lo, hi, time.Since(start).Seconds())

	if err := utils.EnsureDir(outDir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outPath := utils.OutputFilename(inputPath, outDir, ot.processor.Extension())
	if err := ot.processor.SaveCanvas(cv, outPath); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", outPath, err)
	}
	if st, err := os.Stat(outPath); err == nil {
		log.Printf("[%s] wrote %s (%s)", runID[:8], outPath, utils.FormatFileSize(st.Size()))
	}

	if ot.cfg.Debug {
		overlayPath := utils.OutputFilename(inputPath, outDir, "tiles."+ot.processor.Extension())
		overlay := ot.processor.CreateTileOverlay(img, ot.pipeline.Geometry())
		if err := ot.processor.SaveImage(overlay, overlayPath, ot.processor.Format, ot.processor.Quality, ot.processor.Lossless); err != nil {
			return "", fmt.Errorf("failed to save overlay %s: %w", overlayPath, err)
		}
	}

	ot.mu.Lock()
	ot.imagesDone++
	ot.mu.Unlock()
	return outPath, nil
}

// ProcessDir predicts every image in dir matching the configured pattern,
// in sorted order. It stops at the first failure.
func (ot *Orthotile) ProcessDir(ctx context.Context, dir string) error {
	files, err := utils.ListInputs(dir, ot.cfg.Input.Pattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Printf("No files matching %q in %s", ot.cfg.Input.Pattern, dir)
		return nil
	}

	ot.mu.Lock()
	ot.imagesDone = 0
	ot.imagesTotal = len(files)
	ot.mu.Unlock()

	outDir := ot.cfg.OutputDir()
	for _, f := range files {
		if _, err := ot.ProcessFile(ctx, f, outDir); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot reports the current progress. Safe to call from any goroutine.
func (ot *Orthotile) Snapshot() Snapshot {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	return Snapshot{
		RunID:       ot.runID,
		CurrentFile: ot.currentFile,
		ImagesDone:  ot.imagesDone,
		ImagesTotal: ot.imagesTotal,
		Snapshot:    ot.stats.Snapshot(),
	}
}

// Close releases the predictor
func (ot *Orthotile) Close() error {
	return ot.predictor.Close()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
