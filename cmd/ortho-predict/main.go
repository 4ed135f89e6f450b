package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/menta2k/orthotile"
	"github.com/menta2k/orthotile/internal/config"
	"github.com/menta2k/orthotile/internal/utils"
	"github.com/menta2k/orthotile/pkg/monitor"
	"github.com/menta2k/orthotile/pkg/onnx"
)

func main() {
	cfg, saveConfig, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if saveConfig != "" {
		if err := cfg.SaveToFile(saveConfig); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", saveConfig)
		return
	}

	if cfg.Input.TestDir == "" {
		log.Fatalf("usage: %s -model model.json|net.onnx -test_dir dir [-gpu 0] [-offset 1] [-batchsize 128] [-config config.json]", filepath.Base(os.Args[0]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ot, err := orthotile.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer onnx.Shutdown()
	defer ot.Close()

	log.Printf("backend=%s gpu=%d sat_size=%d map_size=%d channels=%d offset=%d batchsize=%d out=%s",
		cfg.Model.Backend, cfg.Model.GPU, cfg.Tiling.SatSize, cfg.Tiling.MapSize,
		cfg.Tiling.Channels, cfg.Tiling.Offset, cfg.Tiling.BatchSize, cfg.OutputDir())

	if cfg.Monitor.Listen != "" {
		mon := monitor.New(cfg.Monitor.Listen, func() any { return ot.Snapshot() })
		if _, err := mon.Start(); err != nil {
			log.Fatalf("Failed to start monitor: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mon.Shutdown(shutdownCtx)
		}()
	}

	start := time.Now()
	if err := ot.ProcessDir(ctx, cfg.Input.TestDir); err != nil {
		// log.Fatal would skip the deferred cleanup
		log.Print(err)
		ot.Close()
		onnx.Shutdown()
		os.Exit(1)
	}
	log.Printf("done in %.3f sec", time.Since(start).Seconds())
}

// parseFlags binds the command line onto a configuration. Flags set
// explicitly beat the config file, which beats the defaults. Without -config
// the file at config.GetConfigPath is used when it exists.
func parseFlags(fs *flag.FlagSet, args []string) (*config.Config, string, error) {
	var configPath, saveConfig string
	def := config.Default()
	f := *def

	fs.StringVar(&configPath, "config", "", "JSON configuration file (default "+config.GetConfigPath()+" when present)")
	fs.StringVar(&saveConfig, "save_config", "", "write the effective configuration to this file and exit")

	fs.IntVar(&f.Model.GPU, "gpu", def.Model.GPU, "CUDA device index, -1 runs on CPU")
	fs.StringVar(&f.Model.Descriptor, "model", "", "model descriptor JSON or .onnx file")
	fs.StringVar(&f.Model.Param, "param", "", "ONNX weights (overrides the descriptor)")
	fs.StringVar(&f.Model.Backend, "backend", "", "predictor backend: onnx|identity (default from descriptor, else onnx)")
	fs.StringVar(&f.Model.ColorOrder, "color_order", "", "channel order the model was trained with: bgr|rgb (default bgr)")
	fs.StringVar(&f.Model.SharedLibrary, "ort_lib", "", "path to the onnxruntime shared library")
	fs.IntVar(&f.Model.Threads, "threads", 0, "intra-op threads for the ONNX session, 0 lets the runtime decide")

	fs.StringVar(&f.Input.TestDir, "test_dir", "", "directory holding the orthophotos")
	fs.StringVar(&f.Input.Pattern, "pattern", def.Input.Pattern, "glob selecting input files in test_dir")

	fs.IntVar(&f.Tiling.SatSize, "sat_size", def.Tiling.SatSize, "patch side length")
	fs.IntVar(&f.Tiling.MapSize, "map_size", def.Tiling.MapSize, "prediction side length")
	fs.IntVar(&f.Tiling.Channels, "channels", def.Tiling.Channels, "prediction channels")
	fs.IntVar(&f.Tiling.Offset, "offset", def.Tiling.Offset, "number of shifted sweeps")
	fs.IntVar(&f.Tiling.BatchSize, "batchsize", def.Tiling.BatchSize, "patches per minibatch")
	fs.BoolVar(&f.Tiling.FlushPartial, "flush_partial", false, "also predict the final incomplete minibatch")

	fs.StringVar(&f.Output.Dir, "out", "", "output directory (default <dir of model>/test)")
	fs.StringVar(&f.Output.Format, "format", def.Output.Format, "output format: png|jpg|webp")
	fs.IntVar(&f.Output.Quality, "quality", def.Output.Quality, "JPEG/WebP output quality (1-100)")
	fs.BoolVar(&f.Output.Lossless, "lossless", false, "WebP lossless mode")
	fs.Float64Var(&f.Output.Scale, "scale", def.Output.Scale, "multiplier applied before 8-bit quantization")
	fs.BoolVar(&f.Output.Average, "average", false, "divide overlapping sums by their hit count")

	fs.StringVar(&f.Monitor.Listen, "listen", "", "serve /health and /metrics on this address")
	fs.BoolVar(&f.Debug, "debug", false, "per-batch timing logs and tile overlay images")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	if configPath == "" && utils.FileExists(config.GetConfigPath()) {
		configPath = config.GetConfigPath()
	}
	cfg := def
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, "", err
		}
		log.Printf("loaded config %s", configPath)
		cfg = loaded
	}
	applyFlags(fs, cfg, &f)
	return cfg, saveConfig, nil
}

// applyFlags copies the flags given on the command line over cfg
func applyFlags(fs *flag.FlagSet, cfg, f *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "gpu":
			cfg.Model.GPU = f.Model.GPU
		case "model":
			cfg.Model.Descriptor = f.Model.Descriptor
		case "param":
			cfg.Model.Param = f.Model.Param
		case "backend":
			cfg.Model.Backend = f.Model.Backend
		case "color_order":
			cfg.Model.ColorOrder = f.Model.ColorOrder
		case "ort_lib":
			cfg.Model.SharedLibrary = f.Model.SharedLibrary
		case "threads":
			cfg.Model.Threads = f.Model.Threads
		case "test_dir":
			cfg.Input.TestDir = f.Input.TestDir
		case "pattern":
			cfg.Input.Pattern = f.Input.Pattern
		case "sat_size":
			cfg.Tiling.SatSize = f.Tiling.SatSize
		case "map_size":
			cfg.Tiling.MapSize = f.Tiling.MapSize
		case "channels":
			cfg.Tiling.Channels = f.Tiling.Channels
		case "offset":
			cfg.Tiling.Offset = f.Tiling.Offset
		case "batchsize":
			cfg.Tiling.BatchSize = f.Tiling.BatchSize
		case "flush_partial":
			cfg.Tiling.FlushPartial = f.Tiling.FlushPartial
		case "out":
			cfg.Output.Dir = f.Output.Dir
		case "format":
			cfg.Output.Format = f.Output.Format
		case "quality":
			cfg.Output.Quality = f.Output.Quality
		case "lossless":
			cfg.Output.Lossless = f.Output.Lossless
		case "scale":
			cfg.Output.Scale = f.Output.Scale
		case "average":
			cfg.Output.Average = f.Output.Average
		case "listen":
			cfg.Monitor.Listen = f.Monitor.Listen
		case "debug":
			cfg.Debug = f.Debug
		}
	})
}
