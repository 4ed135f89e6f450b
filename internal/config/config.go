package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/orthotile/pkg/types"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Backend names
const (
	BackendONNX     = "onnx"
	BackendIdentity = "identity"
)

// Config holds the application configuration
type Config struct {
	Tiling  TilingConfig  `json:"tiling"`
	Model   ModelConfig   `json:"model"`
	Input   InputConfig   `json:"input"`
	Output  OutputConfig  `json:"output"`
	Monitor MonitorConfig `json:"monitor"`
	Debug   bool          `json:"debug"`
}

// TilingConfig holds the sweep geometry
type TilingConfig struct {
	SatSize      int  `json:"sat_size"`
	MapSize      int  `json:"map_size"`
	Channels     int  `json:"channels"`
	Offset       int  `json:"offset"`
	BatchSize    int  `json:"batchsize"`
	FlushPartial bool `json:"flush_partial"`
}

// ModelConfig selects and configures the predictor
type ModelConfig struct {
	Backend       string `json:"backend"`
	Descriptor    string `json:"descriptor"`
	Param         string `json:"param"`
	GPU           int    `json:"gpu"`
	SharedLibrary string `json:"shared_library"`
	Threads       int    `json:"threads"`
	InputName     string `json:"input_name"`
	OutputName    string `json:"output_name"`
	ColorOrder    string `json:"color_order"`
}

// InputConfig holds where orthophotos are read from
type InputConfig struct {
	TestDir string `json:"test_dir"`
	Pattern string `json:"pattern"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir      string  `json:"dir"`
	Format   string  `json:"format"`
	Quality  int     `json:"quality"`
	Lossless bool    `json:"lossless"`
	Scale    float64 `json:"scale"`
	Average  bool    `json:"average"`
}

// MonitorConfig holds the optional progress endpoint
type MonitorConfig struct {
	Listen string `json:"listen"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Tiling: TilingConfig{
			SatSize:   64,
			MapSize:   16,
			Channels:  1,
			Offset:    1,
			BatchSize: 128,
		},
		Model: ModelConfig{
			GPU: -1,
		},
		Input: InputConfig{
			Pattern: "*.tif*",
		},
		Output: OutputConfig{
			Format:  "png",
			Quality: 90,
			Scale:   255,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Geometry returns the sweep geometry
func (c *Config) Geometry() types.Geometry {
	return types.Geometry{
		SatSize:   c.Tiling.SatSize,
		MapSize:   c.Tiling.MapSize,
		Channels:  c.Tiling.Channels,
		Offset:    c.Tiling.Offset,
		BatchSize: c.Tiling.BatchSize,
	}
}

// ColorOrder returns the configured colour order, BGR when unset
func (c *Config) ColorOrder() types.ColorOrder {
	if c.Model.ColorOrder == "" {
		return types.BGR
	}
	return types.ColorOrder(strings.ToLower(c.Model.ColorOrder))
}

// OutputDir returns the output directory. It defaults to a "test"
// directory next to the model descriptor.
func (c *Config) OutputDir() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	base := c.Model.Descriptor
	if base == "" {
		base = c.Model.Param
	}
	if base == "" {
		return "test"
	}
	return filepath.Join(filepath.Dir(base), "test")
}

// ResolveModel loads the model descriptor, if any, and fills every model
// field the configuration leaves empty. Param always wins over the
// descriptor's weights.
func (c *Config) ResolveModel() error {
	if c.Model.Descriptor != "" {
		d, err := LoadDescriptor(c.Model.Descriptor)
		if err != nil {
			return err
		}
		if c.Model.Backend == "" {
			c.Model.Backend = d.Backend
		}
		if c.Model.Param == "" {
			c.Model.Param = d.Weights
		}
		if c.Model.InputName == "" {
			c.Model.InputName = d.InputName
		}
		if c.Model.OutputName == "" {
			c.Model.OutputName = d.OutputName
		}
		if c.Model.ColorOrder == "" {
			c.Model.ColorOrder = d.ColorOrder
		}
	}
	if c.Model.Backend == "" {
		c.Model.Backend = BackendONNX
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Geometry().Validate(); err != nil {
		return fmt.Errorf("%w: tiling: %v", ErrInvalid, err)
	}

	switch c.Model.Backend {
	case "", BackendONNX, BackendIdentity:
	default:
		return fmt.Errorf("%w: model.backend must be %q or %q, got %q", ErrInvalid, BackendONNX, BackendIdentity, c.Model.Backend)
	}

	if c.Model.GPU < -1 {
		return fmt.Errorf("%w: model.gpu must be -1 (CPU) or a device index", ErrInvalid)
	}

	if c.Model.Threads < 0 {
		return fmt.Errorf("%w: model.threads cannot be negative", ErrInvalid)
	}

	switch c.ColorOrder() {
	case types.BGR, types.RGB:
	default:
		return fmt.Errorf("%w: model.color_order must be bgr or rgb, got %q", ErrInvalid, c.Model.ColorOrder)
	}

	if c.Input.Pattern == "" {
		return fmt.Errorf("%w: input.pattern cannot be empty", ErrInvalid)
	}
	if _, err := filepath.Match(c.Input.Pattern, ""); err != nil {
		return fmt.Errorf("%w: input.pattern: %v", ErrInvalid, err)
	}

	switch strings.ToLower(c.Output.Format) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("%w: output.format must be png, jpg or webp, got %q", ErrInvalid, c.Output.Format)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("%w: output.quality must be between 1 and 100", ErrInvalid)
	}

	if c.Output.Scale <= 0 {
		return fmt.Errorf("%w: output.scale must be positive", ErrInvalid)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "orthotile", "config.json")
}
