package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/orthotile/internal/utils"
)

// Descriptor is the metadata file that travels with a set of model weights
type Descriptor struct {
	Backend       string `json:"backend"`
	Weights       string `json:"weights"`
	InputName     string `json:"input_name"`
	OutputName    string `json:"output_name"`
	InputChannels int    `json:"input_channels"`
	ColorOrder    string `json:"color_order"`
}

// LoadDescriptor reads a model descriptor. A path ending in .onnx is taken
// as the weights themselves. Relative weights resolve against the
// descriptor's directory.
func LoadDescriptor(path string) (*Descriptor, error) {
	if utils.GetFileExtension(path) == "onnx" {
		return &Descriptor{Backend: BackendONNX, Weights: path}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model descriptor: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse model descriptor %s: %w", path, err)
	}

	if d.Weights != "" && !filepath.IsAbs(d.Weights) {
		d.Weights = filepath.Join(filepath.Dir(path), d.Weights)
	}
	if d.InputChannels != 0 && d.InputChannels != 3 {
		return nil, fmt.Errorf("%w: model descriptor %s: input_channels must be 3, got %d", ErrInvalid, path, d.InputChannels)
	}
	return &d, nil
}
