package analyzer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/orthotile/pkg/types"
)

// InputChannels is the number of colour channels handed to the model
const InputChannels = 3

// ImageAnalyzer loads orthophotos and checks that they can be swept
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int
	ColorOrder       types.ColorOrder
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{
		config: Config{
			SupportedFormats: []string{"tiff", "png", "jpeg", "webp"},
			MinImageSize:     64,
			ColorOrder:       types.BGR,
		},
	}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	if config.ColorOrder == "" {
		config.ColorOrder = types.BGR
	}
	return &ImageAnalyzer{config: config}
}

// LoadImage loads an image from file
func (a *ImageAnalyzer) LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	img, err := a.LoadImageFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageFromReader loads an image from an io.Reader
func (a *ImageAnalyzer) LoadImageFromReader(reader io.Reader) (image.Image, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return a.decode(data)
}

func (a *ImageAnalyzer) decode(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Fallback: explicit WebP decode for extended formats
		if wimg, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
			img, format = wimg, "webp"
		} else {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
	}

	if !a.isFormatSupported(format) {
		return nil, fmt.Errorf("unsupported image format: %s", format)
	}
	return img, nil
}

// LoadOrthophoto loads, validates and converts an image file in one step
func (a *ImageAnalyzer) LoadOrthophoto(path string) (*types.Orthophoto, error) {
	img, err := a.LoadImage(path)
	if err != nil {
		return nil, err
	}
	if err := a.ValidateImage(img); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a.ToOrthophoto(img), nil
}

// ToOrthophoto converts img to a channel-last uint8 raster in the configured
// colour order. Alpha is discarded.
func (a *ImageAnalyzer) ToOrthophoto(img image.Image) *types.Orthophoto {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	o := types.NewOrthophoto(h, w, InputChannels)

	r, b := 0, 2
	if a.config.ColorOrder == types.BGR {
		r, b = 2, 0
	}
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			i := o.Index(y, x)
			o.Pix[i+r] = src[x*4]
			o.Pix[i+1] = src[x*4+1]
			o.Pix[i+b] = src[x*4+2]
		}
	}
	return o
}

// GetImageInfo returns basic information about an image
func (a *ImageAnalyzer) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// ValidateImage checks that at least one patch fits into the image
func (a *ImageAnalyzer) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}
	return nil
}
