package canvas

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/menta2k/orthotile/pkg/types"
)

// DefaultScale maps the model's [0,1] output onto 8-bit pixels
const DefaultScale = 255.0

// Canvas is a channel-last float32 buffer. Every write adds to what is already
// there; Hits counts how many predictions touched each pixel.
type Canvas struct {
	Height   int
	Width    int
	Channels int
	Pix      []float32
	Hits     []uint16
}

// New allocates a zeroed canvas
func New(height, width, channels int) *Canvas {
	if height < 0 {
		height = 0
	}
	if width < 0 {
		width = 0
	}
	return &Canvas{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float32, height*width*channels),
		Hits:     make([]uint16, height*width),
	}
}

// ForImage allocates the canvas matching an image of height × width pixels
func ForImage(g types.Geometry, height, width int) *Canvas {
	return New(height-g.Border(), width-g.Border(), g.Channels)
}

// Shape returns (height, width, channels)
func (c *Canvas) Shape() [3]int {
	return [3]int{c.Height, c.Width, c.Channels}
}

// At returns the value at (y, x, ch)
func (c *Canvas) At(y, x, ch int) float32 {
	return c.Pix[(y*c.Width+x)*c.Channels+ch]
}

// Add composites a channel-first size × size prediction into the region whose
// top-left corner is (y, x)
func (c *Canvas) Add(y, x, size int, chw []float32) error {
	if y < 0 || x < 0 || y+size > c.Height || x+size > c.Width {
		return fmt.Errorf("region (%d,%d)+%d outside %dx%d canvas", y, x, size, c.Height, c.Width)
	}
	plane := size * size
	if len(chw) != c.Channels*plane {
		return fmt.Errorf("prediction has %d values, expected %d", len(chw), c.Channels*plane)
	}

	for py := 0; py < size; py++ {
		row := (y+py)*c.Width + x
		for px := 0; px < size; px++ {
			dst := (row + px) * c.Channels
			src := py*size + px
			for ch := 0; ch < c.Channels; ch++ {
				c.Pix[dst+ch] += chw[ch*plane+src]
			}
			if c.Hits[row+px] < math.MaxUint16 {
				c.Hits[row+px]++
			}
		}
	}
	return nil
}

// Average divides every pixel by the number of predictions that covered it
func (c *Canvas) Average() {
	for i, n := range c.Hits {
		if n <= 1 {
			continue
		}
		inv := 1 / float32(n)
		for ch := 0; ch < c.Channels; ch++ {
			c.Pix[i*c.Channels+ch] *= inv
		}
	}
}

// Range returns the minimum and maximum value held by the canvas
func (c *Canvas) Range() (float32, float32) {
	if len(c.Pix) == 0 {
		return 0, 0
	}
	lo, hi := c.Pix[0], c.Pix[0]
	for _, v := range c.Pix[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Image converts the canvas to an 8-bit image. Values are multiplied by scale,
// rounded half to even and saturated to [0,255]. Three and four channel canvases are read in
// the given colour order and written as RGB(A).
func (c *Canvas) Image(scale float64, order types.ColorOrder) (image.Image, error) {
	rect := image.Rect(0, 0, c.Width, c.Height)

	switch c.Channels {
	case 1:
		img := image.NewGray(rect)
		for y := 0; y < c.Height; y++ {
			for x := 0; x < c.Width; x++ {
				img.SetGray(x, y, color.Gray{Y: quantize(c.At(y, x, 0), scale)})
			}
		}
		return img, nil
	case 3, 4:
		img := image.NewNRGBA(rect)
		r, b := 0, 2
		if order == types.BGR {
			r, b = 2, 0
		}
		for y := 0; y < c.Height; y++ {
			for x := 0; x < c.Width; x++ {
				px := color.NRGBA{
					R: quantize(c.At(y, x, r), scale),
					G: quantize(c.At(y, x, 1), scale),
					B: quantize(c.At(y, x, b), scale),
					A: 255,
				}
				if c.Channels == 4 {
					px.A = quantize(c.At(y, x, 3), scale)
				}
				img.SetNRGBA(x, y, px)
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("cannot encode a %d-channel canvas as an image", c.Channels)
	}
}

func quantize(v float32, scale float64) uint8 {
	f := math.RoundToEven(float64(v) * scale)
	switch {
	case math.IsNaN(f), f <= 0:
		return 0
	case f >= 255:
		return 255
	}
	return uint8(f)
}
