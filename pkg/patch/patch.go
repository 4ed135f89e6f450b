package patch

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/orthotile/pkg/types"
)

// Epsilon keeps flat patches from dividing by zero
const Epsilon = 1e-5

// Normalizer extracts normalized channel-first patches from an orthophoto.
// It keeps scratch buffers between calls and is not safe for concurrent use.
type Normalizer struct {
	size    int
	scratch []float64
}

// NewNormalizer creates a normalizer for square patches of the given size
func NewNormalizer(size int) *Normalizer {
	return &Normalizer{
		size:    size,
		scratch: make([]float64, size*size),
	}
}

// Extract copies the window with top-left corner (y, x) into dst as CHW floats.
// Every channel is shifted to zero mean and scaled by its population standard
// deviation plus Epsilon. dst must hold Channels × size × size values.
func (n *Normalizer) Extract(o *types.Orthophoto, y, x int, dst []float32) error {
	size := n.size
	if y < 0 || x < 0 || y+size > o.Height || x+size > o.Width {
		return fmt.Errorf("patch at (%d,%d) size %d outside %dx%d image", y, x, size, o.Height, o.Width)
	}
	plane := size * size
	if len(dst) < o.Channels*plane {
		return fmt.Errorf("patch buffer holds %d values, need %d", len(dst), o.Channels*plane)
	}

	for c := 0; c < o.Channels; c++ {
		for py := 0; py < size; py++ {
			src := o.Index(y+py, x) + c
			row := n.scratch[py*size : (py+1)*size]
			for px := range row {
				row[px] = float64(o.Pix[src])
				src += o.Channels
			}
		}

		mean, std := stat.PopMeanStdDev(n.scratch, nil)
		scale := 1 / (std + Epsilon)
		out := dst[c*plane : (c+1)*plane]
		for i, v := range n.scratch {
			out[i] = float32((v - mean) * scale)
		}
	}
	return nil
}
