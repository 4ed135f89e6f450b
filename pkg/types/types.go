package types

import "fmt"

// Geometry describes the sliding-window layout used to cover one orthophoto
type Geometry struct {
	SatSize   int `json:"sat_size"`
	MapSize   int `json:"map_size"`
	Channels  int `json:"channels"`
	Offset    int `json:"offset"`
	BatchSize int `json:"batchsize"`
}

// Border is the number of pixels lost between the patch and its prediction
func (g Geometry) Border() int {
	return g.SatSize - g.MapSize
}

// PredictionLen is the number of values one prediction carries
func (g Geometry) PredictionLen() int {
	return g.Channels * g.MapSize * g.MapSize
}

// Validate checks that the geometry can be swept
func (g Geometry) Validate() error {
	switch {
	case g.SatSize <= 0:
		return fmt.Errorf("sat_size must be positive, got %d", g.SatSize)
	case g.MapSize <= 0:
		return fmt.Errorf("map_size must be positive, got %d", g.MapSize)
	case g.MapSize > g.SatSize:
		return fmt.Errorf("map_size (%d) cannot exceed sat_size (%d)", g.MapSize, g.SatSize)
	case g.MapSize/2 < 1:
		return fmt.Errorf("map_size must be at least 2, got %d", g.MapSize)
	case g.Channels <= 0:
		return fmt.Errorf("channels must be positive, got %d", g.Channels)
	case g.BatchSize <= 0:
		return fmt.Errorf("batchsize must be positive, got %d", g.BatchSize)
	case g.Offset < 1 || g.Offset > g.MapSize/2:
		return fmt.Errorf("offset must be between 1 and %d, got %d", g.MapSize/2, g.Offset)
	}
	return nil
}

// Orthophoto is a channel-last uint8 raster
type Orthophoto struct {
	Height   int
	Width    int
	Channels int
	Pix      []uint8
}

// NewOrthophoto allocates a zeroed orthophoto
func NewOrthophoto(height, width, channels int) *Orthophoto {
	return &Orthophoto{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]uint8, height*width*channels),
	}
}

// Index returns the offset of (y, x, 0) in Pix
func (o *Orthophoto) Index(y, x int) int {
	return (y*o.Width + x) * o.Channels
}

// Batch is a minibatch of normalized patches in NCHW layout
type Batch struct {
	Seq      int
	N        int
	Channels int
	Size     int
	Data     []float32
}

// PatchLen is the number of values one patch of the batch carries
func (b Batch) PatchLen() int {
	return b.Channels * b.Size * b.Size
}

// Prediction is the model output for one patch in CHW layout.
// Seq is the global position of the patch in the sweep.
type Prediction struct {
	Seq  int
	Data []float32
}

// ColorOrder selects the channel order handed to the model
type ColorOrder string

const (
	BGR ColorOrder = "bgr"
	RGB ColorOrder = "rgb"
)
