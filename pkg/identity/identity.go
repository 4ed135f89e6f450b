package identity

import (
	"context"
	"fmt"

	"github.com/menta2k/orthotile/pkg/types"
)

// Predictor crops the centre MapSize window out of every patch.
// Output channel k is taken from input channel k modulo the input channel count.
type Predictor struct {
	geometry types.Geometry
}

// New creates an identity predictor for g
func New(g types.Geometry) (*Predictor, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	return &Predictor{geometry: g}, nil
}

// Predict implements predictor.Predictor
func (p *Predictor) Predict(ctx context.Context, batch types.Batch) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := p.geometry
	if batch.Size != g.SatSize {
		return nil, fmt.Errorf("patch size %d, expected %d", batch.Size, g.SatSize)
	}
	if batch.Channels <= 0 || len(batch.Data) < batch.N*batch.PatchLen() {
		return nil, fmt.Errorf("batch holds %d values, expected %d", len(batch.Data), batch.N*batch.PatchLen())
	}

	margin := g.Border() / 2
	inPlane := g.SatSize * g.SatSize
	outPlane := g.MapSize * g.MapSize
	out := make([]float32, batch.N*g.PredictionLen())

	for n := 0; n < batch.N; n++ {
		src := batch.Data[n*batch.PatchLen() : (n+1)*batch.PatchLen()]
		dst := out[n*g.PredictionLen() : (n+1)*g.PredictionLen()]
		for k := 0; k < g.Channels; k++ {
			in := src[(k%batch.Channels)*inPlane:]
			plane := dst[k*outPlane : (k+1)*outPlane]
			for y := 0; y < g.MapSize; y++ {
				row := (y+margin)*g.SatSize + margin
				copy(plane[y*g.MapSize:(y+1)*g.MapSize], in[row:row+g.MapSize])
			}
		}
	}
	return out, nil
}

// Close implements predictor.Predictor
func (p *Predictor) Close() error {
	return nil
}
