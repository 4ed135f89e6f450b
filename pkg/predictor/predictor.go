package predictor

import (
	"context"

	"github.com/menta2k/orthotile/pkg/types"
)

// Predictor runs the network on one minibatch.
// Predict receives N patches in NCHW layout and returns N predictions of
// Channels × MapSize × MapSize values each, concatenated in batch order.
type Predictor interface {
	Predict(ctx context.Context, batch types.Batch) ([]float32, error)
	Close() error
}

// Func adapts a plain function to the Predictor interface
type Func func(ctx context.Context, batch types.Batch) ([]float32, error)

// Predict calls f
func (f Func) Predict(ctx context.Context, batch types.Batch) ([]float32, error) {
	return f(ctx, batch)
}

// Close does nothing
func (f Func) Close() error {
	return nil
}
