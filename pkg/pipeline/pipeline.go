// Package pipeline runs the patch producer, the inference loop and the canvas
// accumulator as three goroutines joined by two FIFO channels.
//
// Predictions carry no coordinates. The accumulator pairs the i-th prediction
// it receives with the i-th origin of its own sweep, which is only correct
// because both channels have a single sender and a single receiver and the
// producer and accumulator walk the same tiling.Sweeper. Prediction.Seq lets
// the accumulator detect a broken order instead of silently misplacing tiles.
//
// Closing a channel is the end-of-stream marker; each stage closes its output
// exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/orthotile/pkg/canvas"
	"github.com/menta2k/orthotile/pkg/patch"
	"github.com/menta2k/orthotile/pkg/predictor"
	"github.com/menta2k/orthotile/pkg/tiling"
	"github.com/menta2k/orthotile/pkg/types"
)

// PatchQueueSize bounds how far the producer may run ahead of inference
const PatchQueueSize = 1

var (
	// ErrOutOfOrder is returned when predictions no longer line up with the sweep
	ErrOutOfOrder = errors.New("prediction out of order")
	// ErrShortPrediction is returned when the predictor output has the wrong length
	ErrShortPrediction = errors.New("unexpected prediction size")
)

// Option configures a Pipeline
type Option func(*Pipeline)

// WithFlushPartial sends the trailing batch even when it holds fewer than
// BatchSize patches. Without it those patches are dropped.
func WithFlushPartial(flush bool) Option {
	return func(p *Pipeline) {
		p.flushPartial = flush
	}
}

// WithStats makes the pipeline report progress into s
func WithStats(s *Stats) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.stats = s
		}
	}
}

// WithDebug enables per-batch timing logs
func WithDebug(debug bool) Option {
	return func(p *Pipeline) {
		p.debug = debug
	}
}

// Pipeline turns an orthophoto into a prediction canvas
type Pipeline struct {
	predictor    predictor.Predictor
	geometry     types.Geometry
	flushPartial bool
	debug        bool
	stats        *Stats
}

// New creates a pipeline that runs batches through pr
func New(pr predictor.Predictor, g types.Geometry, opts ...Option) (*Pipeline, error) {
	if pr == nil {
		return nil, errors.New("predictor is required")
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	p := &Pipeline{
		predictor: pr,
		geometry:  g,
		stats:     NewStats(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Geometry returns the sliding-window layout
func (p *Pipeline) Geometry() types.Geometry {
	return p.geometry
}

// Stats returns the progress counters
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Run sweeps the orthophoto and returns the accumulated canvas.
// The canvas is only touched by the accumulator goroutine until Run returns.
func (p *Pipeline) Run(ctx context.Context, ortho *types.Orthophoto) (*canvas.Canvas, error) {
	g := p.geometry
	cv := canvas.ForImage(g, ortho.Height, ortho.Width)
	sweeper := tiling.NewSweeper(g, ortho.Height, ortho.Width)
	p.stats.begin(sweeper.Count(), len(sweeper.Phases()), cv.Shape())

	patches := make(chan types.Batch, PatchQueueSize)
	preds := make(chan types.Prediction, 2*g.BatchSize)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return p.Produce(ctx, ortho, patches)
	})
	eg.Go(func() error {
		return p.Infer(ctx, patches, preds)
	})
	eg.Go(func() error {
		return p.Accumulate(ctx, ortho.Height, ortho.Width, preds, cv)
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return cv, nil
}

// Produce extracts normalized patches in sweep order, packs them into
// minibatches and sends them on out. out is closed when the sweep ends.
func (p *Pipeline) Produce(ctx context.Context, ortho *types.Orthophoto, out chan<- types.Batch) error {
	defer close(out)

	g := p.geometry
	norm := patch.NewNormalizer(g.SatSize)
	patchLen := ortho.Channels * g.SatSize * g.SatSize
	newBatch := func(seq int) types.Batch {
		return types.Batch{
			Seq:      seq,
			Channels: ortho.Channels,
			Size:     g.SatSize,
			Data:     make([]float32, g.BatchSize*patchLen),
		}
	}

	batch := newBatch(0)
	var err error
	tiling.NewSweeper(g, ortho.Height, ortho.Width).Walk(func(c tiling.Coord) bool {
		dst := batch.Data[batch.N*patchLen : (batch.N+1)*patchLen]
		if err = norm.Extract(ortho, c.Y, c.X, dst); err != nil {
			return false
		}
		batch.N++
		p.stats.patchesProduced.Add(1)

		if batch.N == g.BatchSize {
			if err = send(ctx, out, batch); err != nil {
				return false
			}
			p.stats.batchesProduced.Add(1)
			batch = newBatch(batch.Seq + 1)
		}
		return true
	})
	if err != nil {
		return err
	}

	if batch.N == 0 {
		return nil
	}
	if !p.flushPartial {
		log.Printf("dropping final partial batch of %d patches", batch.N)
		p.stats.patchesDropped.Add(int64(batch.N))
		return nil
	}
	batch.Data = batch.Data[:batch.N*patchLen]
	if err := send(ctx, out, batch); err != nil {
		return err
	}
	p.stats.batchesProduced.Add(1)
	return nil
}

// Infer runs every batch received on in through the predictor and sends the
// individual predictions on out in batch order. out is closed when in is
// exhausted or on error.
func (p *Pipeline) Infer(ctx context.Context, in <-chan types.Batch, out chan<- types.Prediction) error {
	defer close(out)

	predLen := p.geometry.PredictionLen()
	seq := 0
	for {
		batch, ok, err := recv(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		start := time.Now()
		values, err := p.predictor.Predict(ctx, batch)
		if err != nil {
			return fmt.Errorf("batch %d: inference failed: %w", batch.Seq, err)
		}
		if len(values) != batch.N*predLen {
			return fmt.Errorf("batch %d: got %d values for %d patches of %d: %w",
				batch.Seq, len(values), batch.N, predLen, ErrShortPrediction)
		}
		p.stats.batchesInferred.Add(1)
		if p.debug {
			log.Printf("batch %d: %d patches in %v", batch.Seq, batch.N, time.Since(start))
		}

		for i := 0; i < batch.N; i++ {
			pred := types.Prediction{Seq: seq, Data: values[i*predLen : (i+1)*predLen]}
			if err := send(ctx, out, pred); err != nil {
				return err
			}
			p.stats.predictionsEmitted.Add(1)
			seq++
		}
	}
}

// Accumulate walks the sweep for an image of height × width pixels, pairs each
// origin with the next prediction from in and adds it into cv. A closed
// channel ends the remaining phases early.
func (p *Pipeline) Accumulate(ctx context.Context, height, width int, in <-chan types.Prediction, cv *canvas.Canvas) error {
	g := p.geometry
	sweeper := tiling.NewSweeper(g, height, width)

	expected := 0
	closed := false
	var err error
	for _, d := range sweeper.Phases() {
		start := time.Now()
		sweeper.Phase(d, func(y, x int) bool {
			var pred types.Prediction
			var ok bool
			pred, ok, err = recv(ctx, in)
			if err != nil {
				return false
			}
			if !ok {
				closed = true
				return false
			}
			if pred.Seq != expected {
				err = fmt.Errorf("%w: got %d, expected %d", ErrOutOfOrder, pred.Seq, expected)
				return false
			}
			expected++
			if err = cv.Add(y, x, g.MapSize, pred.Data); err != nil {
				return false
			}
			p.stats.predictionsAccumulated.Add(1)
			return true
		})
		if err != nil {
			return err
		}
		log.Printf("offset:%d (%.3f sec)", d, time.Since(start).Seconds())
		p.stats.phasesDone.Add(1)
		if closed {
			return nil
		}
	}

	extra := 0
	for {
		_, ok, err := recv(ctx, in)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		extra++
	}
	if extra > 0 {
		return fmt.Errorf("%w: %d predictions left after the sweep", ErrOutOfOrder, extra)
	}
	return nil
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recv[T any](ctx context.Context, ch <-chan T) (T, bool, error) {
	select {
	case v, ok := <-ch:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}
