package pipeline

import "sync/atomic"

// Stats holds the progress counters of a run. Stages update them atomically,
// so a snapshot may be read at any time from another goroutine.
type Stats struct {
	patchesTotal           atomic.Int64
	patchesProduced        atomic.Int64
	patchesDropped         atomic.Int64
	batchesProduced        atomic.Int64
	batchesInferred        atomic.Int64
	predictionsEmitted     atomic.Int64
	predictionsAccumulated atomic.Int64
	phasesTotal            atomic.Int64
	phasesDone             atomic.Int64
	canvasHeight           atomic.Int64
	canvasWidth            atomic.Int64
	canvasChannels         atomic.Int64
}

// Snapshot is a point-in-time copy of Stats
type Snapshot struct {
	PatchesTotal           int64  `json:"patches_total"`
	PatchesProduced        int64  `json:"patches_produced"`
	PatchesDropped         int64  `json:"patches_dropped"`
	BatchesProduced        int64  `json:"batches_produced"`
	BatchesInferred        int64  `json:"batches_inferred"`
	PredictionsEmitted     int64  `json:"predictions_emitted"`
	PredictionsAccumulated int64  `json:"predictions_accumulated"`
	PhasesTotal            int64  `json:"phases_total"`
	PhasesDone             int64  `json:"phases_done"`
	CanvasShape            [3]int `json:"canvas_shape"`
}

// NewStats creates zeroed counters
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot returns the current counter values
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		PatchesTotal:           s.patchesTotal.Load(),
		PatchesProduced:        s.patchesProduced.Load(),
		PatchesDropped:         s.patchesDropped.Load(),
		BatchesProduced:        s.batchesProduced.Load(),
		BatchesInferred:        s.batchesInferred.Load(),
		PredictionsEmitted:     s.predictionsEmitted.Load(),
		PredictionsAccumulated: s.predictionsAccumulated.Load(),
		PhasesTotal:            s.phasesTotal.Load(),
		PhasesDone:             s.phasesDone.Load(),
		CanvasShape: [3]int{
			int(s.canvasHeight.Load()),
			int(s.canvasWidth.Load()),
			int(s.canvasChannels.Load()),
		},
	}
}

func (s *Stats) begin(patches, phases int, shape [3]int) {
	s.patchesTotal.Store(int64(patches))
	s.patchesProduced.Store(0)
	s.patchesDropped.Store(0)
	s.batchesProduced.Store(0)
	s.batchesInferred.Store(0)
	s.predictionsEmitted.Store(0)
	s.predictionsAccumulated.Store(0)
	s.phasesTotal.Store(int64(phases))
	s.phasesDone.Store(0)
	s.canvasHeight.Store(int64(shape[0]))
	s.canvasWidth.Store(int64(shape[1]))
	s.canvasChannels.Store(int64(shape[2]))
}
