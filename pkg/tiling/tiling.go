package tiling

import (
	"github.com/menta2k/orthotile/pkg/types"
)

// Coord is one patch origin
type Coord struct {
	Phase int
	Y     int
	X     int
}

// Phases returns the sub-tile offsets swept for g.
// They start at 0 and advance by (MapSize/2)/Offset while below MapSize/2,
// so an Offset that does not divide MapSize/2 yields extra phases.
func Phases(g types.Geometry) []int {
	half := g.MapSize / 2
	if half < 1 || g.Offset < 1 {
		return nil
	}
	step := half / g.Offset
	if step < 1 {
		return nil
	}
	phases := make([]int, 0, g.Offset+1)
	for d := 0; d < half; d += step {
		phases = append(phases, d)
	}
	return phases
}

// Sweeper walks patch origins over an image of a given size.
// Producer and accumulator pair predictions with origins by arrival order,
// so both must walk the same Sweeper.
type Sweeper struct {
	geometry types.Geometry
	height   int
	width    int
	phases   []int
}

// NewSweeper creates a sweeper for an image of height × width pixels
func NewSweeper(g types.Geometry, height, width int) *Sweeper {
	return &Sweeper{
		geometry: g,
		height:   height,
		width:    width,
		phases:   Phases(g),
	}
}

// Phases returns the offsets this sweeper visits, in order
func (s *Sweeper) Phases() []int {
	return s.phases
}

// Phase visits the origins of phase d in row-major order.
// A row is abandoned as soon as a patch would leave the image. Visiting stops
// when fn returns false; Phase reports whether the phase ran to completion.
func (s *Sweeper) Phase(d int, fn func(y, x int) bool) bool {
	step := s.geometry.MapSize
	size := s.geometry.SatSize
	for y := d; y < s.height; y += step {
		for x := d; x < s.width; x += step {
			if y+size > s.height || x+size > s.width {
				break
			}
			if !fn(y, x) {
				return false
			}
		}
	}
	return true
}

// Walk visits every origin of every phase. It stops when fn returns false.
func (s *Sweeper) Walk(fn func(c Coord) bool) {
	for _, d := range s.phases {
		ok := s.Phase(d, func(y, x int) bool {
			return fn(Coord{Phase: d, Y: y, X: x})
		})
		if !ok {
			return
		}
	}
}

// Coords returns the full enumeration
func (s *Sweeper) Coords() []Coord {
	var coords []Coord
	s.Walk(func(c Coord) bool {
		coords = append(coords, c)
		return true
	})
	return coords
}

// Count returns the number of patches in the enumeration
func (s *Sweeper) Count() int {
	n := 0
	s.Walk(func(Coord) bool {
		n++
		return true
	})
	return n
}

// CanvasSize returns the output canvas dimensions for an image of height × width
func CanvasSize(g types.Geometry, height, width int) (int, int) {
	return height - g.Border(), width - g.Border()
}
