package tiling

import (
	"reflect"
	"testing"

	"github.com/menta2k/orthotile/pkg/types"
)

func testGeometry(offset int) types.Geometry {
	return types.Geometry{SatSize: 64, MapSize: 16, Channels: 1, Offset: offset, BatchSize: 4}
}

func TestPhases(t *testing.T) {
	tests := []struct {
		offset int
		want   []int
	}{
		{1, []int{0}},
		{2, []int{0, 4}},
		{3, []int{0, 2, 4, 6}},
		{4, []int{0, 2, 4, 6}},
		{8, []int{0, 1, 2, 3, 4, 5, 6, 7}},
	}

	for _, tt := range tests {
		got := Phases(testGeometry(tt.offset))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("offset %d: expected phases %v, got %v", tt.offset, tt.want, got)
		}
	}
}

func TestPhasesRejectsZeroStep(t *testing.T) {
	if got := Phases(testGeometry(9)); got != nil {
		t.Errorf("Expected no phases for offset beyond map_size/2, got %v", got)
	}
	if got := Phases(testGeometry(0)); got != nil {
		t.Errorf("Expected no phases for offset 0, got %v", got)
	}
}

func TestCoordsSinglePhase(t *testing.T) {
	s := NewSweeper(testGeometry(1), 128, 128)
	coords := s.Coords()

	if len(coords) != 25 {
		t.Fatalf("Expected 25 patches, got %d", len(coords))
	}
	if s.Count() != len(coords) {
		t.Errorf("Count() = %d, Coords() has %d", s.Count(), len(coords))
	}

	first, last := coords[0], coords[len(coords)-1]
	if first != (Coord{Phase: 0, Y: 0, X: 0}) {
		t.Errorf("Unexpected first coord %+v", first)
	}
	if last != (Coord{Phase: 0, Y: 64, X: 64}) {
		t.Errorf("Unexpected last coord %+v", last)
	}

	// row-major: x advances before y
	if coords[1] != (Coord{Phase: 0, Y: 0, X: 16}) {
		t.Errorf("Expected second coord at x=16, got %+v", coords[1])
	}
}

func TestCoordsStayInsideImage(t *testing.T) {
	g := testGeometry(3)
	s := NewSweeper(g, 150, 97)
	for _, c := range s.Coords() {
		if c.Y+g.SatSize > 150 || c.X+g.SatSize > 97 {
			t.Fatalf("Patch %+v leaves the 150x97 image", c)
		}
		if c.Y < c.Phase || c.X < c.Phase {
			t.Fatalf("Patch %+v starts before its phase", c)
		}
	}
}

func TestSweepIsDeterministic(t *testing.T) {
	g := testGeometry(2)
	a := NewSweeper(g, 300, 211).Coords()
	b := NewSweeper(g, 300, 211).Coords()

	// the accumulator consumes phase by phase
	var c []Coord
	s := NewSweeper(g, 300, 211)
	for _, d := range s.Phases() {
		s.Phase(d, func(y, x int) bool {
			c = append(c, Coord{Phase: d, Y: y, X: x})
			return true
		})
	}

	if !reflect.DeepEqual(a, b) {
		t.Error("Two sweeps over the same geometry differ")
	}
	if !reflect.DeepEqual(a, c) {
		t.Error("Phase-by-phase enumeration differs from Walk")
	}
}

func TestPhaseStopsEarly(t *testing.T) {
	s := NewSweeper(testGeometry(1), 128, 128)
	n := 0
	done := s.Phase(0, func(y, x int) bool {
		n++
		return n < 7
	})
	if done {
		t.Error("Expected Phase to report an interrupted sweep")
	}
	if n != 7 {
		t.Errorf("Expected 7 visits, got %d", n)
	}
}

func coverage(g types.Geometry, height, width int) []int {
	ch, cw := CanvasSize(g, height, width)
	hits := make([]int, ch*cw)
	NewSweeper(g, height, width).Walk(func(c Coord) bool {
		for y := c.Y; y < c.Y+g.MapSize; y++ {
			for x := c.X; x < c.X+g.MapSize; x++ {
				hits[y*cw+x]++
			}
		}
		return true
	})
	return hits
}

func TestSingleOffsetCoversEachPixelOnce(t *testing.T) {
	g := testGeometry(1)
	ch, cw := CanvasSize(g, 128, 128)
	if ch != 80 || cw != 80 {
		t.Fatalf("Expected 80x80 canvas, got %dx%d", ch, cw)
	}
	for i, n := range coverage(g, 128, 128) {
		if n != 1 {
			t.Fatalf("Pixel %d covered %d times, expected exactly once", i, n)
		}
	}
}

func TestMultipleOffsetsOverlap(t *testing.T) {
	g := testGeometry(2)
	hits := coverage(g, 128, 128)
	maxHits := 0
	for _, n := range hits {
		if n > maxHits {
			maxHits = n
		}
	}
	if maxHits != 2 {
		t.Errorf("Expected pixels covered up to 2 times, max was %d", maxHits)
	}
}

func TestImageSmallerThanPatch(t *testing.T) {
	s := NewSweeper(testGeometry(1), 40, 200)
	if n := s.Count(); n != 0 {
		t.Errorf("Expected no patches for an image shorter than sat_size, got %d", n)
	}
}
