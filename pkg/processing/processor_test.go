package processing

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/orthotile/pkg/canvas"
	"github.com/menta2k/orthotile/pkg/types"
)

func createTestCanvas() *canvas.Canvas {
	cv := canvas.New(8, 8, 1)
	for i := range cv.Pix {
		cv.Pix[i] = float32(i%8) / 8
	}
	return cv
}

func TestExtension(t *testing.T) {
	p := NewProcessor()
	tests := map[string]string{"png": "png", "PNG": "png", "jpeg": "jpg", "webp": "webp", "": "png"}
	for format, want := range tests {
		p.Format = format
		if got := p.Extension(); got != want {
			t.Errorf("format %q: expected extension %q, got %q", format, want, got)
		}
	}
}

func TestSaveCanvasPNG(t *testing.T) {
	p := NewProcessor()
	path := filepath.Join(t.TempDir(), "out.png")

	if err := p.SaveCanvas(createTestCanvas(), path); err != nil {
		t.Fatalf("SaveCanvas failed: %v", err)
	}

	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen output: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Errorf("Expected 8x8 output, got %v", img.Bounds())
	}
	// 4/8 * 255 = 127.5 rounds to the even 128
	r, _, _, _ := img.At(4, 0).RGBA()
	if r>>8 != 128 {
		t.Errorf("Expected gray 128 at x=4, got %d", r>>8)
	}
}

func TestSaveCanvasWebP(t *testing.T) {
	p := NewProcessor()
	p.Format = "webp"
	p.Lossless = true
	path := filepath.Join(t.TempDir(), "out.webp")

	if err := p.SaveCanvas(createTestCanvas(), path); err != nil {
		t.Fatalf("SaveCanvas failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := webp.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode webp output: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("Expected width 8, got %d", img.Bounds().Dx())
	}
}

func TestSaveImageUnsupportedFormat(t *testing.T) {
	p := NewProcessor()
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	if err := p.SaveImage(img, filepath.Join(t.TempDir(), "out.gif"), "gif", 90, false); err == nil {
		t.Error("Expected error for an unsupported format")
	}
}

func TestSaveCanvasUnsupportedChannels(t *testing.T) {
	p := NewProcessor()
	if err := p.SaveCanvas(canvas.New(2, 2, 2), filepath.Join(t.TempDir(), "out.png")); err == nil {
		t.Error("Expected error for a 2-channel canvas")
	}
}

func TestCreateTileOverlay(t *testing.T) {
	p := NewProcessor()
	src := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for i := range src.Pix {
		src.Pix[i] = 40
	}
	g := types.Geometry{SatSize: 64, MapSize: 16, Channels: 1, Offset: 1, BatchSize: 4}

	out := p.CreateTileOverlay(src, g).(*image.NRGBA)

	// patch corner at (0,0) is gold, prediction corner at (24,24) is green
	if got := out.NRGBAAt(0, 0); got != (color.NRGBA{255, 204, 0, 255}) {
		t.Errorf("Expected gold patch border at (0,0), got %+v", got)
	}
	if got := out.NRGBAAt(24, 24); got != (color.NRGBA{0, 255, 0, 255}) {
		t.Errorf("Expected green prediction border at (24,24), got %+v", got)
	}
	if src.Pix[0] != 40 {
		t.Error("Overlay must not modify the source image")
	}
}
