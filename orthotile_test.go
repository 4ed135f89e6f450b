package orthotile

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"github.com/menta2k/orthotile/internal/config"
	"github.com/menta2k/orthotile/pkg/identity"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 2), uint8(y * 2), uint8((x + y) % 256), 255})
		}
	}
	return img
}

func writeTIFF(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatalf("tiff.Encode failed: %v", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Model.Backend = config.BackendIdentity
	cfg.Tiling.BatchSize = 4
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func TestOpenIdentity(t *testing.T) {
	ot, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ot.Close()

	if _, ok := ot.predictor.(*identity.Predictor); !ok {
		t.Errorf("Expected identity predictor, got %T", ot.predictor)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tiling.MapSize = 100
	if _, err := Open(cfg); err == nil {
		t.Error("Expected error for map_size larger than sat_size")
	}
}

func TestProcessDir(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	writeTIFF(t, filepath.Join(dir, "a.tif"), createTestImage(128, 128))
	writeTIFF(t, filepath.Join(dir, "b.tiff"), createTestImage(96, 128))

	ot, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ot.Close()

	if err := ot.ProcessDir(context.Background(), dir); err != nil {
		t.Fatalf("ProcessDir failed: %v", err)
	}

	out, err := imaging.Open(filepath.Join(cfg.Output.Dir, "a.png"))
	if err != nil {
		t.Fatalf("Missing output for a.tif: %v", err)
	}
	if out.Bounds().Dx() != 80 || out.Bounds().Dy() != 80 {
		t.Errorf("Expected 80x80 output, got %v", out.Bounds())
	}

	out, err = imaging.Open(filepath.Join(cfg.Output.Dir, "b.png"))
	if err != nil {
		t.Fatalf("Missing output for b.tiff: %v", err)
	}
	if out.Bounds().Dx() != 48 || out.Bounds().Dy() != 80 {
		t.Errorf("Expected 48x80 output, got %v", out.Bounds())
	}

	snap := ot.Snapshot()
	if snap.ImagesDone != 2 || snap.ImagesTotal != 2 {
		t.Errorf("Expected 2/2 images, got %d/%d", snap.ImagesDone, snap.ImagesTotal)
	}
	if snap.RunID == "" {
		t.Error("Expected a run id")
	}
	if snap.CanvasShape != [3]int{80, 48, 1} {
		t.Errorf("Expected last canvas shape (80, 48, 1), got %v", snap.CanvasShape)
	}
}

func TestProcessDirStopsAtFirstFailure(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	writeTIFF(t, filepath.Join(dir, "a.tif"), createTestImage(32, 32))
	writeTIFF(t, filepath.Join(dir, "b.tif"), createTestImage(128, 128))

	ot, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ot.Close()

	if err := ot.ProcessDir(context.Background(), dir); err == nil {
		t.Fatal("Expected error for an image smaller than a patch")
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Dir, "b.png")); !os.IsNotExist(err) {
		t.Error("Expected processing to stop before b.tif")
	}
}

func TestProcessFileDebugOverlay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debug = true
	cfg.Output.Average = true
	dir := t.TempDir()
	in := filepath.Join(dir, "a.tif")
	writeTIFF(t, in, createTestImage(128, 128))

	ot, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ot.Close()

	outPath, err := ot.ProcessFile(context.Background(), in, cfg.Output.Dir)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if outPath != filepath.Join(cfg.Output.Dir, "a.png") {
		t.Errorf("Unexpected output path %s", outPath)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Dir, "a.tiles.png")); err != nil {
		t.Errorf("Expected overlay output: %v", err)
	}
}

func TestProcessDirEmpty(t *testing.T) {
	ot, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ot.Close()

	if err := ot.ProcessDir(context.Background(), t.TempDir()); err != nil {
		t.Errorf("Expected no error for an empty directory, got %v", err)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected version %s, got %s", Version, GetVersion())
	}
}

func TestProcessFileLogsSizes(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	cfg := testConfig(t)
	in := filepath.Join(t.TempDir(), "area.tif")
	writeTIFF(t, in, createTestImage(112, 96))

	ot, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ot.Close()

	outPath, err := ot.ProcessFile(context.Background(), in, cfg.Output.Dir)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "area.tif 112x96") {
		t.Errorf("Expected input dimensions in log, got:\n%s", out)
	}
	if !strings.Contains(out, "wrote "+outPath+" (") || !strings.Contains(out, "B)") {
		t.Errorf("Expected output size in log, got:\n%s", out)
	}
}
