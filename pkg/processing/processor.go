package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/orthotile/pkg/canvas"
	"github.com/menta2k/orthotile/pkg/tiling"
	"github.com/menta2k/orthotile/pkg/types"
)

// Processor handles output encoding and debug rendering
type Processor struct {
	Format     string
	Quality    int
	Lossless   bool
	Scale      float64
	ColorOrder types.ColorOrder
}

// NewProcessor creates a processor writing PNG with the default scale
func NewProcessor() *Processor {
	return &Processor{
		Format:     "png",
		Quality:    90,
		Scale:      canvas.DefaultScale,
		ColorOrder: types.BGR,
	}
}

// Extension returns the file extension for the configured format
func (p *Processor) Extension() string {
	switch f := strings.ToLower(p.Format); f {
	case "jpeg":
		return "jpg"
	case "":
		return "png"
	default:
		return f
	}
}

// SaveCanvas encodes the canvas as an 8-bit image and writes it to path
func (p *Processor) SaveCanvas(cv *canvas.Canvas, path string) error {
	img, err := cv.Image(p.Scale, p.ColorOrder)
	if err != nil {
		return err
	}
	return p.SaveImage(img, path, p.Format, p.Quality, p.Lossless)
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png", "":
		return imaging.Save(img, path)
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// CreateTileOverlay draws the patch windows (gold) and the prediction regions
// (green) of the first sweep phase on top of img
func (p *Processor) CreateTileOverlay(img image.Image, g types.Geometry) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	gold := color.NRGBA{255, 204, 0, 255}
	green := color.NRGBA{0, 255, 0, 255}
	stroke := int(math.Max(1, 0.002*float64(minInt(w, h))))
	margin := g.Border() / 2

	sweeper := tiling.NewSweeper(g, h, w)
	phases := sweeper.Phases()
	if len(phases) == 0 {
		return nrgba
	}
	sweeper.Phase(phases[0], func(y, x int) bool {
		drawRect(nrgba, image.Rect(x, y, x+g.SatSize, y+g.SatSize), gold, stroke)
		// prediction regions are interior crops of their patch
		drawRect(nrgba, image.Rect(x+margin, y+margin, x+margin+g.MapSize, y+margin+g.MapSize), green, stroke)
		return true
	})
	return nrgba
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
