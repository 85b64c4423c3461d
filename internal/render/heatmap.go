// Package render draws debug images of the spatial grid.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"broadphase/internal/sim"
)

// MaxImageSide caps the rendered image on either axis.
const MaxImageSide = 4096

var (
	backgroundColor = color.RGBA{12, 12, 28, 255}
	gridColor       = color.RGBA{51, 51, 51, 255}
	bodyColor       = color.RGBA{255, 255, 255, 128}
	legendColor     = color.RGBA{255, 255, 255, 255}
)

// Options controls heatmap output.
type Options struct {
	Scale  float64 // Pixels per world unit, 0 means 1
	Bodies bool    // Outline every body
	Legend bool    // Print the bucket stats in the corner
}

// HeatmapImage renders the occupied cells of view, shaded by bucket size.
func HeatmapImage(view sim.GridView, opts Options) image.Image {
	return draw(view, opts).Image()
}

// Heatmap renders view and encodes it as PNG.
func Heatmap(view sim.GridView, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := draw(view, opts).EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode heatmap: %w", err)
	}
	return buf.Bytes(), nil
}

func draw(view sim.GridView, opts Options) *gg.Context {
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	if side := math.Max(view.Width, view.Height) * scale; side > MaxImageSide {
		scale = MaxImageSide / math.Max(view.Width, view.Height)
	}

	width := int(math.Min(MaxImageSide, math.Ceil(view.Width*scale)))
	height := int(math.Min(MaxImageSide, math.Ceil(view.Height*scale)))
	dc := gg.NewContext(max(width, 1), max(height, 1))

	dc.SetColor(backgroundColor)
	dc.Clear()

	largest := 0
	for _, c := range view.Cells {
		largest = max(largest, c.Count)
	}

	cell := view.CellSize * scale
	for _, c := range view.Cells {
		dc.SetColor(heat(float64(c.Count) / float64(largest)))
		dc.DrawRectangle(float64(c.Key.X)*cell, float64(c.Key.Y)*cell, cell, cell)
		dc.Fill()
	}

	// Grid lines, skipped when cells are too small to tell apart
	if cell >= 4 {
		dc.SetColor(gridColor)
		dc.SetLineWidth(1)
		for x := cell; x < float64(width); x += cell {
			dc.DrawLine(x, 0, x, float64(height))
		}
		for y := cell; y < float64(height); y += cell {
			dc.DrawLine(0, y, float64(width), y)
		}
		dc.Stroke()
	}

	if opts.Bodies {
		dc.SetColor(bodyColor)
		dc.SetLineWidth(1)
		for _, b := range view.Boxes {
			dc.DrawRectangle(b.X*scale, b.Y*scale, b.Width*scale, b.Height*scale)
		}
		dc.Stroke()
	}

	if opts.Legend {
		dc.SetFontFace(basicfont.Face7x13)
		dc.SetColor(legendColor)
		dc.DrawString(fmt.Sprintf("cells=%d largest=%d", len(view.Cells), largest), 4, 13)
	}

	return dc
}

// heat maps t in [0,1] from a dim yellow to a saturated red.
func heat(t float64) color.Color {
	t = math.Max(0, math.Min(1, t))
	return color.NRGBA{
		R: 255,
		G: uint8(200 * (1 - t)),
		B: 0,
		A: uint8(60 + 150*t),
	}
}
