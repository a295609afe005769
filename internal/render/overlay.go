// Package render draws the inferred well grid over a source image so an
// operator can eyeball a corner calibration before trusting a run. The render
// is a diagnostic artifact only; nothing downstream reads it back.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"github.com/FordyceLab/MicrowellProcessor-old/internal/stamp"
	"github.com/FordyceLab/MicrowellProcessor-old/pkg/colorutil"
)

// Options configures the overlay.
type Options struct {
	CrossRadius int // half-length of the center cross, pixels
}

// DefaultOptions returns the standard overlay style.
func DefaultOptions() Options {
	return Options{CrossRadius: 4}
}

// Overlay composites the extraction result over the source image: a green
// crop rectangle and center cross for every valid well, magenta for wells
// whose crop left the image.
func Overlay(src image.Image, stamps []stamp.Stamp, stampWidth int, opts Options) *image.RGBA {
	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	for _, s := range stamps {
		c := colorutil.Green
		if !s.Valid {
			c = colorutil.Magenta
		}

		x0 := int(math.Round(s.Center.X)) - stampWidth/2
		y0 := int(math.Round(s.Center.Y)) - stampWidth/2
		drawRect(img, x0, y0, x0+stampWidth-1, y0+stampWidth-1, colorutil.Darken(c, 0.3))

		cx := int(math.Round(s.Center.X))
		cy := int(math.Round(s.Center.Y))
		drawCross(img, cx, cy, opts.CrossRadius, c)
	}
	return img
}

// WritePNG saves an overlay render to path.
func WritePNG(path string, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// drawRect draws a rectangle outline, clipped to the image bounds.
func drawRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	bounds := img.Bounds()

	for x := x1; x <= x2; x++ {
		if x >= bounds.Min.X && x < bounds.Max.X {
			if y1 >= bounds.Min.Y && y1 < bounds.Max.Y {
				img.Set(x, y1, c)
			}
			if y2 >= bounds.Min.Y && y2 < bounds.Max.Y {
				img.Set(x, y2, c)
			}
		}
	}
	for y := y1; y <= y2; y++ {
		if y >= bounds.Min.Y && y < bounds.Max.Y {
			if x1 >= bounds.Min.X && x1 < bounds.Max.X {
				img.Set(x1, y, c)
			}
			if x2 >= bounds.Min.X && x2 < bounds.Max.X {
				img.Set(x2, y, c)
			}
		}
	}
}

// drawCross marks a well center with a plus-shaped cross.
func drawCross(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	bounds := img.Bounds()

	for x := cx - r; x <= cx+r; x++ {
		if x >= bounds.Min.X && x < bounds.Max.X && cy >= bounds.Min.Y && cy < bounds.Max.Y {
			img.Set(x, cy, c)
		}
	}
	for y := cy - r; y <= cy+r; y++ {
		if y >= bounds.Min.Y && y < bounds.Max.Y && cx >= bounds.Min.X && cx < bounds.Max.X {
			img.Set(cx, y, c)
		}
	}
}
