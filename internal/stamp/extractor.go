// Package stamp crops a fixed-size image around every predicted well center
// and assembles the ordered stamp stack together with its coordinate rows.
package stamp

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/FordyceLab/MicrowellProcessor-old/internal/grid"
	"github.com/FordyceLab/MicrowellProcessor-old/pkg/geometry"
)

// OutOfBoundsError reports a single well whose crop would extend past the
// image edge. It is recorded per well, never fatal to the run.
type OutOfBoundsError struct {
	Index grid.Index
	Crop  image.Rectangle
	Image image.Rectangle
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("well %s: crop %v extends past image bounds %v", e.Index, e.Crop, e.Image)
}

// Stamp is one cropped well image. When Valid is false the crop left the
// image and Image is a zero-filled (black) frame of the same size, so the
// stack keeps positional parity with the coordinate table.
type Stamp struct {
	Index  grid.Index
	Center geometry.Point2D
	Image  *image.Gray
	Valid  bool
}

// Result is the ordered stamp stack plus extraction statistics.
type Result struct {
	Stamps  []Stamp
	Valid   int
	Invalid int
	Errors  []*OutOfBoundsError // one per invalid well, in stack order
}

// Options controls extraction.
type Options struct {
	Workers int // parallel workers; <=0 means NumCPU
}

// Extract crops a width x width gray square centered on the rounded
// coordinate of every center, in the order given. Wells are independent, so
// they are processed by a bounded pool of workers, each writing to its own
// output slot.
func Extract(src image.Image, centers []grid.Center, width int, opts Options) (*Result, error) {
	if width <= 0 {
		return nil, fmt.Errorf("stamp width must be positive, got %d", width)
	}
	if len(centers) == 0 {
		return nil, fmt.Errorf("no well centers to extract")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	result := &Result{Stamps: make([]Stamp, len(centers))}
	bounds := src.Bounds()

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)
	for i, center := range centers {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(slot int, c grid.Center) {
			defer wg.Done()
			defer func() { <-semaphore }()
			result.Stamps[slot] = cropStamp(src, bounds, c, width)
		}(i, center)
	}
	wg.Wait()

	for i := range result.Stamps {
		s := &result.Stamps[i]
		if s.Valid {
			result.Valid++
			continue
		}
		result.Invalid++
		result.Errors = append(result.Errors, &OutOfBoundsError{
			Index: s.Index,
			Crop:  cropRect(s.Center, width),
			Image: bounds,
		})
	}
	return result, nil
}

// cropRect returns the integer crop rectangle for a center and stamp width.
// The rounded center lands on the pixel at width/2 in the stamp.
func cropRect(center geometry.Point2D, width int) image.Rectangle {
	x0 := int(math.Round(center.X)) - width/2
	y0 := int(math.Round(center.Y)) - width/2
	return image.Rect(x0, y0, x0+width, y0+width)
}

func cropStamp(src image.Image, bounds image.Rectangle, c grid.Center, width int) Stamp {
	stamp := Stamp{
		Index:  c.Index,
		Center: c.Point,
		Image:  image.NewGray(image.Rect(0, 0, width, width)),
	}

	crop := cropRect(c.Point, width)
	if !crop.In(bounds) {
		// Blank frame, valid=false: downstream consumers can tell padding
		// from real data while the stack keeps its length and order.
		return stamp
	}

	if gray, ok := src.(*image.Gray); ok {
		for y := 0; y < width; y++ {
			srcRow := (crop.Min.Y+y-gray.Rect.Min.Y)*gray.Stride + (crop.Min.X - gray.Rect.Min.X)
			copy(stamp.Image.Pix[y*stamp.Image.Stride:y*stamp.Image.Stride+width],
				gray.Pix[srcRow:srcRow+width])
		}
	} else {
		for y := 0; y < width; y++ {
			for x := 0; x < width; x++ {
				g := color.GrayModel.Convert(src.At(crop.Min.X+x, crop.Min.Y+y)).(color.Gray)
				stamp.Image.SetGray(x, y, g)
			}
		}
	}
	stamp.Valid = true
	return stamp
}
