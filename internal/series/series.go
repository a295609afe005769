// Package series discovers stitched chip images belonging to one imaging
// series and loads them for extraction. Filenames follow the acquisition
// convention *StitchedImg*_<index>.tif; border and summary renders that live
// in the same directory are skipped.
package series

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/maruel/natural"

	_ "golang.org/x/image/tiff"
)

// DefaultPattern matches stitched acquisition images.
const DefaultPattern = "*StitchedImg*.tif"

// Entry is one image of a series.
type Entry struct {
	ID   int // series index parsed from the trailing _<n> of the filename
	Path string
}

// Discover lists the series images under root matching pattern (DefaultPattern
// when empty), in natural filename order. The series index is taken from the
// trailing _<n> filename component; files without one are numbered by
// position.
func Discover(root, pattern string) ([]Entry, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad series pattern %q: %w", pattern, err)
	}

	var paths []string
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), filepath.Ext(m))
		if strings.Contains(stem, "ChamberBorders") || strings.Contains(stem, "Summary") {
			continue
		}
		paths = append(paths, m)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no series images matching %q under %s", pattern, root)
	}

	sort.SliceStable(paths, func(i, j int) bool { return natural.Less(paths[i], paths[j]) })

	entries := make([]Entry, len(paths))
	for i, p := range paths {
		entries[i] = Entry{ID: indexFromStem(p, i), Path: p}
	}
	return entries, nil
}

// indexFromStem parses the trailing _<n> series index from a filename.
func indexFromStem(path string, fallback int) int {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(stem, "_")
	if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
		return n
	}
	return fallback
}

// LoadGray decodes the image at path and returns it as 8-bit grayscale.
func LoadGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}

	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}

	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			gray.SetGray(x-b.Min.X, y-b.Min.Y, g)
		}
	}
	return gray, nil
}
