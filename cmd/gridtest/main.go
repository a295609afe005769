// Command gridtest fits the well grid from a run configuration and prints
// the solved geometry without touching any image. Useful for checking a
// corner calibration before a long extraction run.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/FordyceLab/MicrowellProcessor-old/internal/config"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/grid"
	"github.com/FordyceLab/MicrowellProcessor-old/pkg/geometry"
)

func main() {
	configPath := flag.String("config", "", "Run configuration file (YAML)")
	printCenters := flag.Bool("centers", false, "Print every predicted well center")
	flag.Parse()

	if *configPath == "" {
		fmt.Println("Usage: gridtest -config run.yaml [-centers]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tiling := cfg.Tiling()

	// Fit with the tolerance check disabled so a bad calibration still
	// produces a diagnostic instead of just an error.
	model, err := grid.Fit(cfg.Corners, tiling, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Grid fit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Grid geometry ===\n")
	fmt.Printf("Array: %dx%d subarrays of %dx%d wells (%d wells)\n",
		tiling.SubarrayCols, tiling.SubarrayRows, tiling.WellCols, tiling.WellRows, tiling.WellCount())
	fmt.Printf("Intra-subarray step: (%.3f, %.3f) px\n", model.StepX(), model.StepY())
	fmt.Printf("Inter-subarray spacing: (%.1f, %.1f) px\n", tiling.SpacingX, tiling.SpacingY)
	fmt.Printf("Corner residual: %.3f px (tolerance %.1f px)\n", model.Residual(), cfg.Fit.TolerancePx)
	if cfg.Fit.TolerancePx > 0 && model.Residual() > cfg.Fit.TolerancePx {
		fmt.Printf("WARNING: residual exceeds tolerance; extraction would reject this calibration\n")
	}

	fmt.Printf("\nPer-corner errors:\n")
	cornerIndices := []struct {
		name   string
		idx    grid.Index
		picked geometry.Point2D
	}{
		{"top-left", grid.Index{}, cfg.Corners.TopLeft},
		{"top-right", grid.Index{SubCol: tiling.SubarrayCols - 1, Col: tiling.WellCols - 1}, cfg.Corners.TopRight},
		{"bottom-left", grid.Index{SubRow: tiling.SubarrayRows - 1, Row: tiling.WellRows - 1}, cfg.Corners.BottomLeft},
		{"bottom-right", grid.Index{
			SubCol: tiling.SubarrayCols - 1, Col: tiling.WellCols - 1,
			SubRow: tiling.SubarrayRows - 1, Row: tiling.WellRows - 1,
		}, cfg.Corners.BottomRight},
	}
	for _, c := range cornerIndices {
		predicted := model.CenterAt(c.idx)
		fmt.Printf("  %-12s picked=(%8.2f, %8.2f)  predicted=(%8.2f, %8.2f)  err=%.3f px\n",
			c.name, c.picked.X, c.picked.Y, predicted.X, predicted.Y, predicted.Distance(c.picked))
	}

	if *printCenters {
		fmt.Printf("\nWell centers:\n")
		for _, c := range model.Centers() {
			fmt.Printf("  %-16s (%9.3f, %9.3f)\n", c.Index, c.Point.X, c.Point.Y)
		}
	}
}
