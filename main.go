// Command microwellproc runs the two-stage microwell processing pipeline:
// "extract" locates and crops every well of a stitched chip image into a
// stamp stack plus coordinate table, and "threshold" post-processes a stack
// produced by an earlier extract run. The stages communicate only through
// the persisted stack and table, so they can run arbitrarily far apart.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/FordyceLab/MicrowellProcessor-old/internal/config"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/grid"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/render"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/series"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/stack"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/stamp"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/table"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/threshold"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/version"

	"golang.org/x/image/tiff"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:])
	case "threshold":
		err = runThreshold(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("microwellproc %s\n", version.String())
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  microwellproc extract -config run.yaml (-image img.tif | -series dir) -out dir [-overlay]
  microwellproc threshold -config run.yaml -stack stack.tif -table table.csv -out dir
  microwellproc version`)
}

// runExtract is stage 1: fit the well grid from the configured corners and
// crop every well of each input image into a stack + coordinate table pair.
func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", "", "Run configuration file (YAML)")
	imagePath := fs.String("image", "", "Single stitched image to process")
	seriesDir := fs.String("series", "", "Directory containing a stitched image series")
	pattern := fs.String("pattern", "", "Series filename glob (default *StitchedImg*.tif)")
	outDir := fs.String("out", ".", "Output directory")
	overlay := fs.Bool("overlay", false, "Also render the inferred grid over each source image")
	fs.Parse(args)

	if *configPath == "" || (*imagePath == "" && *seriesDir == "") {
		return fmt.Errorf("need -config and one of -image or -series")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	tiling := cfg.Tiling()
	model, err := grid.Fit(cfg.Corners, tiling, cfg.Fit.TolerancePx)
	if err != nil {
		var fitErr *grid.FitError
		if errors.As(err, &fitErr) {
			return fmt.Errorf("corner calibration rejected: %w", err)
		}
		return err
	}
	fmt.Printf("Grid fit: %d wells, step=(%.2f, %.2f) px, corner residual=%.3f px\n",
		tiling.WellCount(), model.StepX(), model.StepY(), model.Residual())

	var entries []series.Entry
	if *imagePath != "" {
		entries = []series.Entry{{ID: 0, Path: *imagePath}}
	} else {
		entries, err = series.Discover(*seriesDir, *pattern)
		if err != nil {
			return err
		}
		fmt.Printf("Series: %d images under %s\n", len(entries), *seriesDir)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	centers := model.Centers()
	var totalValid, totalInvalid int
	for _, entry := range entries {
		valid, invalid, err := extractOne(entry, centers, tiling.StampWidth, cfg.Processing.NumWorkers, *outDir, *overlay)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Path, err)
		}
		totalValid += valid
		totalInvalid += invalid
	}

	fmt.Printf("Done: %d wells total, %d valid, %d outside image\n",
		totalValid+totalInvalid, totalValid, totalInvalid)
	return nil
}

func extractOne(entry series.Entry, centers []grid.Center, stampWidth, workers int, outDir string, overlay bool) (valid, invalid int, err error) {
	img, err := series.LoadGray(entry.Path)
	if err != nil {
		return 0, 0, err
	}

	result, err := stamp.Extract(img, centers, stampWidth, stamp.Options{Workers: workers})
	if err != nil {
		return 0, 0, err
	}

	source := filepath.Base(entry.Path)
	frames := make([]stack.Frame, len(result.Stamps))
	rows := make([]table.Row, len(result.Stamps))
	for i, s := range result.Stamps {
		frames[i] = stack.Frame{Index: s.Index, Image: s.Image}
		rows[i] = table.Row{
			Index:   s.Index,
			CenterX: s.Center.X,
			CenterY: s.Center.Y,
			Valid:   s.Valid,
			Source:  source,
		}
	}

	stem := strings.TrimSuffix(source, filepath.Ext(source))
	stackPath := filepath.Join(outDir, stem+"_stack.tif")
	tablePath := filepath.Join(outDir, stem+"_table.csv")
	if err := stack.Write(stackPath, frames); err != nil {
		return 0, 0, err
	}
	if err := table.Write(tablePath, rows); err != nil {
		return 0, 0, err
	}

	if overlay {
		// The ChamberBorders suffix keeps the render out of series discovery
		// on a re-run over the same directory.
		overlayPath := filepath.Join(outDir, stem+"_ChamberBorders.png")
		ov := render.Overlay(img, result.Stamps, stampWidth, render.DefaultOptions())
		if err := render.WritePNG(overlayPath, ov); err != nil {
			return 0, 0, fmt.Errorf("write overlay: %w", err)
		}
		fmt.Printf("%s: grid overlay -> %s\n", source, overlayPath)
	}

	fmt.Printf("%s: %d wells (%d valid, %d outside image) -> %s\n",
		source, len(result.Stamps), result.Valid, result.Invalid, stackPath)
	for _, e := range result.Errors {
		fmt.Printf("  skipped %v\n", e)
	}
	return result.Valid, result.Invalid, nil
}

// runThreshold is stage 2: read a stack + table pair from an earlier extract
// run, threshold every valid well, and save the processed well images plus a
// pass/fail table.
func runThreshold(args []string) error {
	fs := flag.NewFlagSet("threshold", flag.ExitOnError)
	configPath := fs.String("config", "", "Run configuration file (YAML)")
	stackPath := fs.String("stack", "", "Stamp stack from an extract run")
	tablePath := fs.String("table", "", "Coordinate table from the same run")
	outDir := fs.String("out", ".", "Output directory")
	fs.Parse(args)

	if *configPath == "" || *stackPath == "" || *tablePath == "" {
		return fmt.Errorf("need -config, -stack, and -table")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	tcfg, err := cfg.ThresholdConfig()
	if err != nil {
		return err
	}

	frames, err := stack.Read(*stackPath)
	if err != nil {
		return err
	}
	rows, err := table.Read(*tablePath)
	if err != nil {
		return err
	}
	inputs, err := threshold.Pair(frames, rows)
	if err != nil {
		return err
	}

	summary, err := threshold.Process(inputs, tcfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	resultRows := make([]table.ResultRow, len(summary.Results))
	var above int
	for i, r := range summary.Results {
		resultRows[i] = table.ResultRow{Index: r.Index, Occupancy: r.Occupancy, Above: r.Above}
		if r.Above {
			above++
		}
		name := fmt.Sprintf("well_s%02d.%02d_w%02d.%02d.tif",
			r.Index.SubCol, r.Index.SubRow, r.Index.Col, r.Index.Row)
		if err := writeWellImage(filepath.Join(*outDir, name), r); err != nil {
			return err
		}
	}

	resultsPath := filepath.Join(*outDir, "results.csv")
	if err := table.WriteResults(resultsPath, resultRows); err != nil {
		return err
	}

	fmt.Printf("Thresholded %d wells (%s, mode=%s): %d above cutoff, %d skipped as invalid, mean occupancy %.3f\n",
		summary.Processed, *stackPath, tcfg.Mode, above, summary.Skipped, summary.MeanOccupancy)
	fmt.Printf("Results written to %s\n", resultsPath)
	return nil
}

func writeWellImage(path string, r threshold.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create well image: %w", err)
	}
	defer f.Close()

	opts := &tiff.Options{Compression: tiff.Uncompressed}
	if err := tiff.Encode(f, r.Image, opts); err != nil {
		return fmt.Errorf("encode well image %s: %w", path, err)
	}
	return nil
}
