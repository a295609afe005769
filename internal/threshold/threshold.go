// Package threshold applies per-well intensity thresholding to an extracted
// stamp stack. Each well is an independent map from input frame to output
// frame plus an occupancy summary, so wells are processed in parallel with no
// shared state.
package threshold

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/FordyceLab/MicrowellProcessor-old/internal/grid"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/stack"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/table"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Mode selects what the output frame contains.
type Mode int

const (
	ModeBinarize    Mode = iota // above threshold -> 255, else 0
	ModeMask                    // below threshold -> 0, else original value
	ModePassthrough             // original frame, occupancy only
	ModeOtsu                    // binarize with an automatic Otsu threshold
)

var modeNames = map[Mode]string{
	ModeBinarize:    "binarize",
	ModeMask:        "mask",
	ModePassthrough: "passthrough",
	ModeOtsu:        "otsu",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses a mode name from configuration.
func ParseMode(name string) (Mode, error) {
	for mode, n := range modeNames {
		if n == name {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown threshold mode %q (want binarize, mask, passthrough, or otsu)", name)
}

// Config controls thresholding.
type Config struct {
	Value           float64 // intensity threshold, 0..255 (ignored for otsu)
	Mode            Mode
	OccupancyCutoff float64 // fraction of above-threshold pixels for the pass flag
	Workers         int     // parallel workers; <=0 means NumCPU
}

// Validate checks the configuration before any processing starts.
func (c Config) Validate() error {
	if c.Mode != ModeOtsu && (c.Value < 0 || c.Value > 255) {
		return fmt.Errorf("threshold value %.1f outside valid intensity range [0, 255]", c.Value)
	}
	if c.OccupancyCutoff < 0 || c.OccupancyCutoff > 1 {
		return fmt.Errorf("occupancy cutoff %.2f outside [0, 1]", c.OccupancyCutoff)
	}
	return nil
}

// Input is one well image paired with its manifest row.
type Input struct {
	Index grid.Index
	Image *image.Gray
	Valid bool
}

// Pair matches stack frames with coordinate table rows and verifies that
// position k in both artifacts names the same well. A mismatch means the two
// stage-1 outputs drifted apart and nothing downstream can be trusted.
func Pair(frames []stack.Frame, rows []table.Row) ([]Input, error) {
	if len(frames) != len(rows) {
		return nil, fmt.Errorf("stack has %d frames but coordinate table has %d rows", len(frames), len(rows))
	}
	inputs := make([]Input, len(frames))
	for i := range frames {
		if frames[i].Index != rows[i].Index {
			return nil, fmt.Errorf("frame %d is well %s but table row %d is well %s",
				i, frames[i].Index, i, rows[i].Index)
		}
		inputs[i] = Input{Index: frames[i].Index, Image: frames[i].Image, Valid: rows[i].Valid}
	}
	return inputs, nil
}

// Result is the processed frame for one well.
type Result struct {
	Index     grid.Index
	Image     *image.Gray
	Occupancy float64 // fraction of pixels above threshold
	Above     bool    // occupancy >= cutoff
}

// Summary aggregates a processing run.
type Summary struct {
	Results       []Result
	Processed     int
	Skipped       int // wells flagged invalid in the manifest, discarded
	MeanOccupancy float64
}

// Process thresholds every valid input well. Output order matches input
// order with invalid wells removed; failures on individual wells abort only
// that well, never the run.
func Process(inputs []Input, cfg Config) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]*Result, len(inputs))
	errs := make([]error, len(inputs))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)
	for i, in := range inputs {
		if !in.Valid {
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(slot int, in Input) {
			defer wg.Done()
			defer func() { <-semaphore }()
			r, err := processWell(in, cfg)
			results[slot] = r
			errs[slot] = err
		}(i, in)
	}
	wg.Wait()

	summary := &Summary{}
	var occupancies []float64
	for i, in := range inputs {
		if !in.Valid {
			summary.Skipped++
			continue
		}
		if errs[i] != nil {
			return nil, fmt.Errorf("well %s: %w", in.Index, errs[i])
		}
		summary.Results = append(summary.Results, *results[i])
		summary.Processed++
		occupancies = append(occupancies, results[i].Occupancy)
	}
	if len(occupancies) > 0 {
		summary.MeanOccupancy = stat.Mean(occupancies, nil)
	}
	return summary, nil
}

func processWell(in Input, cfg Config) (*Result, error) {
	src, err := grayToMat(in.Image)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	value := float32(cfg.Value)
	switch cfg.Mode {
	case ModeBinarize:
		gocv.Threshold(src, &dst, value, 255, gocv.ThresholdBinary)
	case ModeMask:
		gocv.Threshold(src, &dst, value, 255, gocv.ThresholdToZero)
	case ModePassthrough:
		src.CopyTo(&dst)
	case ModeOtsu:
		value = gocv.Threshold(src, &dst, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
	default:
		return nil, fmt.Errorf("unknown mode %v", cfg.Mode)
	}

	// Occupancy is always measured against the source frame so mask and
	// passthrough report the same statistic as binarize.
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(src, &mask, value, 255, gocv.ThresholdBinary)
	total := src.Rows() * src.Cols()
	occupancy := float64(gocv.CountNonZero(mask)) / float64(total)

	out, err := matToGray(dst)
	if err != nil {
		return nil, err
	}
	return &Result{
		Index:     in.Index,
		Image:     out,
		Occupancy: occupancy,
		Above:     occupancy >= cfg.OccupancyCutoff,
	}, nil
}
