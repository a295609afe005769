// Package config loads and validates the run configuration for both pipeline
// stages. Validation happens at the boundary: a malformed configuration is
// rejected with a descriptive error before any image is opened.
package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/FordyceLab/MicrowellProcessor-old/internal/grid"
	"github.com/FordyceLab/MicrowellProcessor-old/internal/threshold"

	"gopkg.in/yaml.v3"
)

// Error reports a rejected configuration field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Config is the YAML run configuration.
type Config struct {
	// Corners are the pixel centers of the four extreme wells, picked by the
	// operator in an external viewer.
	Corners grid.Corners `yaml:"corners"`

	Array struct {
		SubarrayCols int     `yaml:"subarrayCols"`
		SubarrayRows int     `yaml:"subarrayRows"`
		WellCols     int     `yaml:"wellCols"`
		WellRows     int     `yaml:"wellRows"`
		SpacingX     float64 `yaml:"spacingX"`
		SpacingY     float64 `yaml:"spacingY"`
		StampWidth   int     `yaml:"stampWidth"`
	} `yaml:"array"`

	Fit struct {
		// TolerancePx is the maximum acceptable RMS corner residual.
		TolerancePx float64 `yaml:"tolerancePx"`
	} `yaml:"fit"`

	Threshold struct {
		Value           float64 `yaml:"value"`
		Mode            string  `yaml:"mode"`
		OccupancyCutoff float64 `yaml:"occupancyCutoff"`
	} `yaml:"threshold"`

	Processing struct {
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`
}

// Default returns a configuration with defaults for everything except the
// corners and array geometry, which have no sensible defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Fit.TolerancePx = 5.0
	cfg.Threshold.Value = 128
	cfg.Threshold.Mode = "binarize"
	cfg.Threshold.OccupancyCutoff = 0.5
	cfg.Processing.NumWorkers = runtime.NumCPU()
	return cfg
}

// Load reads and validates a run configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every externally supplied parameter.
func (c *Config) Validate() error {
	a := c.Array
	if a.SubarrayCols <= 0 || a.SubarrayRows <= 0 {
		return &Error{"array", fmt.Sprintf("subarray dims must be positive, got %dx%d", a.SubarrayCols, a.SubarrayRows)}
	}
	if a.WellCols <= 0 || a.WellRows <= 0 {
		return &Error{"array", fmt.Sprintf("well dims must be positive, got %dx%d", a.WellCols, a.WellRows)}
	}
	if a.SubarrayCols*a.WellCols < 2 {
		return &Error{"array", "array must span at least two well columns"}
	}
	if a.SubarrayRows*a.WellRows < 2 {
		return &Error{"array", "array must span at least two well rows"}
	}
	if a.SubarrayCols > 1 && a.SpacingX <= 0 {
		return &Error{"array.spacingX", "must be positive when there is more than one subarray column"}
	}
	if a.SubarrayRows > 1 && a.SpacingY <= 0 {
		return &Error{"array.spacingY", "must be positive when there is more than one subarray row"}
	}
	if a.SpacingX < 0 || a.SpacingY < 0 {
		return &Error{"array", "spacing must not be negative"}
	}
	if a.StampWidth <= 0 {
		return &Error{"array.stampWidth", fmt.Sprintf("must be positive, got %d", a.StampWidth)}
	}

	if c.Corners.TopLeft.Distance(c.Corners.TopRight) <= 0 {
		return &Error{"corners", "top-left and top-right wells coincide"}
	}
	if c.Corners.TopLeft.Distance(c.Corners.BottomLeft) <= 0 {
		return &Error{"corners", "top-left and bottom-left wells coincide"}
	}

	if c.Fit.TolerancePx < 0 {
		return &Error{"fit.tolerancePx", "must not be negative"}
	}

	if _, err := c.ThresholdConfig(); err != nil {
		return &Error{"threshold", err.Error()}
	}

	if c.Processing.NumWorkers < 0 {
		return &Error{"processing.numWorkers", "must not be negative"}
	}
	return nil
}

// Tiling returns the array geometry as a grid tiling.
func (c *Config) Tiling() grid.Tiling {
	return grid.Tiling{
		SubarrayCols: c.Array.SubarrayCols,
		SubarrayRows: c.Array.SubarrayRows,
		WellCols:     c.Array.WellCols,
		WellRows:     c.Array.WellRows,
		SpacingX:     c.Array.SpacingX,
		SpacingY:     c.Array.SpacingY,
		StampWidth:   c.Array.StampWidth,
	}
}

// ThresholdConfig returns the stage-2 processing configuration.
func (c *Config) ThresholdConfig() (threshold.Config, error) {
	mode, err := threshold.ParseMode(c.Threshold.Mode)
	if err != nil {
		return threshold.Config{}, err
	}
	cfg := threshold.Config{
		Value:           c.Threshold.Value,
		Mode:            mode,
		OccupancyCutoff: c.Threshold.OccupancyCutoff,
		Workers:         c.Processing.NumWorkers,
	}
	if err := cfg.Validate(); err != nil {
		return threshold.Config{}, err
	}
	return cfg, nil
}
