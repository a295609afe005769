package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
corners:
  topLeft:     {x: 100, y: 100}
  topRight:    {x: 2100, y: 110}
  bottomLeft:  {x: 95, y: 1600}
  bottomRight: {x: 2095, y: 1610}
array:
  subarrayCols: 2
  subarrayRows: 2
  wellCols: 8
  wellRows: 8
  spacingX: 40
  spacingY: 40
  stampWidth: 30
fit:
  tolerancePx: 3.5
threshold:
  value: 100
  mode: mask
  occupancyCutoff: 0.25
processing:
  numWorkers: 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoad verifies a complete configuration loads with every field applied.
func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Corners.TopLeft.X != 100 || cfg.Corners.BottomRight.Y != 1610 {
		t.Errorf("corners not loaded: %+v", cfg.Corners)
	}
	tiling := cfg.Tiling()
	if tiling.WellCount() != 1024 {
		t.Errorf("expected 1024 wells, got %d", tiling.WellCount())
	}
	if tiling.StampWidth != 30 || tiling.SpacingX != 40 {
		t.Errorf("array geometry not loaded: %+v", tiling)
	}
	if cfg.Fit.TolerancePx != 3.5 {
		t.Errorf("expected tolerance 3.5, got %g", cfg.Fit.TolerancePx)
	}

	tcfg, err := cfg.ThresholdConfig()
	if err != nil {
		t.Fatalf("ThresholdConfig failed: %v", err)
	}
	if tcfg.Value != 100 || tcfg.Mode.String() != "mask" || tcfg.OccupancyCutoff != 0.25 || tcfg.Workers != 4 {
		t.Errorf("threshold config not loaded: %+v", tcfg)
	}
}

// TestDefaults verifies unspecified fields fall back to defaults.
func TestDefaults(t *testing.T) {
	partial := strings.Replace(validYAML, "fit:\n  tolerancePx: 3.5\n", "", 1)
	partial = strings.Replace(partial, "threshold:\n  value: 100\n  mode: mask\n  occupancyCutoff: 0.25\n", "", 1)

	cfg, err := Load(writeConfig(t, partial))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Fit.TolerancePx != 5.0 {
		t.Errorf("expected default tolerance 5.0, got %g", cfg.Fit.TolerancePx)
	}
	if cfg.Threshold.Value != 128 || cfg.Threshold.Mode != "binarize" || cfg.Threshold.OccupancyCutoff != 0.5 {
		t.Errorf("expected threshold defaults, got %+v", cfg.Threshold)
	}
}

// TestValidateRejections verifies each malformed field is rejected with a
// message naming the field.
func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		inField string
	}{
		{"zero subarrays", func(c *Config) { c.Array.SubarrayCols = 0 }, "array"},
		{"negative wells", func(c *Config) { c.Array.WellRows = -1 }, "array"},
		{"single column", func(c *Config) { c.Array.SubarrayCols = 1; c.Array.WellCols = 1 }, "array"},
		{"missing spacing", func(c *Config) { c.Array.SpacingX = 0 }, "spacingX"},
		{"negative spacing Y", func(c *Config) { c.Array.SubarrayRows = 1; c.Array.SpacingY = -5 }, "array"},
		{"zero stamp width", func(c *Config) { c.Array.StampWidth = 0 }, "stampWidth"},
		{"coincident corners", func(c *Config) { c.Corners.TopRight = c.Corners.TopLeft }, "corners"},
		{"negative tolerance", func(c *Config) { c.Fit.TolerancePx = -1 }, "tolerancePx"},
		{"bad threshold value", func(c *Config) { c.Threshold.Value = 500 }, "threshold"},
		{"bad threshold mode", func(c *Config) { c.Threshold.Mode = "sharpen" }, "threshold"},
		{"bad occupancy cutoff", func(c *Config) { c.Threshold.OccupancyCutoff = 2 }, "threshold"},
		{"negative workers", func(c *Config) { c.Processing.NumWorkers = -2 }, "numWorkers"},
	}

	for _, tc := range cases {
		cfg, err := Load(writeConfig(t, validYAML))
		if err != nil {
			t.Fatalf("%s: base config failed to load: %v", tc.name, err)
		}
		tc.mutate(cfg)

		err = cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", tc.name)
			continue
		}
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: expected *config.Error, got %T", tc.name, err)
			continue
		}
		if !strings.Contains(err.Error(), tc.inField) {
			t.Errorf("%s: error %q does not name %q", tc.name, err, tc.inField)
		}
	}
}

// TestLoadErrors covers missing and malformed files.
func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "corners: [not, a, mapping]")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
