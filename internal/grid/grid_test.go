package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/FordyceLab/MicrowellProcessor-old/pkg/geometry"
)

// squareCorners returns the worked example used throughout: a 100x100 px
// array of 2x2 subarrays with 2x2 wells each and 10 px inter-subarray gaps.
func squareCorners() (Corners, Tiling) {
	corners := Corners{
		TopLeft:     geometry.Point2D{X: 0, Y: 0},
		TopRight:    geometry.Point2D{X: 100, Y: 0},
		BottomLeft:  geometry.Point2D{X: 0, Y: 100},
		BottomRight: geometry.Point2D{X: 100, Y: 100},
	}
	tiling := Tiling{
		SubarrayCols: 2, SubarrayRows: 2,
		WellCols: 2, WellRows: 2,
		SpacingX: 10, SpacingY: 10,
		StampWidth: 20,
	}
	return corners, tiling
}

// TestWellCount verifies the center count for a range of tilings.
func TestWellCount(t *testing.T) {
	cases := []struct {
		subCols, subRows, wellCols, wellRows int
	}{
		{2, 2, 2, 2},
		{1, 1, 8, 4},
		{4, 2, 16, 16},
		{3, 1, 1, 5},
	}

	for _, tc := range cases {
		corners := Corners{
			TopLeft:     geometry.Point2D{X: 0, Y: 0},
			TopRight:    geometry.Point2D{X: 1000, Y: 0},
			BottomLeft:  geometry.Point2D{X: 0, Y: 800},
			BottomRight: geometry.Point2D{X: 1000, Y: 800},
		}
		tiling := Tiling{
			SubarrayCols: tc.subCols, SubarrayRows: tc.subRows,
			WellCols: tc.wellCols, WellRows: tc.wellRows,
			SpacingX: 20, SpacingY: 20,
			StampWidth: 10,
		}

		model, err := Fit(corners, tiling, 0)
		if err != nil {
			t.Fatalf("Fit failed for %+v: %v", tc, err)
		}

		want := tc.subCols * tc.wellCols * tc.subRows * tc.wellRows
		centers := model.Centers()
		if len(centers) != want {
			t.Errorf("tiling %+v: expected %d centers, got %d", tc, want, len(centers))
		}

		// Every index must be unique.
		seen := make(map[Index]bool, len(centers))
		for _, c := range centers {
			if seen[c.Index] {
				t.Errorf("tiling %+v: duplicate index %s", tc, c.Index)
			}
			seen[c.Index] = true
		}
	}
}

// TestWorkedExample checks the solved step and the corner wells for the
// 16-well example: step = (100 - 10) / 2 = 45, columns at 0, 45, 55, 100.
func TestWorkedExample(t *testing.T) {
	corners, tiling := squareCorners()

	model, err := Fit(corners, tiling, 1.0)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if math.Abs(model.StepX()-45) > 1e-9 {
		t.Errorf("expected step X 45, got %f", model.StepX())
	}
	if math.Abs(model.StepY()-45) > 1e-9 {
		t.Errorf("expected step Y 45, got %f", model.StepY())
	}
	if model.Residual() > 1e-9 {
		t.Errorf("consistent corners should fit exactly, residual %g", model.Residual())
	}

	// The four corner wells must reproduce the picked corners.
	cornerChecks := []struct {
		idx  Index
		want geometry.Point2D
	}{
		{Index{}, corners.TopLeft},
		{Index{SubCol: 1, Col: 1}, corners.TopRight},
		{Index{SubRow: 1, Row: 1}, corners.BottomLeft},
		{Index{SubCol: 1, SubRow: 1, Col: 1, Row: 1}, corners.BottomRight},
	}
	for _, c := range cornerChecks {
		got := model.CenterAt(c.idx)
		if got.Distance(c.want) > 1e-9 {
			t.Errorf("corner well %s: expected (%g, %g), got (%g, %g)",
				c.idx, c.want.X, c.want.Y, got.X, got.Y)
		}
	}

	// Interior columns sit at the solved step positions.
	wantX := []float64{0, 45, 55, 100}
	for i, x := range wantX {
		idx := Index{SubCol: i / 2, Col: i % 2}
		got := model.CenterAt(idx)
		if math.Abs(got.X-x) > 1e-9 {
			t.Errorf("column %d: expected x=%g, got %g", i, x, got.X)
		}
		if math.Abs(got.Y) > 1e-9 {
			t.Errorf("column %d: expected y=0, got %g", i, got.Y)
		}
	}
}

// TestUniformGridMatchesLinearInterpolation checks that with a single
// subarray the model reduces to plain linear interpolation between corners.
func TestUniformGridMatchesLinearInterpolation(t *testing.T) {
	corners := Corners{
		TopLeft:     geometry.Point2D{X: 10, Y: 20},
		TopRight:    geometry.Point2D{X: 310, Y: 20},
		BottomLeft:  geometry.Point2D{X: 10, Y: 220},
		BottomRight: geometry.Point2D{X: 310, Y: 220},
	}
	tiling := Tiling{
		SubarrayCols: 1, SubarrayRows: 1,
		WellCols: 4, WellRows: 5,
		StampWidth: 10,
	}

	model, err := Fit(corners, tiling, 1.0)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	for row := 0; row < tiling.WellRows; row++ {
		for col := 0; col < tiling.WellCols; col++ {
			fx := float64(col) / float64(tiling.WellCols-1)
			fy := float64(row) / float64(tiling.WellRows-1)
			want := geometry.Point2D{
				X: corners.TopLeft.X + fx*(corners.TopRight.X-corners.TopLeft.X),
				Y: corners.TopLeft.Y + fy*(corners.BottomLeft.Y-corners.TopLeft.Y),
			}
			got := model.CenterAt(Index{Col: col, Row: row})
			if got.Distance(want) > 1e-9 {
				t.Errorf("well (%d,%d): expected (%g, %g), got (%g, %g)",
					col, row, want.X, want.Y, got.X, got.Y)
			}
		}
	}
}

// TestShearedGrid verifies that a consistent parallelogram (sheared) grid
// fits with zero residual and reproduces the displaced corners.
func TestShearedGrid(t *testing.T) {
	corners := Corners{
		TopLeft:     geometry.Point2D{X: 0, Y: 0},
		TopRight:    geometry.Point2D{X: 100, Y: 0},
		BottomLeft:  geometry.Point2D{X: 20, Y: 100},
		BottomRight: geometry.Point2D{X: 120, Y: 100},
	}
	_, tiling := squareCorners()

	model, err := Fit(corners, tiling, 1.0)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if model.Residual() > 1e-6 {
		t.Errorf("parallelogram corners should fit exactly, residual %g", model.Residual())
	}

	br := model.CenterAt(Index{SubCol: 1, SubRow: 1, Col: 1, Row: 1})
	if br.Distance(corners.BottomRight) > 1e-6 {
		t.Errorf("bottom-right well: expected (120, 100), got (%g, %g)", br.X, br.Y)
	}
}

// TestFitErrorOnInconsistentCorners verifies that a displaced bottom-right
// corner is detected and reported, not silently averaged.
func TestFitErrorOnInconsistentCorners(t *testing.T) {
	corners, tiling := squareCorners()
	corners.BottomRight = geometry.Point2D{X: 140, Y: 130}

	_, err := Fit(corners, tiling, 5.0)
	if err == nil {
		t.Fatal("expected FitError for inconsistent corners")
	}

	var fitErr *FitError
	if !errors.As(err, &fitErr) {
		t.Fatalf("expected *FitError, got %T: %v", err, err)
	}
	if fitErr.Residual <= fitErr.Tolerance {
		t.Errorf("residual %f should exceed tolerance %f", fitErr.Residual, fitErr.Tolerance)
	}

	// With the tolerance check disabled the same corners still fit, and the
	// residual is reported for diagnostics.
	model, err := Fit(corners, tiling, 0)
	if err != nil {
		t.Fatalf("Fit with tolerance disabled failed: %v", err)
	}
	if model.Residual() <= 5.0 {
		t.Errorf("expected large residual, got %f", model.Residual())
	}
}

// TestEnumerationOrder pins the canonical order: subarray row, subarray
// column, well row, well column.
func TestEnumerationOrder(t *testing.T) {
	corners, tiling := squareCorners()
	model, err := Fit(corners, tiling, 1.0)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	want := []Index{
		{0, 0, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}, {0, 0, 1, 1},
		{1, 0, 0, 0}, {1, 0, 1, 0}, {1, 0, 0, 1}, {1, 0, 1, 1},
		{0, 1, 0, 0}, {0, 1, 1, 0}, {0, 1, 0, 1}, {0, 1, 1, 1},
		{1, 1, 0, 0}, {1, 1, 1, 0}, {1, 1, 0, 1}, {1, 1, 1, 1},
	}

	centers := model.Centers()
	if len(centers) != len(want) {
		t.Fatalf("expected %d centers, got %d", len(want), len(centers))
	}
	for i, c := range centers {
		if c.Index != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], c.Index)
		}
	}
}

// TestIdempotence verifies that fitting twice gives identical centers.
func TestIdempotence(t *testing.T) {
	corners, tiling := squareCorners()

	first, err := Fit(corners, tiling, 1.0)
	if err != nil {
		t.Fatalf("first Fit failed: %v", err)
	}
	second, err := Fit(corners, tiling, 1.0)
	if err != nil {
		t.Fatalf("second Fit failed: %v", err)
	}

	a, b := first.Centers(), second.Centers()
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("center %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

// TestFitRejectsImpossibleSpacing verifies that a spacing larger than the
// corner span is rejected before any centers are produced.
func TestFitRejectsImpossibleSpacing(t *testing.T) {
	corners, tiling := squareCorners()
	tiling.SpacingX = 200

	if _, err := Fit(corners, tiling, 1.0); err == nil {
		t.Fatal("expected error for spacing wider than the corner span")
	}
}

// TestFitRejectsSingleWellAxis verifies that a degenerate 1-well axis is
// rejected.
func TestFitRejectsSingleWellAxis(t *testing.T) {
	corners, tiling := squareCorners()
	tiling.SubarrayCols = 1
	tiling.WellCols = 1

	if _, err := Fit(corners, tiling, 1.0); err == nil {
		t.Fatal("expected error for a single-column array")
	}
}
