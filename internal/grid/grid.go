// Package grid infers the position of every microwell center in a stitched
// chip image from the four outside corner wells and the array tiling
// parameters.
package grid

import (
	"fmt"
	"math"

	"github.com/FordyceLab/MicrowellProcessor-old/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// Corners holds the pixel coordinates of the centers of the four extreme
// wells bounding the complete tiled array.
type Corners struct {
	TopLeft     geometry.Point2D `yaml:"topLeft"`
	TopRight    geometry.Point2D `yaml:"topRight"`
	BottomLeft  geometry.Point2D `yaml:"bottomLeft"`
	BottomRight geometry.Point2D `yaml:"bottomRight"`
}

// Tiling describes the array layout: a 2D tiling of subarrays, each holding
// a rectangular block of wells. Spacing is the pixel distance between a well
// and its nearest counterpart in the adjacent subarray, per axis.
type Tiling struct {
	SubarrayCols int // subarrays across
	SubarrayRows int // subarrays down
	WellCols     int // wells per subarray, across
	WellRows     int // wells per subarray, down
	SpacingX     float64
	SpacingY     float64
	StampWidth   int // side length of the square crop around each center
}

// WellsAcross returns the total number of well columns in the array.
func (t Tiling) WellsAcross() int {
	return t.SubarrayCols * t.WellCols
}

// WellsDown returns the total number of well rows in the array.
func (t Tiling) WellsDown() int {
	return t.SubarrayRows * t.WellRows
}

// WellCount returns the total number of wells in the array.
func (t Tiling) WellCount() int {
	return t.WellsAcross() * t.WellsDown()
}

// Index addresses a single well: subarray column/row, then well column/row
// within that subarray. All components are zero-based.
type Index struct {
	SubCol int
	SubRow int
	Col    int
	Row    int
}

func (i Index) String() string {
	return fmt.Sprintf("s%d.%d w%d.%d", i.SubCol, i.SubRow, i.Col, i.Row)
}

// Center is the inferred sub-pixel center of one well.
type Center struct {
	Index Index
	Point geometry.Point2D
}

// FitError reports corner geometry inconsistent with a parallelogram lattice
// beyond the configured tolerance. The run should be aborted: a bad corner
// calibration produces garbage for every well.
type FitError struct {
	Residual  float64 // RMS corner reprojection error, pixels
	Tolerance float64
}

func (e *FitError) Error() string {
	return fmt.Sprintf("corner fit residual %.2f px exceeds tolerance %.2f px: corners are inconsistent with the tiling",
		e.Residual, e.Tolerance)
}

// Model maps well indices to pixel centers. It is immutable once fitted and
// is computed once per image.
type Model struct {
	tiling    Tiling
	transform geometry.AffineTransform
	stepX     float64
	stepY     float64
	residual  float64
}

// Fit solves the array geometry from the four corners.
//
// Along each axis the well-to-well step alternates between the unknown
// intra-subarray step and the given inter-subarray spacing. The corner span
// fixes the single unknown in closed form:
//
//	step = (span - (subarrays-1)*spacing) / (subarrays*(wells-1))
//
// The four corners over-determine the lattice origin and basis vectors, so
// the lattice->pixel affine transform is fitted by least squares and the RMS
// corner residual is reported. A residual above tolerancePx returns *FitError
// rather than silently averaging away a bad calibration.
func Fit(corners Corners, tiling Tiling, tolerancePx float64) (*Model, error) {
	if tiling.WellsAcross() < 2 || tiling.WellsDown() < 2 {
		return nil, fmt.Errorf("array must span at least two wells on each axis, got %dx%d",
			tiling.WellsAcross(), tiling.WellsDown())
	}

	spanX := corners.TopLeft.Distance(corners.TopRight)
	spanY := corners.TopLeft.Distance(corners.BottomLeft)

	stepX, err := solveStep(spanX, tiling.SpacingX, tiling.SubarrayCols, tiling.WellCols)
	if err != nil {
		return nil, fmt.Errorf("horizontal axis: %w", err)
	}
	stepY, err := solveStep(spanY, tiling.SpacingY, tiling.SubarrayRows, tiling.WellRows)
	if err != nil {
		return nil, fmt.Errorf("vertical axis: %w", err)
	}

	m := &Model{tiling: tiling, stepX: stepX, stepY: stepY}

	// Lattice coordinates of the four corner wells.
	u := m.latticeX(tiling.SubarrayCols-1, tiling.WellCols-1)
	v := m.latticeY(tiling.SubarrayRows-1, tiling.WellRows-1)
	src := []geometry.Point2D{{X: 0, Y: 0}, {X: u, Y: 0}, {X: 0, Y: v}, {X: u, Y: v}}
	dst := []geometry.Point2D{corners.TopLeft, corners.TopRight, corners.BottomLeft, corners.BottomRight}

	transform, err := fitAffineLeastSquares(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lattice fit: %w", err)
	}
	m.transform = transform

	var sumSq float64
	for i := range src {
		d := transform.Apply(src[i]).Distance(dst[i])
		sumSq += d * d
	}
	m.residual = math.Sqrt(sumSq / float64(len(src)))

	if tolerancePx > 0 && m.residual > tolerancePx {
		return nil, &FitError{Residual: m.residual, Tolerance: tolerancePx}
	}
	return m, nil
}

// solveStep finds the uniform intra-subarray step from the total corner span.
// The span decomposes into subarrays*(wells-1) intra-subarray steps plus
// (subarrays-1) inter-subarray gaps of the given spacing.
func solveStep(span, spacing float64, subarrays, wells int) (float64, error) {
	gaps := float64(subarrays - 1)
	steps := float64(subarrays * (wells - 1))
	if steps == 0 {
		// One well per subarray: the spacing alone must account for the span.
		return 0, nil
	}
	step := (span - gaps*spacing) / steps
	if step <= 0 {
		return 0, fmt.Errorf("inter-subarray spacing %.1f px leaves no room for wells within a %.1f px span",
			spacing, span)
	}
	return step, nil
}

// latticeX returns the scalar offset, in pixels along the top edge, of the
// well at (subCol, col) from the top-left corner well.
func (m *Model) latticeX(subCol, col int) float64 {
	subarrayPitch := float64(m.tiling.WellCols-1)*m.stepX + m.tiling.SpacingX
	return float64(subCol)*subarrayPitch + float64(col)*m.stepX
}

// latticeY returns the scalar offset along the left edge of the well at
// (subRow, row).
func (m *Model) latticeY(subRow, row int) float64 {
	subarrayPitch := float64(m.tiling.WellRows-1)*m.stepY + m.tiling.SpacingY
	return float64(subRow)*subarrayPitch + float64(row)*m.stepY
}

// StepX returns the solved intra-subarray well pitch along the horizontal axis.
func (m *Model) StepX() float64 { return m.stepX }

// StepY returns the solved intra-subarray well pitch along the vertical axis.
func (m *Model) StepY() float64 { return m.stepY }

// Residual returns the RMS corner reprojection error in pixels.
func (m *Model) Residual() float64 { return m.residual }

// Tiling returns the tiling the model was fitted for.
func (m *Model) Tiling() Tiling { return m.tiling }

// CenterAt returns the predicted pixel center of the well at idx.
func (m *Model) CenterAt(idx Index) geometry.Point2D {
	return m.transform.Apply(geometry.Point2D{
		X: m.latticeX(idx.SubCol, idx.Col),
		Y: m.latticeY(idx.SubRow, idx.Row),
	})
}

// Centers enumerates every well center in the canonical order used for the
// stamp stack and the coordinate table: subarray row, subarray column, well
// row, well column (global row-major). The returned slice always has exactly
// Tiling.WellCount() entries.
func (m *Model) Centers() []Center {
	t := m.tiling
	centers := make([]Center, 0, t.WellCount())
	for sr := 0; sr < t.SubarrayRows; sr++ {
		for sc := 0; sc < t.SubarrayCols; sc++ {
			for r := 0; r < t.WellRows; r++ {
				for c := 0; c < t.WellCols; c++ {
					idx := Index{SubCol: sc, SubRow: sr, Col: c, Row: r}
					centers = append(centers, Center{Index: idx, Point: m.CenterAt(idx)})
				}
			}
		}
	}
	return centers
}

// fitAffineLeastSquares fits a 2x3 affine transform to point correspondences
// by solving the overdetermined system with QR decomposition.
func fitAffineLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 3 points, got %d", n)
	}

	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)

	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y
		xp, yp := dst[i].X, dst[i].Y

		// x' = a*x + b*y + tx
		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, xp)

		// y' = c*x + d*y + ty
		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, yp)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, err
	}

	return geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	}, nil
}
