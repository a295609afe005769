// Package table reads and writes the coordinate table: the CSV manifest that
// pairs every stamp frame in the stack with its well index, predicted center,
// and validity flag. The table is written once at extraction time and treated
// as immutable by downstream consumers.
package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/FordyceLab/MicrowellProcessor-old/internal/grid"
)

// Columns is the stable column order of the coordinate table.
var Columns = []string{
	"subarray_col", "subarray_row", "well_col", "well_row",
	"center_x", "center_y", "valid", "source",
}

// Row is one coordinate table entry. Row k of the table and frame k of the
// stamp stack always describe the same well.
type Row struct {
	Index   grid.Index
	CenterX float64
	CenterY float64
	Valid   bool // false when the crop left the image and the frame is blank
	Source  string
}

// Write writes the table to path, header first, one row per stamp in stack
// order.
func Write(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create coordinate table: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Index.SubCol),
			strconv.Itoa(r.Index.SubRow),
			strconv.Itoa(r.Index.Col),
			strconv.Itoa(r.Index.Row),
			strconv.FormatFloat(r.CenterX, 'f', 3, 64),
			strconv.FormatFloat(r.CenterY, 'f', 3, 64),
			strconv.FormatBool(r.Valid),
			r.Source,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Read reads a coordinate table written by Write. Row order is preserved.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open coordinate table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse coordinate table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("coordinate table %s is empty", path)
	}
	if len(records[0]) != len(Columns) {
		return nil, fmt.Errorf("coordinate table %s has %d columns, want %d",
			path, len(records[0]), len(Columns))
	}

	rows := make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		row, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("coordinate table row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(record []string) (Row, error) {
	var row Row
	var err error
	if row.Index.SubCol, err = strconv.Atoi(record[0]); err != nil {
		return row, fmt.Errorf("subarray_col: %w", err)
	}
	if row.Index.SubRow, err = strconv.Atoi(record[1]); err != nil {
		return row, fmt.Errorf("subarray_row: %w", err)
	}
	if row.Index.Col, err = strconv.Atoi(record[2]); err != nil {
		return row, fmt.Errorf("well_col: %w", err)
	}
	if row.Index.Row, err = strconv.Atoi(record[3]); err != nil {
		return row, fmt.Errorf("well_row: %w", err)
	}
	if row.CenterX, err = strconv.ParseFloat(record[4], 64); err != nil {
		return row, fmt.Errorf("center_x: %w", err)
	}
	if row.CenterY, err = strconv.ParseFloat(record[5], 64); err != nil {
		return row, fmt.Errorf("center_y: %w", err)
	}
	if row.Valid, err = strconv.ParseBool(record[6]); err != nil {
		return row, fmt.Errorf("valid: %w", err)
	}
	row.Source = record[7]
	return row, nil
}

// ResultColumns is the column order of the stage-2 pass/fail table.
var ResultColumns = []string{
	"subarray_col", "subarray_row", "well_col", "well_row",
	"occupancy", "above_threshold",
}

// ResultRow is one row of the per-well threshold summary.
type ResultRow struct {
	Index     grid.Index
	Occupancy float64
	Above     bool
}

// WriteResults writes the stage-2 pass/fail table.
func WriteResults(path string, rows []ResultRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(ResultColumns); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Index.SubCol),
			strconv.Itoa(r.Index.SubRow),
			strconv.Itoa(r.Index.Col),
			strconv.Itoa(r.Index.Row),
			strconv.FormatFloat(r.Occupancy, 'f', 4, 64),
			strconv.FormatBool(r.Above),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
