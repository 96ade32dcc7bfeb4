// Package report writes the relief aid report of a run.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/supplybot/internal/trajectory"
)

// Header is the report's column row. The first column is the unnamed row
// index.
var Header = []string{"", "Node no.", "Type of Relief Aid"}

// Write writes rows as CSV to w.
func Write(w io.Writer, rows []trajectory.ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i, r := range rows {
		if err := cw.Write([]string{strconv.Itoa(i), strconv.Itoa(r.Node), r.Category}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the report to path, creating parent directories. The
// file is written to a temporary name first and renamed into place.
func WriteFile(path string, rows []trajectory.ReportRow) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".report-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := Write(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Read parses a report written by Write.
func Read(r io.Reader) ([]trajectory.ReportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty report")
	}
	if records[0][1] != Header[1] || records[0][2] != Header[2] {
		return nil, fmt.Errorf("unexpected report header %q", records[0])
	}

	rows := make([]trajectory.ReportRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		node, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid node %q: %w", i, rec[1], err)
		}
		rows = append(rows, trajectory.ReportRow{Node: node, Category: rec[2]})
	}
	return rows, nil
}
