// Package spreadsheet parses the agency roster handed to the import endpoint.
//
// The roster is tabular data with a header row. Only two columns matter:
// "Agency Code" and "Report email"; everything else is ignored.
package spreadsheet

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

var (
	// ErrMissingColumns is returned when a required header is absent.
	ErrMissingColumns = errors.New(`roster must contain the columns "Agency Code" and "Report email"`)

	// ErrNoRows is returned when the roster has headers but zero data rows.
	ErrNoRows = errors.New("roster contains no rows")
)

const (
	agencyCodeHeader = "agency code"
	emailHeader      = "report email"
)

// Row is one parsed roster entry.
type Row struct {
	AgencyCode string
	Email      string
}

// Parse reads a CSV roster. Header matching is case-insensitive, extra
// columns are ignored, and rows with a blank agency code are skipped.
func Parse(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate ragged rows
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	codeIdx, emailIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case agencyCodeHeader:
			codeIdx = i
		case emailHeader:
			emailIdx = i
		}
	}
	if codeIdx < 0 || emailIdx < 0 {
		return nil, ErrMissingColumns
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if codeIdx >= len(record) || emailIdx >= len(record) {
			continue
		}
		code := strings.TrimSpace(record[codeIdx])
		if code == "" {
			continue
		}
		rows = append(rows, Row{
			AgencyCode: code,
			Email:      strings.TrimSpace(record[emailIdx]),
		})
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}
