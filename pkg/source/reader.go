package source

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"
)

// Row is one parsed worklog line. Immutable once parsed; the validator
// records defects against it but rewrites only defaulted fields.
type Row struct {
	// Line is the 1-based workbook row number, kept for diagnostics.
	Line     int
	Date     time.Time
	User     string
	Activity string
	// Task is the raw work-item label, possibly carrying a "Type #id: " prefix.
	Task    string
	Project string
	Hours   float64

	// RawDate and RawHours keep the original cell text so validation can
	// report exactly what the workbook said.
	RawDate  string
	RawHours string
}

var headerColumns = []string{"Date", "User", "Activity", "Task", "Project", "Hours"}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"01-02-06",
	"1/2/06 15:04",
	"2006-01-02 15:04:05",
}

// Read parses the fixed six-column sheet into rows. A missing sheet or a
// header that does not match the expected six columns is a structural
// failure and aborts; cell-level defects are left for Validate.
func Read(path, sheet string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open workbook")
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "sheet %q", sheet)
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("sheet %q is empty", sheet)
	}
	if err := checkHeader(rows[0]); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		if blankRow(cells) {
			continue
		}
		out = append(out, parseRow(i+2, cells))
	}
	return out, nil
}

func checkHeader(cells []string) error {
	if len(cells) < len(headerColumns) {
		return errors.Errorf("header has %d columns, want at least %d", len(cells), len(headerColumns))
	}
	for i, want := range headerColumns {
		if !strings.EqualFold(strings.TrimSpace(cells[i]), want) {
			return errors.Errorf("header column %d is %q, want %q", i+1, cells[i], want)
		}
	}
	return nil
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseRow(line int, cells []string) Row {
	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	row := Row{
		Line:     line,
		User:     cell(1),
		Activity: cell(2),
		Task:     cell(3),
		Project:  cell(4),
		RawDate:  cell(0),
		RawHours: cell(5),
	}
	if d, ok := parseDate(row.RawDate); ok {
		row.Date = d
	}
	if h, err := parseFloat(row.RawHours); err == nil {
		row.Hours = h
	}
	return row
}

func parseFloat(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."), 64)
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Truncate(24 * time.Hour), true
		}
	}
	// excelize can hand back serial numbers for unformatted date cells.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 25569 {
		d, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return d.Truncate(24 * time.Hour), true
		}
	}
	return time.Time{}, false
}
