package sample

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Header is the first line of a pH log.
const Header = "Time, Seconds from Start (s), pH"

// TimeLayout formats the Time column.
const TimeLayout = "2006-01-02 15:04:05"

// CSVWriter formats samples as pH log rows. The header is written before the
// first row. Failed samples carry the error text in the pH column.
type CSVWriter struct {
	w      io.Writer
	cw     *csv.Writer
	header bool
}

// NewCSVWriter creates a writer on w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w, cw: csv.NewWriter(w)}
}

// Write appends one row and flushes it.
func (c *CSVWriter) Write(s Sample) error {
	if !c.header {
		if _, err := io.WriteString(c.w, Header+"\n"); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		c.header = true
	}

	if err := c.cw.Write(Record(s)); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	c.cw.Flush()
	return c.cw.Error()
}

// Record returns the CSV fields of a sample.
func Record(s Sample) []string {
	value := strconv.FormatFloat(s.PH, 'f', 3, 64)
	if !s.OK() {
		value = s.Err.Error()
	}
	return []string{
		s.Timestamp.Format(TimeLayout),
		strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 1, 64),
		value,
	}
}
