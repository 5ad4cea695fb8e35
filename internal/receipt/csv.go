package receipt

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Writer defines the interface for persisting a run's records
type Writer interface {
	// Write replaces the file at path with the given records
	Write(path string, records []Record) error
}

// CSVWriter implements the Writer interface using a CSV file on the local filesystem
type CSVWriter struct {
	bom bool
}

// NewCSVWriter creates a new CSVWriter. When bom is set the file starts with
// a UTF-8 byte order mark so spreadsheet applications pick the right encoding.
func NewCSVWriter(bom bool) *CSVWriter {
	return &CSVWriter{bom: bom}
}

// Write writes the header and one row per record, overwriting path
func (c *CSVWriter) Write(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating csv file: %w", err)
	}

	var w io.Writer = f
	var tw *transform.Writer
	if c.bom {
		tw = transform.NewWriter(f, unicode.UTF8BOM.NewEncoder())
		w = tw
	}

	if err := Encode(w, records); err != nil {
		f.Close()
		return err
	}
	if tw != nil {
		if err := tw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("flushing csv file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}
	return nil
}

// Encode writes records as CSV to w. The header is always written.
func Encode(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Values()); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}
