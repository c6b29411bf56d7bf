package export

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// HourReader reads hour rows from a Parquet file.
type HourReader struct {
	file   *os.File
	reader *parquet.GenericReader[HourRow]
}

// NewHourReader opens a Parquet export for reading.
func NewHourReader(path string) (*HourReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &HourReader{
		file:   f,
		reader: parquet.NewGenericReader[HourRow](f),
	}, nil
}

// ReadAll reads every row of the file.
func (r *HourReader) ReadAll() ([]HourRow, error) {
	rows := make([]HourRow, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *HourReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *HourReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
