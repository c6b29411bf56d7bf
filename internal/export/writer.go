// Package export archives history stat trees as Parquet files.
//
// Each hour leaf of every history record becomes one row, carrying the full
// bucket path so the file can be queried without reconstructing the tree.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/viewtally/internal/record"
	"github.com/xtxerr/viewtally/internal/stats"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	case "gzip":
		return CompressionGzip, nil
	case "none", "":
		return CompressionNone, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// codec returns the parquet-go compression codec.
func (ct CompressionType) codec() compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// HourRow is one hour leaf of a history record's tree.
type HourRow struct {
	RecordID   string `parquet:"record_id,zstd"`
	VideoID    string `parquet:"video_id,zstd"`
	URL        string `parquet:"url,zstd"`
	Status     string `parquet:"status,zstd"`
	Year       int32  `parquet:"year"`
	Month      string `parquet:"month,zstd"`
	Week       int32  `parquet:"week"`
	Date       string `parquet:"date,zstd"`
	Hour       int32  `parquet:"hour"`
	TotalLoads int64  `parquet:"total_loads"`
	ExportedAt int64  `parquet:"exported_at_ms"`
}

// Flatten converts a record's tree into rows in tree order.
func Flatten(rec record.HistoryRecord, exportedAtMs int64) []HourRow {
	var rows []HourRow
	stats.Walk(rec.Stats, func(y stats.YearStat, m stats.MonthStat, w stats.WeekStat, d stats.DayStat, h stats.HourStat) {
		rows = append(rows, HourRow{
			RecordID:   rec.ID,
			VideoID:    rec.VideoID,
			URL:        rec.URL,
			Status:     string(rec.Status),
			Year:       int32(y.Year),
			Month:      m.Month,
			Week:       int32(w.WeekNumber),
			Date:       d.Date,
			Hour:       int32(h.Hour),
			TotalLoads: h.TotalLoads,
			ExportedAt: exportedAtMs,
		})
	})
	return rows
}

// HourWriter writes hour rows to a Parquet file.
type HourWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[HourRow]
	rowCount int64
	closed   bool
}

// NewHourWriter creates a new Parquet writer at path.
func NewHourWriter(path string, opts Options) (*HourWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[HourRow](f, parquet.Compression(opts.Compression.codec()))

	return &HourWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes rows to the Parquet file.
func (w *HourWriter) Write(rows []HourRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the writer.
func (w *HourWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *HourWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *HourWriter) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
