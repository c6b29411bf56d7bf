package export

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/xtxerr/viewtally/internal/logging"
	"github.com/xtxerr/viewtally/internal/record"
)

var log = logging.Component("export")

// Result describes a finished export.
type Result struct {
	Path    string
	Records int
	Rows    int64
	Pruned  int // older exports removed by retention
}

// FileName returns the export file name for an instant.
func FileName(at time.Time) string {
	return filePrefix + at.UTC().Format(fileLayout) + ".parquet"
}

// WriteRecords writes every hour leaf of recs into a new file under dir.
func WriteRecords(dir string, recs []record.HistoryRecord, at time.Time, opts Options) (Result, error) {
	path := filepath.Join(dir, FileName(at))

	w, err := NewHourWriter(path, opts)
	if err != nil {
		return Result{}, err
	}

	ms := at.UnixMilli()
	for _, rec := range recs {
		if err := w.Write(Flatten(rec, ms)); err != nil {
			w.Close()
			return Result{}, fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}

	if err := w.Close(); err != nil {
		return Result{}, err
	}

	res := Result{Path: path, Records: len(recs), Rows: w.RowCount()}
	log.Info("history exported", "path", path, "records", res.Records, "rows", res.Rows)
	return res, nil
}
