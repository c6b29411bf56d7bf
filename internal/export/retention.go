package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "history-"
	fileLayout = "20060102T150405Z"
)

// PruneResult holds the result of a retention sweep.
type PruneResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// Prune deletes export files in dir whose embedded timestamp is older than
// now minus retention. Files not named by FileName are left alone. A missing
// directory is not an error.
func Prune(dir string, retention time.Duration, now time.Time) (PruneResult, error) {
	var res PruneResult
	if retention <= 0 {
		return res, fmt.Errorf("retention must be positive, got %s", retention)
	}
	cutoff := now.Add(-retention)

	files, err := listFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("list exports: %w", err)
	}

	for _, f := range files {
		at, err := parseFileTime(f.name)
		if err != nil || !at.Before(cutoff) {
			res.FilesSkipped++
			continue
		}
		if err := os.Remove(f.path); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("delete %s: %w", f.path, err))
			continue
		}
		res.FilesDeleted++
		res.BytesFreed += f.size
	}

	if res.FilesDeleted > 0 {
		log.Info("exports pruned", "dir", dir, "deleted", res.FilesDeleted, "bytes", res.BytesFreed)
	}
	return res, nil
}

type fileInfo struct {
	name string
	path string
	size int64
}

// listFiles lists Parquet files in dir, oldest name first.
func listFiles(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".parquet" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			name: entry.Name(),
			path: filepath.Join(dir, entry.Name()),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// parseFileTime extracts the export instant from a FileName result.
func parseFileTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(base, filePrefix) {
		return time.Time{}, fmt.Errorf("not an export file: %s", name)
	}
	return time.Parse(fileLayout, strings.TrimPrefix(base, filePrefix))
}
