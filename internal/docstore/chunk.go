package docstore

import (
	"context"
	"fmt"
)

// ChunkedResult summarizes a multi-batch commit.
type ChunkedResult struct {
	CommitResult
	Batches int // physical commits that succeeded
}

// CommitChunked stages writes into consecutive batches of at most size
// writes and commits each one before starting the next.
//
// On failure the returned result covers only the batches already
// committed; later writes are not attempted.
func CommitChunked(ctx context.Context, s Store, writes []Write, size int) (ChunkedResult, error) {
	var res ChunkedResult
	if size <= 0 {
		return res, fmt.Errorf("invalid batch size %d", size)
	}

	for start := 0; start < len(writes); start += size {
		end := min(start+size, len(writes))

		b := s.Batch()
		for _, w := range writes[start:end] {
			if err := b.Stage(w); err != nil {
				return res, fmt.Errorf("batch %d: %w", res.Batches+1, err)
			}
		}

		cr, err := b.Commit(ctx)
		if err != nil {
			return res, fmt.Errorf("batch %d: %w", res.Batches+1, err)
		}
		res.Applied += cr.Applied
		res.Missing = append(res.Missing, cr.Missing...)
		res.Batches++
	}
	return res, nil
}
