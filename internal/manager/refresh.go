package manager

import (
	"context"

	"github.com/xtxerr/viewtally/internal/aggregation"
	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/export"
)

// RefreshStage names a step of the refresh pipeline.
type RefreshStage string

const (
	RefreshAggregate    RefreshStage = "aggregate"
	RefreshListEntities RefreshStage = "list-entities"
	RefreshListHistory  RefreshStage = "list-history"
)

// StageOutcome is the result of one refresh stage.
type StageOutcome struct {
	Stage RefreshStage
	Err   error
}

// RefreshResult is the outcome of a refresh.
type RefreshResult struct {
	Success     bool
	Stages      []StageOutcome // stages that ran, in order
	Aggregation aggregation.Result
	Entities    []docstore.Document
	History     []docstore.Document
}

// Failed returns the failing stage outcome, if any.
func (r RefreshResult) Failed() (StageOutcome, bool) {
	for _, s := range r.Stages {
		if s.Err != nil {
			return s, true
		}
	}
	return StageOutcome{}, false
}

// Refresh runs the page-load sequence: one aggregation pass (which also
// retires entities over their threshold), then reads both collections.
// Each stage runs only after the previous one succeeded, so the reads
// always observe post-pass counts.
func (m *Manager) Refresh(ctx context.Context) RefreshResult {
	var res RefreshResult

	steps := []struct {
		stage RefreshStage
		fn    func() error
	}{
		{RefreshAggregate, func() error {
			res.Aggregation = m.RunAggregation(ctx)
			if !res.Aggregation.Success {
				return res.Aggregation.Err
			}
			return nil
		}},
		{RefreshListEntities, func() (err error) {
			res.Entities, err = m.ListEntities(ctx)
			return err
		}},
		{RefreshListHistory, func() (err error) {
			res.History, err = m.ListHistory(ctx)
			return err
		}},
	}

	for _, step := range steps {
		err := step.fn()
		res.Stages = append(res.Stages, StageOutcome{Stage: step.stage, Err: err})
		if err != nil {
			log.ErrorContext(ctx, "refresh stage failed", "stage", step.stage, "error", err)
			return res
		}
	}

	res.Success = true
	return res
}

// Export writes every valid history record to a Parquet file in the
// configured export directory, then prunes exports past the retention.
func (m *Manager) Export(ctx context.Context) (export.Result, error) {
	if err := m.checkOpen(); err != nil {
		return export.Result{}, err
	}
	recs, err := m.historyRecords(ctx)
	if err != nil {
		return export.Result{}, err
	}
	now := m.now()
	res, err := export.WriteRecords(m.exportDir, recs, now, m.exportOpts)
	if err != nil {
		return export.Result{}, errors.Wrap(err, "export history")
	}

	if m.exportRetention > 0 {
		pruned, err := export.Prune(m.exportDir, m.exportRetention, now)
		if err != nil {
			log.WarnContext(ctx, "export retention failed", "error", err)
		}
		for _, perr := range pruned.Errors {
			log.WarnContext(ctx, "export retention", "error", perr)
		}
		res.Pruned = pruned.FilesDeleted
	}
	return res, nil
}
