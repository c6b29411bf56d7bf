// Package aggregation implements the pass that records one load event for
// every tracked entity.
//
// A pass runs as a fixed sequence of named stages:
//
//	resolve -> list-entities -> fetch-history -> apply -> commit -> retire
//
// The bucket for "now" is resolved once per pass. Every history record that
// belongs to an active entity gets exactly one stat tree increment and a
// loadCount increment. Lifecycle evaluation happens in the apply stage on the
// post-increment count, so a retirement mark is committed in the same write
// as the increment that triggered it.
package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/viewtally/config"
	"github.com/xtxerr/viewtally/internal/calendar"
	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/lifecycle"
	"github.com/xtxerr/viewtally/internal/logging"
	"github.com/xtxerr/viewtally/internal/record"
	"github.com/xtxerr/viewtally/internal/stats"
)

var log = logging.Component("aggregation")

// Stage names a step of a pass.
type Stage string

const (
	StageResolve      Stage = "resolve"
	StageListEntities Stage = "list-entities"
	StageFetchHistory Stage = "fetch-history"
	StageApply        Stage = "apply"
	StageCommit       Stage = "commit"
	StageRetire       Stage = "retire"
)

// Stages lists the pass stages in execution order.
var Stages = []Stage{StageResolve, StageListEntities, StageFetchHistory, StageApply, StageCommit, StageRetire}

// Config controls a Job.
type Config struct {
	BatchSize    int // writes per physical commit, capped at config.MaxBatchWrites
	FetchWorkers int // concurrent history lookups
}

// DefaultConfig returns the default job configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:    config.DefaultBatchSize,
		FetchWorkers: config.DefaultFetchWorkers,
	}
}

// Job runs aggregation passes. A Job holds no per-pass state and may be
// reused, but two passes must not run concurrently against the same store.
type Job struct {
	store     docstore.Store
	resolver  *calendar.Resolver
	lifecycle *lifecycle.Executor
	cfg       Config
	now       func() time.Time
}

// Option configures a Job.
type Option func(*Job)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// New creates a job.
func New(store docstore.Store, resolver *calendar.Resolver, cfg Config, opts ...Option) *Job {
	if cfg.BatchSize <= 0 || cfg.BatchSize > config.MaxBatchWrites {
		cfg.BatchSize = config.MaxBatchWrites
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = config.DefaultFetchWorkers
	}
	j := &Job{
		store:     store,
		resolver:  resolver,
		lifecycle: lifecycle.NewExecutor(store, cfg.BatchSize),
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Result is the outcome of one pass.
type Result struct {
	Success bool
	RunID   string
	Stage   Stage // failing stage; empty on success
	Err     error
	Code    int32

	Bucket   calendar.Bucket
	Entities int      // active entities processed
	Records  int      // history records incremented and committed
	Skipped  int      // documents skipped as invalid or vanished
	Batches  int      // physical commits
	Retired  []string // entity ids retired by the threshold rule
	Duration time.Duration
}

// pass carries state between the stages of one run.
type pass struct {
	job    *Job
	runID  string
	now    time.Time
	bucket calendar.Bucket

	entities []record.Entity
	history  [][]docstore.Document // parallel to entities
	writes   []docstore.Write
	retire   []string

	res *Result
}

// Run executes one pass. It never panics and never returns an error
// directly; failures are reported in the Result.
func (j *Job) Run(ctx context.Context) (res Result) {
	p := &pass{job: j, runID: uuid.NewString(), res: &res}
	res.RunID = p.runID
	ctx = logging.ContextWithRunID(ctx, p.runID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("panic in stage %s: %v: %w", res.Stage, r, errors.ErrInternal)
			log.ErrorContext(ctx, "aggregation pass panicked", "stage", res.Stage, "panic", r)
		}
		res.Duration = time.Since(start)
		res.Code = errors.ErrorToCode(res.Err)
		passDuration.Observe(res.Duration.Seconds())
		if res.Success {
			passesTotal.WithLabelValues("success", "").Inc()
		} else {
			passesTotal.WithLabelValues("failure", string(res.Stage)).Inc()
		}
	}()

	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageResolve, p.resolve},
		{StageListEntities, p.listEntities},
		{StageFetchHistory, p.fetchHistory},
		{StageApply, p.apply},
		{StageCommit, p.commit},
		{StageRetire, p.retireEntities},
	}

	for _, step := range steps {
		res.Stage = step.stage
		if err := step.fn(ctx); err != nil {
			res.Err = err
			log.ErrorContext(ctx, "aggregation pass failed", "stage", step.stage, "error", err,
				"batches_committed", res.Batches)
			return res
		}
	}

	res.Stage = ""
	res.Success = true
	log.InfoContext(ctx, "aggregation pass finished",
		"bucket", res.Bucket.String(),
		"entities", res.Entities,
		"records", res.Records,
		"skipped", res.Skipped,
		"batches", res.Batches,
		"retired", len(res.Retired))
	return res
}

func (p *pass) resolve(context.Context) error {
	p.now = p.job.now()
	p.bucket = p.job.resolver.Resolve(p.now)
	p.res.Bucket = p.bucket
	return nil
}

func (p *pass) listEntities(ctx context.Context) error {
	docs, err := p.job.store.ListAll(ctx, docstore.CollectionEntities)
	if err != nil {
		return errors.NewStore("list entities", err)
	}
	for _, doc := range docs {
		e, err := record.DecodeEntity(doc)
		if err != nil {
			p.skip(ctx, "invalid_entity", doc.ID, err)
			continue
		}
		p.entities = append(p.entities, e)
	}
	p.res.Entities = len(p.entities)
	return nil
}

// fetchHistory looks up each entity's history concurrently. Lookups are
// independent since every entity owns disjoint history records.
func (p *pass) fetchHistory(ctx context.Context) error {
	p.history = make([][]docstore.Document, len(p.entities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.job.cfg.FetchWorkers)

	for i, e := range p.entities {
		g.Go(func() error {
			docs, err := p.job.store.FindBy(gctx, docstore.CollectionHistory, record.FieldVideoID, e.ID)
			if err != nil {
				return errors.NewStore("find history for "+e.ID, err)
			}
			p.history[i] = docs
			return nil
		})
	}
	return g.Wait()
}

func (p *pass) apply(ctx context.Context) error {
	for i, e := range p.entities {
		retire := false
		for _, doc := range p.history[i] {
			rec, err := record.DecodeHistory(doc)
			if err != nil {
				p.skip(ctx, "invalid_history", doc.ID, err)
				continue
			}

			tree := stats.Apply(rec.Stats, p.bucket)
			if err := stats.Verify(tree); err != nil {
				p.skip(ctx, "corrupt_tree", doc.ID, err)
				continue
			}
			loadCount := rec.LoadCount + 1

			fields := record.IncrementFields(tree, loadCount, p.now)
			// Retire even if rec is already marked; MarkDeleted leaves it alone.
			if lifecycle.Evaluate(e, loadCount) == lifecycle.Delete {
				retire = true
				if mark, ok := lifecycle.MarkDeleted(rec, p.now); ok {
					for k, v := range mark.Fields {
						fields[k] = v
					}
				}
			}

			p.writes = append(p.writes, docstore.Write{
				Collection: docstore.CollectionHistory,
				ID:         rec.ID,
				Fields:     fields,
			})
		}
		if retire {
			p.retire = append(p.retire, e.ID)
		}
	}
	return nil
}

func (p *pass) commit(ctx context.Context) error {
	res, err := docstore.CommitChunked(ctx, p.job.store, p.writes, p.job.cfg.BatchSize)
	p.res.Batches = res.Batches
	p.res.Records = res.Applied
	batchesTotal.Add(float64(res.Batches))
	incrementsTotal.Add(float64(res.Applied))
	for _, id := range res.Missing {
		p.skip(ctx, "vanished", id, errors.NewNotFound(docstore.CollectionHistory, id))
	}
	if err != nil {
		return errors.NewStore("commit", err)
	}
	return nil
}

func (p *pass) retireEntities(ctx context.Context) error {
	if len(p.retire) == 0 {
		return nil
	}
	retired, err := p.job.lifecycle.Retire(ctx, p.retire)
	p.res.Retired = retired
	return err
}

func (p *pass) skip(ctx context.Context, reason, id string, err error) {
	p.res.Skipped++
	skippedTotal.WithLabelValues(reason).Inc()
	log.WarnContext(logging.ContextWithEntityID(ctx, id), "document skipped", "reason", reason, "error", err)
}
