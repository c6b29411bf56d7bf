// Package lifecycle decides when a tracked entity is retired and carries out
// the transition.
//
// An entity with a positive deleteLoad threshold is retired once its
// cumulative load count exceeds the threshold. Retirement removes the entity
// from the active collection and marks its history records deleted. The
// history record itself is kept.
package lifecycle

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xtxerr/viewtally/config"
	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/logging"
	"github.com/xtxerr/viewtally/internal/record"
)

var log = logging.Component("lifecycle")

var retirements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "viewtally_entities_retired_total",
	Help: "Entities removed from the active collection",
}, []string{"reason"})

// Retirement reasons.
const (
	ReasonThreshold = "threshold"
	ReasonExplicit  = "explicit"
)

// Action is the outcome of evaluating an entity.
type Action int

const (
	Keep Action = iota
	Delete
)

func (a Action) String() string {
	if a == Delete {
		return "delete"
	}
	return "keep"
}

// Evaluate applies the retirement rule: Delete iff the entity has a
// threshold, the threshold is positive, and loadCount is strictly greater.
func Evaluate(e record.Entity, loadCount int64) Action {
	threshold, ok := e.Threshold()
	if !ok || threshold <= 0 {
		return Keep
	}
	if threshold < loadCount {
		return Delete
	}
	return Keep
}

// MarkDeleted returns the write flipping rec to deleted, or false when rec
// is already deleted.
func MarkDeleted(rec record.HistoryRecord, now time.Time) (docstore.Write, bool) {
	if rec.Status != record.StatusAdded {
		return docstore.Write{}, false
	}
	return docstore.Write{
		Collection: docstore.CollectionHistory,
		ID:         rec.ID,
		Fields:     record.DeletedFields(now),
	}, true
}

// Executor performs lifecycle transitions against a store.
type Executor struct {
	store     docstore.Store
	batchSize int
}

// NewExecutor creates an executor committing at most batchSize writes per
// physical batch.
func NewExecutor(store docstore.Store, batchSize int) *Executor {
	if batchSize <= 0 || batchSize > config.MaxBatchWrites {
		batchSize = config.MaxBatchWrites
	}
	return &Executor{store: store, batchSize: batchSize}
}

// Transition reports what a transition changed.
type Transition struct {
	EntityID      string
	HistoryMarked int
	Skipped       int // history documents that vanished before the commit
}

// DeleteExplicit retires an entity regardless of its threshold.
//
// Every history record with a matching videoId is marked deleted, then the
// entity document is removed. An entity that no longer exists is not an
// error. Re-running after a failure is safe.
func (x *Executor) DeleteExplicit(ctx context.Context, entityID string, now time.Time) (Transition, error) {
	ctx = logging.ContextWithEntityID(ctx, entityID)
	tr := Transition{EntityID: entityID}

	docs, err := x.store.FindBy(ctx, docstore.CollectionHistory, record.FieldVideoID, entityID)
	if err != nil {
		return tr, errors.NewStore("find history", err)
	}

	var writes []docstore.Write
	for _, doc := range docs {
		status, _ := doc.Fields[record.FieldStatus].(string)
		if record.Status(status) == record.StatusDeleted {
			continue
		}
		writes = append(writes, docstore.Write{
			Collection: docstore.CollectionHistory,
			ID:         doc.ID,
			Fields:     record.DeletedFields(now),
		})
	}

	res, err := docstore.CommitChunked(ctx, x.store, writes, x.batchSize)
	if err != nil {
		return tr, errors.NewStore("mark history deleted", err)
	}
	tr.HistoryMarked = res.Applied
	tr.Skipped = len(res.Missing)

	if err := x.store.Delete(ctx, docstore.CollectionEntities, entityID); err != nil {
		return tr, errors.NewStore("delete entity", err)
	}

	retirements.WithLabelValues(ReasonExplicit).Inc()
	log.InfoContext(ctx, "entity deleted", "history_marked", tr.HistoryMarked)
	return tr, nil
}

// Retire removes entities whose history was already marked deleted by an
// aggregation pass.
//
// All ids are attempted; the returned error joins every failure.
func (x *Executor) Retire(ctx context.Context, entityIDs []string) ([]string, error) {
	var (
		retired []string
		errs    []error
	)
	for _, id := range entityIDs {
		if err := x.store.Delete(ctx, docstore.CollectionEntities, id); err != nil {
			log.ErrorContext(logging.ContextWithEntityID(ctx, id), "retire entity failed", "error", err)
			errs = append(errs, errors.NewStore("retire "+id, err))
			continue
		}
		retirements.WithLabelValues(ReasonThreshold).Inc()
		retired = append(retired, id)
	}
	return retired, errors.Join(errs...)
}
