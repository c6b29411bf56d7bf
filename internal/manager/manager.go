// Package manager is the caller-facing facade of viewtally.
//
// A Manager owns the document store for the life of the process and exposes
// the operations used by the daemon and the admin shell: running
// aggregation passes, adding and deleting entities, and reading both
// collections in normalized form.
//
// Concurrent RunAggregation calls are collapsed into a single pass so only
// one pass writes to the store at a time.
package manager

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/viewtally/internal/aggregation"
	"github.com/xtxerr/viewtally/internal/calendar"
	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/export"
	"github.com/xtxerr/viewtally/internal/lifecycle"
	"github.com/xtxerr/viewtally/internal/loader"
	"github.com/xtxerr/viewtally/internal/logging"
)

var log = logging.Component("manager")

// Manager coordinates the core components over one store.
//
// Manager is safe for concurrent use.
type Manager struct {
	store     docstore.Store
	ownsStore bool

	resolver  *calendar.Resolver
	job       *aggregation.Job
	lifecycle *lifecycle.Executor
	now       func() time.Time

	exportDir       string
	exportOpts      export.Options
	exportRetention time.Duration

	group singleflight.Group

	mu     sync.RWMutex
	closed bool
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	store docstore.Store
	now   func() time.Time
}

// WithStore injects an already opened store. The Manager does not close it.
func WithStore(s docstore.Store) Option {
	return func(o *options) { o.store = s }
}

// WithClock replaces the wall clock used for every operation.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates cfg, opens the store it names (unless one is injected) and
// wires the components.
func New(cfg *loader.Config, opts ...Option) (*Manager, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}

	resolver, err := calendar.NewResolver(cfg.TimeZone)
	if err != nil {
		return nil, err
	}

	compression, err := export.ParseCompressionType(cfg.Export.Compression)
	if err != nil {
		return nil, errors.NewValidation("export.compression", err.Error())
	}

	store := o.store
	owns := false
	if store == nil {
		ds, err := docstore.Open(loader.ToStoreConfig(cfg))
		if err != nil {
			return nil, err
		}
		store, owns = ds, true
	}

	jobCfg := loader.ToJobConfig(cfg)
	m := &Manager{
		store:      store,
		ownsStore:  owns,
		resolver:   resolver,
		job:        aggregation.New(store, resolver, jobCfg, aggregation.WithClock(o.now)),
		lifecycle:  lifecycle.NewExecutor(store, jobCfg.BatchSize),
		now:        o.now,
		exportDir:  cfg.Export.Dir,
		exportOpts: export.Options{Compression: compression},

		exportRetention: cfg.Export.Retention.Duration(),
	}

	log.Info("manager started", "timezone", resolver.Location().String(), "store", cfg.Metastore.Path)
	return m, nil
}

// Close releases the store if the Manager opened it.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.ownsStore {
		return m.store.Close()
	}
	return nil
}

func (m *Manager) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.ErrClosed
	}
	return nil
}

// Resolver returns the calendar resolver in use.
func (m *Manager) Resolver() *calendar.Resolver {
	return m.resolver
}

// =============================================================================
// Aggregation
// =============================================================================

// RunAggregation runs one aggregation pass.
//
// Callers arriving while a pass is in flight wait for it and receive its
// result instead of starting a second pass.
func (m *Manager) RunAggregation(ctx context.Context) aggregation.Result {
	if err := m.checkOpen(); err != nil {
		return aggregation.Result{Err: err, Code: errors.ErrorToCode(err)}
	}

	v, _, shared := m.group.Do("aggregation", func() (interface{}, error) {
		return m.job.Run(context.WithoutCancel(ctx)), nil
	})
	res := v.(aggregation.Result)
	if shared {
		log.Debug("aggregation pass shared", "run_id", res.RunID)
	}
	return res
}
