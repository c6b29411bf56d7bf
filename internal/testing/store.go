package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/viewtally/internal/docstore"
)

// NewMemStore opens an in-memory DuckDB document store closed at test cleanup.
func NewMemStore(t *testing.T) *docstore.DuckStore {
	t.Helper()
	cfg := docstore.DefaultConfig()
	cfg.DSN = ":memory:"
	cfg.QueryTimeout = 30 * time.Second

	store, err := docstore.Open(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Op names a store operation that can be faulted.
type Op string

const (
	OpListAll Op = "listAll"
	OpFindBy  Op = "findBy"
	OpAdd     Op = "add"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpCommit  Op = "commit"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = fmt.Errorf("injected fault")

type fault struct {
	after int
	err   error
}

// FaultyStore wraps a store and fails selected operations on demand.
//
// Counters include failed calls.
type FaultyStore struct {
	docstore.Store

	mu     sync.Mutex
	faults map[Op]fault
	calls  map[Op]int
}

var _ docstore.Store = (*FaultyStore)(nil)

// NewFaultyStore wraps inner.
func NewFaultyStore(inner docstore.Store) *FaultyStore {
	return &FaultyStore{
		Store:  inner,
		faults: make(map[Op]fault),
		calls:  make(map[Op]int),
	}
}

// FailAfter lets the next n calls of op succeed and fails every later one
// with err (ErrInjected if nil).
func (f *FaultyStore) FailAfter(op Op, n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = fault{after: f.calls[op] + n, err: err}
}

// Heal removes all injected faults.
func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[Op]fault)
}

// Calls returns how many times op was invoked.
func (f *FaultyStore) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyStore) enter(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if ft, ok := f.faults[op]; ok && f.calls[op] > ft.after {
		return fmt.Errorf("%s: %w", op, ft.err)
	}
	return nil
}

func (f *FaultyStore) ListAll(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := f.enter(OpListAll); err != nil {
		return nil, err
	}
	return f.Store.ListAll(ctx, collection)
}

func (f *FaultyStore) FindBy(ctx context.Context, collection, field string, value any) ([]docstore.Document, error) {
	if err := f.enter(OpFindBy); err != nil {
		return nil, err
	}
	return f.Store.FindBy(ctx, collection, field, value)
}

func (f *FaultyStore) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if err := f.enter(OpAdd); err != nil {
		return "", err
	}
	return f.Store.Add(ctx, collection, fields)
}

func (f *FaultyStore) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := f.enter(OpUpdate); err != nil {
		return err
	}
	return f.Store.Update(ctx, collection, id, fields)
}

func (f *FaultyStore) Delete(ctx context.Context, collection, id string) error {
	if err := f.enter(OpDelete); err != nil {
		return err
	}
	return f.Store.Delete(ctx, collection, id)
}

func (f *FaultyStore) Batch() docstore.Batch {
	return &faultyBatch{Batch: f.Store.Batch(), owner: f}
}

type faultyBatch struct {
	docstore.Batch
	owner *FaultyStore
}

func (b *faultyBatch) Commit(ctx context.Context) (docstore.CommitResult, error) {
	if err := b.owner.enter(OpCommit); err != nil {
		return docstore.CommitResult{}, err
	}
	return b.Batch.Commit(ctx)
}
