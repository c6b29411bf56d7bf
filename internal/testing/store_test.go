package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/xtxerr/viewtally/internal/docstore"
)

func TestFaultyStore_FailAfter(t *testing.T) {
	fs := NewFaultyStore(NewMemStore(t))
	ctx := context.Background()

	fs.FailAfter(OpAdd, 2, nil)

	for i := 0; i < 2; i++ {
		if _, err := fs.Add(ctx, docstore.CollectionEntities, docstore.Fields{"url": "u"}); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if _, err := fs.Add(ctx, docstore.CollectionEntities, docstore.Fields{"url": "u"}); !errors.Is(err, ErrInjected) {
		t.Errorf("expected injected fault, got %v", err)
	}
	if got := fs.Calls(OpAdd); got != 3 {
		t.Errorf("Calls(add) = %d, want 3", got)
	}

	fs.Heal()
	if _, err := fs.Add(ctx, docstore.CollectionEntities, docstore.Fields{"url": "u"}); err != nil {
		t.Errorf("Add after heal: %v", err)
	}

	docs, err := fs.ListAll(ctx, docstore.CollectionEntities)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(docs) != 3 {
		t.Errorf("got %d docs, want 3", len(docs))
	}
}

func TestFaultyStore_Commit(t *testing.T) {
	fs := NewFaultyStore(NewMemStore(t))
	ctx := context.Background()
	boom := errors.New("boom")

	id, err := fs.Add(ctx, docstore.CollectionHistory, docstore.Fields{"loadCount": 0})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	fs.FailAfter(OpCommit, 0, boom)
	b := fs.Batch()
	if err := b.Stage(docstore.Write{Collection: docstore.CollectionHistory, ID: id, Fields: docstore.Fields{"loadCount": 1}}); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := b.Commit(ctx); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}

	docs, _ := fs.FindBy(ctx, docstore.CollectionHistory, "loadCount", 1)
	if len(docs) != 0 {
		t.Error("failed commit must not apply writes")
	}
}

func TestGoroutineTest(t *testing.T) {
	gt := NewGoroutineTest(t)
	defer gt.Wait()

	for i := 0; i < 5; i++ {
		gt.Go(func(ctx context.Context) error {
			return ctx.Err()
		})
	}
}
