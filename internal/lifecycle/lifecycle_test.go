package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/record"
	vtesting "github.com/xtxerr/viewtally/internal/testing"
)

func threshold(n int64) *int64 { return &n }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		deleteLoad *int64
		loadCount  int64
		want       Action
	}{
		{"threshold reached", threshold(5), 5, Keep},
		{"threshold exceeded", threshold(5), 6, Delete},
		{"below threshold", threshold(5), 0, Keep},
		{"unset, zero", nil, 0, Keep},
		{"unset, huge", nil, 1 << 40, Keep},
		{"zero threshold", threshold(0), 100, Keep},
		{"negative threshold", threshold(-3), 100, Keep},
		{"threshold one", threshold(1), 2, Delete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(record.Entity{ID: "e", DeleteLoad: tt.deleteLoad}, tt.loadCount)
			if got != tt.want {
				t.Errorf("Evaluate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMarkDeleted(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	w, ok := MarkDeleted(record.HistoryRecord{ID: "h", Status: record.StatusAdded}, now)
	if !ok {
		t.Fatal("expected write for added record")
	}
	if w.ID != "h" || w.Collection != docstore.CollectionHistory {
		t.Errorf("write target = %s/%s", w.Collection, w.ID)
	}
	if w.Fields[record.FieldStatus] != "deleted" || w.Fields[record.FieldDeletedAt] != "2024-01-02T03:04:05Z" {
		t.Errorf("write fields = %v", w.Fields)
	}

	if _, ok := MarkDeleted(record.HistoryRecord{ID: "h", Status: record.StatusDeleted}, now); ok {
		t.Error("deleted record must not be marked again")
	}
}

func TestDeleteExplicit(t *testing.T) {
	store := vtesting.NewMemStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	entityID, err := store.Add(ctx, docstore.CollectionEntities, docstore.Fields{"url": "u", "deleteLoad": 100})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Add(ctx, docstore.CollectionHistory, docstore.Fields{
			"videoId": entityID, "status": "added", "loadCount": 2,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Add(ctx, docstore.CollectionHistory, docstore.Fields{"videoId": "other", "status": "added"}); err != nil {
		t.Fatal(err)
	}

	x := NewExecutor(store, 2)
	tr, err := x.DeleteExplicit(ctx, entityID, now)
	if err != nil {
		t.Fatalf("DeleteExplicit: %v", err)
	}
	if tr.HistoryMarked != 3 {
		t.Errorf("HistoryMarked = %d, want 3", tr.HistoryMarked)
	}

	entities, _ := store.ListAll(ctx, docstore.CollectionEntities)
	if len(entities) != 0 {
		t.Errorf("entity still listed: %v", entities)
	}

	hist, _ := store.FindBy(ctx, docstore.CollectionHistory, "videoId", entityID)
	for _, doc := range hist {
		if doc.Fields["status"] != "deleted" {
			t.Errorf("history %s status = %v", doc.ID, doc.Fields["status"])
		}
		if doc.Fields["deletedAt"] != "2024-06-01T00:00:00Z" {
			t.Errorf("history %s deletedAt = %v", doc.ID, doc.Fields["deletedAt"])
		}
	}

	others, _ := store.FindBy(ctx, docstore.CollectionHistory, "videoId", "other")
	if len(others) != 1 || others[0].Fields["status"] != "added" {
		t.Errorf("unrelated history touched: %v", others)
	}

	again, err := x.DeleteExplicit(ctx, entityID, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second DeleteExplicit: %v", err)
	}
	if again.HistoryMarked != 0 {
		t.Errorf("second pass marked %d records, want 0", again.HistoryMarked)
	}
}

func TestDeleteExplicit_StoreFailure(t *testing.T) {
	fs := vtesting.NewFaultyStore(vtesting.NewMemStore(t))
	ctx := context.Background()

	id, err := fs.Add(ctx, docstore.CollectionEntities, docstore.Fields{"url": "u"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Add(ctx, docstore.CollectionHistory, docstore.Fields{"videoId": id, "status": "added"}); err != nil {
		t.Fatal(err)
	}

	fs.FailAfter(vtesting.OpCommit, 0, nil)
	_, err = NewExecutor(fs, 10).DeleteExplicit(ctx, id, time.Now())
	if !errors.IsStore(err) {
		t.Fatalf("expected store error, got %v", err)
	}

	entities, _ := fs.ListAll(ctx, docstore.CollectionEntities)
	if len(entities) != 1 {
		t.Error("entity must survive a failed history commit")
	}
}

func TestRetire(t *testing.T) {
	fs := vtesting.NewFaultyStore(vtesting.NewMemStore(t))
	ctx := context.Background()

	a, _ := fs.Add(ctx, docstore.CollectionEntities, docstore.Fields{"url": "a"})
	b, _ := fs.Add(ctx, docstore.CollectionEntities, docstore.Fields{"url": "b"})

	fs.FailAfter(vtesting.OpDelete, 1, nil)
	retired, err := NewExecutor(fs, 10).Retire(ctx, []string{a, b})
	if err == nil {
		t.Fatal("expected error for second delete")
	}
	if len(retired) != 1 || retired[0] != a {
		t.Errorf("retired = %v, want [%s]", retired, a)
	}
}
