package manager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/export"
	"github.com/xtxerr/viewtally/internal/loader"
	"github.com/xtxerr/viewtally/internal/record"
	vtesting "github.com/xtxerr/viewtally/internal/testing"
)

var testNow = time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)

func setupManager(t *testing.T, store docstore.Store) *Manager {
	t.Helper()
	cfg := loader.DefaultConfig()
	cfg.TimeZone = "UTC"
	cfg.Export.Dir = t.TempDir()

	m, err := New(cfg, WithStore(store), WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func findByField(docs []docstore.Document, field, value string) (docstore.Document, bool) {
	for _, d := range docs {
		if d.Fields[field] == value {
			return d, true
		}
	}
	return docstore.Document{}, false
}

func loadCountOf(t *testing.T, doc docstore.Document) int64 {
	t.Helper()
	n, ok := doc.Fields[record.FieldLoadCount].(json.Number)
	if !ok {
		t.Fatalf("loadCount = %#v", doc.Fields[record.FieldLoadCount])
	}
	i, err := n.Int64()
	if err != nil {
		t.Fatal(err)
	}
	return i
}

func TestAddEntity_RoundTrip(t *testing.T) {
	m := setupManager(t, vtesting.NewMemStore(t))
	ctx := context.Background()

	lists, err := m.AddEntity(ctx, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "")
	if err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if len(lists.UpdatedURLs) != 1 || len(lists.UpdatedHistory) != 1 {
		t.Fatalf("lists = %d/%d, want 1/1", len(lists.UpdatedURLs), len(lists.UpdatedHistory))
	}

	entity := lists.UpdatedURLs[0]
	if entity.Fields[record.FieldID] != entity.ID {
		t.Errorf("entity id field = %v, want %s", entity.Fields[record.FieldID], entity.ID)
	}
	if entity.Fields[record.FieldDeleteLoad] != nil {
		t.Errorf("deleteLoad = %v, want nil", entity.Fields[record.FieldDeleteLoad])
	}
	if entity.Fields[record.FieldCreatedAt] != "2024-01-01T00:30:00Z" {
		t.Errorf("createdAt = %v", entity.Fields[record.FieldCreatedAt])
	}

	entities, err := m.ListEntities(ctx)
	if err != nil || len(entities) != 1 {
		t.Fatalf("ListEntities = %v, %v", entities, err)
	}

	hist, err := m.ListHistory(ctx)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	h, ok := findByField(hist, record.FieldVideoID, entity.ID)
	if !ok {
		t.Fatalf("no history for %s", entity.ID)
	}
	if h.Fields[record.FieldID] != h.ID {
		t.Errorf("history id field = %v", h.Fields[record.FieldID])
	}
	if h.Fields[record.FieldStatus] != "added" {
		t.Errorf("status = %v", h.Fields[record.FieldStatus])
	}
	if got := loadCountOf(t, h); got != 0 {
		t.Errorf("loadCount = %d, want 0", got)
	}

	rec, err := record.DecodeHistory(h)
	if err != nil {
		t.Fatalf("DecodeHistory: %v", err)
	}
	if len(rec.Stats) != 1 {
		t.Fatalf("stats has %d years, want 1", len(rec.Stats))
	}
	y := rec.Stats[0]
	if y.Year != 2024 || y.TotalLoads != 0 || len(y.Months) != 1 {
		t.Fatalf("year = %+v", y)
	}
	day := y.Months[0].Weeks[0].Days[0]
	if day.Date != "2024-01-01" || len(day.Hours) != 1 || day.Hours[0].Hour != 0 || day.Hours[0].TotalLoads != 0 {
		t.Errorf("seeded day = %+v", day)
	}
}

func TestAddEntity_Validation(t *testing.T) {
	store := vtesting.NewMemStore(t)
	m := setupManager(t, store)
	ctx := context.Background()

	tests := []struct {
		url, deleteLoad string
	}{
		{"", ""},
		{"not a url", ""},
		{"https://example.com", "zero"},
		{"https://example.com", "-1"},
	}
	for _, tt := range tests {
		if _, err := m.AddEntity(ctx, tt.url, tt.deleteLoad); !errors.IsValidation(err) {
			t.Errorf("AddEntity(%q, %q) error = %v, want validation", tt.url, tt.deleteLoad, err)
		}
	}

	docs, _ := store.ListAll(ctx, docstore.CollectionEntities)
	if len(docs) != 0 {
		t.Errorf("invalid input stored %d entities", len(docs))
	}
}

func TestAddEntity_RollsBackOnHistoryFailure(t *testing.T) {
	fs := vtesting.NewFaultyStore(vtesting.NewMemStore(t))
	m := setupManager(t, fs)
	ctx := context.Background()

	fs.FailAfter(vtesting.OpAdd, 1, nil)
	_, err := m.AddEntity(ctx, "https://example.com/a", "")
	if !errors.IsStore(err) {
		t.Fatalf("expected store error, got %v", err)
	}

	docs, _ := fs.ListAll(ctx, docstore.CollectionEntities)
	if len(docs) != 0 {
		t.Errorf("entity left behind after failed add: %v", docs)
	}
}

func TestAddEntity_RollsBackOnIDFailure(t *testing.T) {
	tests := []struct {
		name      string
		okUpdates int
		wantErr   string
	}{
		{"entity id", 0, "set id on entities"},
		{"history id", 1, "set id on history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := vtesting.NewFaultyStore(vtesting.NewMemStore(t))
			m := setupManager(t, fs)
			ctx := context.Background()

			fs.FailAfter(vtesting.OpUpdate, tt.okUpdates, nil)
			_, err := m.AddEntity(ctx, "https://example.com/a", "5")
			if !errors.IsStore(err) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("AddEntity error = %v, want store error %q", err, tt.wantErr)
			}

			for _, c := range []string{docstore.CollectionEntities, docstore.CollectionHistory} {
				docs, err := fs.ListAll(ctx, c)
				if err != nil {
					t.Fatal(err)
				}
				if len(docs) != 0 {
					t.Errorf("%s left behind after failed add: %v", c, docs)
				}
			}
		})
	}
}

func TestRunAggregation_CountsOncePerPass(t *testing.T) {
	m := setupManager(t, vtesting.NewMemStore(t))
	ctx := context.Background()

	if _, err := m.AddEntity(ctx, "https://example.com/a", ""); err != nil {
		t.Fatal(err)
	}

	for pass := 1; pass <= 3; pass++ {
		res := m.RunAggregation(ctx)
		if !res.Success {
			t.Fatalf("pass %d: %v", pass, res.Err)
		}
		hist, _ := m.ListHistory(ctx)
		if got := loadCountOf(t, hist[0]); got != int64(pass) {
			t.Errorf("after pass %d loadCount = %d", pass, got)
		}
	}
}

func TestRunAggregation_ConcurrentCallersShareAPass(t *testing.T) {
	m := setupManager(t, vtesting.NewMemStore(t))
	ctx := context.Background()

	if _, err := m.AddEntity(ctx, "https://example.com/a", ""); err != nil {
		t.Fatal(err)
	}

	var (
		mu   sync.Mutex
		runs = map[string]bool{}
	)
	gt := vtesting.NewGoroutineTestWithTimeout(t, 30*time.Second)
	for i := 0; i < 8; i++ {
		gt.Go(func(ctx context.Context) error {
			res := m.RunAggregation(ctx)
			if !res.Success {
				return res.Err
			}
			mu.Lock()
			runs[res.RunID] = true
			mu.Unlock()
			return nil
		})
	}
	gt.Wait()

	hist, _ := m.ListHistory(ctx)
	if got := loadCountOf(t, hist[0]); got != int64(len(runs)) {
		t.Errorf("loadCount = %d, distinct passes = %d", got, len(runs))
	}
}

func TestDeleteEntity_BypassesThreshold(t *testing.T) {
	m := setupManager(t, vtesting.NewMemStore(t))
	ctx := context.Background()

	lists, err := m.AddEntity(ctx, "https://example.com/a", "10")
	if err != nil {
		t.Fatal(err)
	}
	id := lists.UpdatedURLs[0].ID

	if res := m.RunAggregation(ctx); !res.Success {
		t.Fatal(res.Err)
	}

	got, err := m.DeleteEntity(ctx, id)
	if err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	if got != id {
		t.Errorf("DeleteEntity returned %q, want %q", got, id)
	}

	entities, _ := m.ListEntities(ctx)
	if len(entities) != 0 {
		t.Errorf("entity still listed: %v", entities)
	}

	hist, _ := m.ListHistory(ctx)
	h, ok := findByField(hist, record.FieldVideoID, id)
	if !ok {
		t.Fatal("history record must survive deletion")
	}
	if h.Fields[record.FieldStatus] != "deleted" {
		t.Errorf("status = %v", h.Fields[record.FieldStatus])
	}
	if h.Fields[record.FieldDeletedAt] != "2024-01-01T00:30:00Z" {
		t.Errorf("deletedAt = %v", h.Fields[record.FieldDeletedAt])
	}
	if got := loadCountOf(t, h); got != 1 {
		t.Errorf("loadCount = %d, want 1 (below threshold)", got)
	}

	if _, err := m.DeleteEntity(ctx, ""); !errors.IsValidation(err) {
		t.Errorf("empty id: %v", err)
	}
}

func TestRefresh(t *testing.T) {
	m := setupManager(t, vtesting.NewMemStore(t))
	ctx := context.Background()

	if _, err := m.AddEntity(ctx, "https://example.com/a", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddEntity(ctx, "https://example.com/b", ""); err != nil {
		t.Fatal(err)
	}

	res := m.Refresh(ctx)
	if !res.Success || len(res.Stages) != 3 {
		t.Fatalf("refresh 1: success=%v stages=%v", res.Success, res.Stages)
	}
	if len(res.Entities) != 2 {
		t.Errorf("entities after refresh 1 = %d, want 2", len(res.Entities))
	}

	res = m.Refresh(ctx)
	if !res.Success {
		t.Fatalf("refresh 2: %+v", res.Stages)
	}
	if len(res.Aggregation.Retired) != 1 {
		t.Errorf("retired = %v, want one entity", res.Aggregation.Retired)
	}
	if len(res.Entities) != 1 || res.Entities[0].Fields[record.FieldURL] != "https://example.com/b" {
		t.Errorf("entities after refresh 2 = %v", res.Entities)
	}
	if len(res.History) != 2 {
		t.Errorf("history after refresh 2 = %d, want 2", len(res.History))
	}
}

func TestRefresh_StopsAtFailingStage(t *testing.T) {
	fs := vtesting.NewFaultyStore(vtesting.NewMemStore(t))
	m := setupManager(t, fs)

	fs.FailAfter(vtesting.OpListAll, 0, nil)
	res := m.Refresh(context.Background())

	if res.Success {
		t.Fatal("expected failure")
	}
	failed, ok := res.Failed()
	if !ok || failed.Stage != RefreshAggregate {
		t.Errorf("failed stage = %+v", failed)
	}
	if len(res.Stages) != 1 {
		t.Errorf("stages run = %d, want 1", len(res.Stages))
	}
	if !errors.IsStore(failed.Err) {
		t.Errorf("expected store error, got %v", failed.Err)
	}
}

func TestListHistory_FiltersAndNormalizes(t *testing.T) {
	store := vtesting.NewMemStore(t)
	m := setupManager(t, store)
	ctx := context.Background()

	if _, err := store.Add(ctx, docstore.CollectionHistory, docstore.Fields{
		"url":       "https://example.com/legacy",
		"videoId":   "legacy",
		"status":    "added",
		"createdAt": map[string]any{"seconds": 1704067200, "nanos": 0},
		"deletedAt": nil,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add(ctx, docstore.CollectionHistory, docstore.Fields{"videoId": "no-url"}); err != nil {
		t.Fatal(err)
	}

	hist, err := m.ListHistory(ctx)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("got %d docs, want 1 (doc without url skipped)", len(hist))
	}
	if hist[0].Fields["createdAt"] != "2024-01-01T00:00:00Z" {
		t.Errorf("createdAt = %v", hist[0].Fields["createdAt"])
	}
}

func TestSummaryAndExport(t *testing.T) {
	m := setupManager(t, vtesting.NewMemStore(t))
	ctx := context.Background()

	lists, err := m.AddEntity(ctx, "https://example.com/a", "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if res := m.RunAggregation(ctx); !res.Success {
			t.Fatal(res.Err)
		}
	}

	histID := lists.UpdatedHistory[0].ID
	sum, err := m.Summary(ctx, histID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 4 || sum.Years[2024] != 4 {
		t.Errorf("summary = %+v", sum)
	}

	if _, err := m.Summary(ctx, "missing"); !errors.IsNotFound(err) {
		t.Errorf("missing summary: %v", err)
	}

	res, err := m.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	r, err := export.NewHourReader(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].TotalLoads != 4 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestExport_PrunesOldArchives(t *testing.T) {
	cfg := loader.DefaultConfig()
	cfg.TimeZone = "UTC"
	cfg.Export.Dir = t.TempDir()
	cfg.Export.Retention = loader.Duration(24 * time.Hour)

	stale := filepath.Join(cfg.Export.Dir, export.FileName(testNow.Add(-48*time.Hour)))
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := New(cfg, WithStore(vtesting.NewMemStore(t)), WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	res, err := m.Export(context.Background())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", res.Pruned)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale export still present: %v", err)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("new export missing: %v", err)
	}
}

func TestClosedManager(t *testing.T) {
	m := setupManager(t, vtesting.NewMemStore(t))
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := m.ListEntities(context.Background()); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("ListEntities after close: %v", err)
	}
	if res := m.RunAggregation(context.Background()); res.Success || !errors.Is(res.Err, errors.ErrClosed) {
		t.Errorf("RunAggregation after close: %+v", res)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := loader.DefaultConfig()
	cfg.Aggregation.BatchSize = 1000
	if _, err := New(cfg, WithStore(vtesting.NewMemStore(t))); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
