package manager

import (
	"context"

	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/history"
	"github.com/xtxerr/viewtally/internal/logging"
	"github.com/xtxerr/viewtally/internal/record"
	"github.com/xtxerr/viewtally/internal/stats"
	"github.com/xtxerr/viewtally/internal/validation"
)

// Lists holds both collections after a mutation.
type Lists struct {
	UpdatedURLs    []docstore.Document
	UpdatedHistory []docstore.Document
}

// AddEntity starts tracking a URL.
//
// An entity document and its history record are created, each carrying its
// own id as a field. The history record starts with loadCount 0 and a tree
// seeded with one zero-valued path at the current bucket. Both collections
// are returned normalized.
func (m *Manager) AddEntity(ctx context.Context, rawURL, rawDeleteLoad string) (Lists, error) {
	if err := m.checkOpen(); err != nil {
		return Lists{}, err
	}
	in, err := validation.ValidateEntityInput(rawURL, rawDeleteLoad)
	if err != nil {
		return Lists{}, err
	}

	now := m.now()
	entity := record.Entity{URL: in.URL, DeleteLoad: in.DeleteLoad, CreatedAt: now}

	id, err := m.addWithID(ctx, docstore.CollectionEntities, entity.Fields())
	if err != nil {
		return Lists{}, err
	}
	ctx = logging.ContextWithEntityID(ctx, id)

	rec := record.HistoryRecord{
		URL:         in.URL,
		DeleteLoad:  in.DeleteLoad,
		CreatedAt:   now,
		Status:      record.StatusAdded,
		LoadCount:   0,
		VideoID:     id,
		Stats:       stats.Seed(m.resolver.Resolve(now)),
		LastUpdated: now,
	}
	if _, err := m.addWithID(ctx, docstore.CollectionHistory, rec.Fields()); err != nil {
		m.rollback(ctx, docstore.CollectionEntities, id)
		return Lists{}, err
	}

	log.InfoContext(ctx, "entity added", "url", in.URL, "video_id", in.VideoID, "delete_load", in.DeleteLoad)
	return m.lists(ctx)
}

// addWithID creates a document and then stores its generated id inside it.
// If the id cannot be stored the document is removed again.
func (m *Manager) addWithID(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id, err := m.store.Add(ctx, collection, fields)
	if err != nil {
		return "", errors.NewStore("add "+collection, err)
	}
	if err := m.store.Update(ctx, collection, id, docstore.Fields{record.FieldID: id}); err != nil {
		m.rollback(ctx, collection, id)
		return "", errors.NewStore("set id on "+collection, err)
	}
	return id, nil
}

// rollback deletes a document created by a failed operation.
func (m *Manager) rollback(ctx context.Context, collection, id string) {
	if err := m.store.Delete(context.WithoutCancel(ctx), collection, id); err != nil {
		log.ErrorContext(ctx, "rollback failed", "collection", collection, "id", id, "error", err)
	}
}

// DeleteEntity removes an entity immediately and marks every matching
// history record deleted, regardless of its threshold. It returns id.
func (m *Manager) DeleteEntity(ctx context.Context, id string) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.NewMissingField("id")
	}
	if _, err := m.lifecycle.DeleteExplicit(ctx, id, m.now()); err != nil {
		return "", err
	}
	return id, nil
}

// ListEntities returns the active entities, normalized.
func (m *Manager) ListEntities(ctx context.Context) ([]docstore.Document, error) {
	return m.list(ctx, docstore.CollectionEntities)
}

// ListHistory returns every history record, normalized.
func (m *Manager) ListHistory(ctx context.Context) ([]docstore.Document, error) {
	return m.list(ctx, docstore.CollectionHistory)
}

// list reads a collection, dropping documents without a url.
func (m *Manager) list(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	docs, err := m.store.ListAll(ctx, collection)
	if err != nil {
		return nil, errors.NewStore("list "+collection, err)
	}

	kept := docs[:0]
	for _, doc := range docs {
		if u, _ := doc.Fields[record.FieldURL].(string); u == "" {
			continue
		}
		kept = append(kept, doc)
	}
	return history.NormalizeDocuments(kept, m.now()), nil
}

func (m *Manager) lists(ctx context.Context) (Lists, error) {
	urls, err := m.ListEntities(ctx)
	if err != nil {
		return Lists{}, err
	}
	hist, err := m.ListHistory(ctx)
	if err != nil {
		return Lists{}, err
	}
	return Lists{UpdatedURLs: urls, UpdatedHistory: hist}, nil
}

// historyRecord loads one history record by its id field.
func (m *Manager) historyRecord(ctx context.Context, id string) (record.HistoryRecord, error) {
	docs, err := m.store.FindBy(ctx, docstore.CollectionHistory, record.FieldID, id)
	if err != nil {
		return record.HistoryRecord{}, errors.NewStore("find history", err)
	}
	if len(docs) == 0 {
		return record.HistoryRecord{}, errors.Wrap(errors.ErrHistoryNotFound, id)
	}
	return record.DecodeHistory(docs[0])
}

// Summary summarizes one history record's tree.
func (m *Manager) Summary(ctx context.Context, historyID string) (stats.Summary, error) {
	if err := m.checkOpen(); err != nil {
		return stats.Summary{}, err
	}
	rec, err := m.historyRecord(ctx, historyID)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(rec.Stats), nil
}

// historyRecords decodes every history record, skipping invalid documents.
func (m *Manager) historyRecords(ctx context.Context) ([]record.HistoryRecord, error) {
	docs, err := m.store.ListAll(ctx, docstore.CollectionHistory)
	if err != nil {
		return nil, errors.NewStore("list history", err)
	}
	recs := make([]record.HistoryRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := record.DecodeHistory(doc)
		if err != nil {
			log.WarnContext(ctx, "history record skipped", "id", doc.ID, "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
