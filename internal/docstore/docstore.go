// Package docstore provides the key-document store the rest of viewtally
// persists to.
//
// The store exposes collection-qua-table semantics: documents are free-form
// field maps addressed by (collection, id). Queries are limited to listing a
// collection and equality lookups on a single field. Writes can be grouped
// into batches that apply atomically.
package docstore

import (
	"context"
	"maps"
)

// Collection names.
const (
	CollectionEntities = "entities"
	CollectionHistory  = "history"
)

// Fields is the decoded body of a document.
//
// Values are whatever encoding/json produces with UseNumber: string,
// json.Number, bool, nil, []any and map[string]any.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	return maps.Clone(f)
}

// Document is one stored document.
type Document struct {
	Collection string
	ID         string
	Fields     Fields
}

// Write is one staged update. Fields are merged into the stored document.
type Write struct {
	Collection string
	ID         string
	Fields     Fields
}

// Store is the document store consumed by the core.
//
// Implementations must be safe for concurrent use. Errors are tagged with
// errors.ErrStore, and Update on a missing document returns an error
// matching errors.ErrNotFound.
type Store interface {
	// ListAll returns every document of a collection in insertion order.
	ListAll(ctx context.Context, collection string) ([]Document, error)

	// FindBy returns documents whose field equals value.
	FindBy(ctx context.Context, collection, field string, value any) ([]Document, error)

	// Add creates a document and returns its generated id.
	Add(ctx context.Context, collection string, fields Fields) (string, error)

	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Fields) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Batch starts a new write batch.
	Batch() Batch

	// Close releases the store.
	Close() error
}

// Batch groups updates that are committed together.
//
// A batch either applies completely or not at all. Staged writes whose
// document no longer exists are skipped and reported in CommitResult.
type Batch interface {
	// Stage adds a write. It fails with errors.ErrBatchLimit once the
	// batch holds its configured maximum.
	Stage(w Write) error

	// Len returns the number of staged writes.
	Len() int

	// Commit applies all staged writes atomically.
	Commit(ctx context.Context) (CommitResult, error)
}

// CommitResult reports what a committed batch did.
type CommitResult struct {
	Applied int
	Missing []string // ids of staged documents that no longer exist
}
