package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/viewtally/config"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/logging"
)

var log = logging.Component("docstore")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds DuckDB store configuration options.
type Config struct {
	// DSN is the database path. Empty or ":memory:" opens an in-memory database.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds every store operation. Zero disables it.
	QueryTimeout time.Duration

	// MaxBatchWrites caps staged writes per batch.
	MaxBatchWrites int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DSN:             config.DefaultMetastorePath,
		MaxOpenConns:    config.DefaultMaxOpenConns,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		QueryTimeout:    time.Duration(config.DefaultQueryTimeoutSec) * time.Second,
		MaxBatchWrites:  config.MaxBatchWrites,
	}
}

// =============================================================================
// DuckStore
// =============================================================================

// DuckStore is a Store backed by a single DuckDB table.
//
// DuckStore is safe for concurrent use.
type DuckStore struct {
	db     *sql.DB
	config Config
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*DuckStore)(nil)

// Open opens (or creates) the database and applies the schema.
func Open(cfg Config) (*DuckStore, error) {
	dsn := cfg.DSN
	if dsn == ":memory:" {
		dsn = ""
	}
	if cfg.MaxBatchWrites <= 0 || cfg.MaxBatchWrites > config.MaxBatchWrites {
		cfg.MaxBatchWrites = config.MaxBatchWrites
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.NewStore("open database", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewStore("ping database", err)
	}

	s := &DuckStore{db: db, config: cfg}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("store opened", "dsn", cfg.DSN)
	return s, nil
}

// migrate creates the documents table. It is idempotent.
func (s *DuckStore) migrate(ctx context.Context) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "documents_seq",
			sql:  `CREATE SEQUENCE IF NOT EXISTS documents_seq START 1`,
		},
		{
			name: "documents",
			sql: `CREATE TABLE IF NOT EXISTS documents (
				collection VARCHAR NOT NULL,
				id VARCHAR NOT NULL,
				seq BIGINT NOT NULL DEFAULT nextval('documents_seq'),
				body VARCHAR NOT NULL,
				created_at TIMESTAMP DEFAULT now(),
				updated_at TIMESTAMP DEFAULT now(),
				PRIMARY KEY (collection, id)
			)`,
		},
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return errors.NewStore("migration "+m.name, err)
		}
	}
	return nil
}

// Close closes the store.
func (s *DuckStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Health checks database connectivity.
func (s *DuckStore) Health(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return errors.NewStore("ping", s.db.PingContext(ctx))
}

func (s *DuckStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrClosed
	}
	return nil
}

// opContext applies the configured per-operation timeout.
func (s *DuckStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

// =============================================================================
// Reads
// =============================================================================

// ListAll returns every document of a collection in insertion order.
func (s *DuckStore) ListAll(ctx context.Context, collection string) ([]Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, errors.NewStore("list "+collection, err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body FROM documents
		WHERE collection = ?
		ORDER BY seq
	`, collection)
	if err != nil {
		return nil, errors.NewStore("list "+collection, err)
	}
	defer rows.Close()

	docs, err := scanDocuments(collection, rows)
	if err != nil {
		return nil, errors.NewStore("list "+collection, err)
	}
	return docs, nil
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FindBy returns documents whose top-level field equals value.
//
// Comparison is done on the JSON text form of the field, so value must be a
// scalar (string, bool, integer or float).
func (s *DuckStore) FindBy(ctx context.Context, collection, field string, value any) ([]Document, error) {
	if !fieldName.MatchString(field) {
		return nil, errors.NewInvalidValue("field", field, "not a plain field name")
	}
	want, err := scalarText(value)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, errors.NewStore("find "+collection, err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body FROM documents
		WHERE collection = ? AND json_extract_string(body, ?) = ?
		ORDER BY seq
	`, collection, "$."+field, want)
	if err != nil {
		return nil, errors.NewStore("find "+collection, err)
	}
	defer rows.Close()

	docs, err := scanDocuments(collection, rows)
	if err != nil {
		return nil, errors.NewStore("find "+collection, err)
	}
	return docs, nil
}

func scalarText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool, int, int32, int64, uint, uint32, uint64, json.Number:
		return fmt.Sprint(x), nil
	case float64:
		b, _ := json.Marshal(x)
		return string(b), nil
	default:
		return "", errors.NewInvalidValue("value", v, "not a scalar")
	}
}

func scanDocuments(collection string, rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields, err := decodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", collection, id, err)
		}
		docs = append(docs, Document{Collection: collection, ID: id, Fields: fields})
	}
	return docs, rows.Err()
}

func decodeBody(body string) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	fields := Fields{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return fields, nil
}

func encodeBody(fields Fields) (string, error) {
	if fields == nil {
		fields = Fields{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalidDocument, err.Error())
	}
	return string(b), nil
}

// =============================================================================
// Writes
// =============================================================================

// Add creates a document with a random id.
func (s *DuckStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	body, err := encodeBody(fields)
	if err != nil {
		return "", err
	}
	if err := s.checkOpen(); err != nil {
		return "", errors.NewStore("add "+collection, err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
	`, collection, id, body); err != nil {
		return "", errors.NewStore("add "+collection, err)
	}
	return id, nil
}

// Update merges fields into an existing document.
func (s *DuckStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := s.checkOpen(); err != nil {
		return errors.NewStore("update "+collection, err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.transaction(ctx, func(tx *sql.Tx) error {
		found, err := mergeTx(ctx, tx, collection, id, fields)
		if err != nil {
			return errors.NewStore("update "+collection, err)
		}
		if !found {
			return errors.NewNotFound(collection, id)
		}
		return nil
	})
}

// Delete removes a document.
func (s *DuckStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.checkOpen(); err != nil {
		return errors.NewStore("delete "+collection, err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND id = ?
	`, collection, id); err != nil {
		return errors.NewStore("delete "+collection, err)
	}
	return nil
}

// mergeTx read-modify-writes one document. It reports whether it existed.
func mergeTx(ctx context.Context, tx *sql.Tx, collection, id string, fields Fields) (bool, error) {
	var body string
	err := tx.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND id = ?
	`, collection, id).Scan(&body)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s/%s: %w", collection, id, err)
	}

	current, err := decodeBody(body)
	if err != nil {
		return false, err
	}
	for k, v := range fields {
		current[k] = v
	}

	merged, err := encodeBody(current)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET body = ?, updated_at = now()
		WHERE collection = ? AND id = ?
	`, merged, collection, id); err != nil {
		return false, fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// transaction executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back.
func (s *DuckStore) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStore("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStore("commit transaction", err)
	}
	return nil
}

// =============================================================================
// Batches
// =============================================================================

// Batch starts a new write batch bounded by Config.MaxBatchWrites.
func (s *DuckStore) Batch() Batch {
	return &duckBatch{store: s, limit: s.config.MaxBatchWrites}
}

type duckBatch struct {
	store  *DuckStore
	limit  int
	writes []Write
}

func (b *duckBatch) Stage(w Write) error {
	if len(b.writes) >= b.limit {
		return fmt.Errorf("stage %s/%s: %w", w.Collection, w.ID, errors.ErrBatchLimit)
	}
	b.writes = append(b.writes, Write{Collection: w.Collection, ID: w.ID, Fields: w.Fields.Clone()})
	return nil
}

func (b *duckBatch) Len() int {
	return len(b.writes)
}

func (b *duckBatch) Commit(ctx context.Context) (CommitResult, error) {
	var res CommitResult
	if len(b.writes) == 0 {
		return res, nil
	}
	if err := b.store.checkOpen(); err != nil {
		return res, errors.NewStore("commit batch", err)
	}
	ctx, cancel := b.store.opContext(ctx)
	defer cancel()

	err := b.store.transaction(ctx, func(tx *sql.Tx) error {
		res = CommitResult{}
		for _, w := range b.writes {
			found, err := mergeTx(ctx, tx, w.Collection, w.ID, w.Fields)
			if err != nil {
				return errors.NewStore("commit batch", err)
			}
			if !found {
				res.Missing = append(res.Missing, w.ID)
				continue
			}
			res.Applied++
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	b.writes = nil
	return res, nil
}
