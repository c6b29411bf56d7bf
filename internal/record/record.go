// Package record defines the typed documents stored in the entities and
// history collections and converts them to and from raw document fields.
//
// Decoding is strict about the fields the core computes with (status,
// loadCount, videoId, stats) and lenient about timestamps, which are left
// zero when they cannot be decoded.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/history"
	"github.com/xtxerr/viewtally/internal/stats"
)

// Status is the lifecycle state of a history record.
type Status string

const (
	StatusAdded   Status = "added"
	StatusDeleted Status = "deleted"
)

// Field names shared by both collections.
const (
	FieldID          = "id"
	FieldURL         = "url"
	FieldDeleteLoad  = "deleteLoad"
	FieldCreatedAt   = "createdAt"
	FieldStatus      = "status"
	FieldLoadCount   = "loadCount"
	FieldVideoID     = "videoId"
	FieldStats       = "stats"
	FieldLastUpdated = "lastUpdated"
	FieldDeletedAt   = "deletedAt"
)

// Entity is an actively tracked resource.
type Entity struct {
	ID         string
	URL        string
	DeleteLoad *int64 // nil means never auto-delete
	CreatedAt  time.Time
}

// HistoryRecord accumulates loads for one entity and outlives it.
type HistoryRecord struct {
	ID          string
	URL         string
	DeleteLoad  *int64
	CreatedAt   time.Time
	Status      Status
	LoadCount   int64
	VideoID     string
	Stats       []stats.YearStat
	LastUpdated time.Time
	DeletedAt   *time.Time
}

// Threshold returns the deletion threshold, if one is set.
func (e Entity) Threshold() (int64, bool) {
	if e.DeleteLoad == nil {
		return 0, false
	}
	return *e.DeleteLoad, true
}

// DecodeEntity converts an entities document.
func DecodeEntity(doc docstore.Document) (Entity, error) {
	f := doc.Fields
	url, err := optString(f, FieldURL)
	if err != nil {
		return Entity{}, invalid(doc, err)
	}
	deleteLoad, err := optInt(f, FieldDeleteLoad)
	if err != nil {
		return Entity{}, invalid(doc, err)
	}
	return Entity{
		ID:         doc.ID,
		URL:        url,
		DeleteLoad: deleteLoad,
		CreatedAt:  optTime(f, FieldCreatedAt),
	}, nil
}

// DecodeHistory converts a history document.
func DecodeHistory(doc docstore.Document) (HistoryRecord, error) {
	f := doc.Fields
	v := errors.NewValidationErrors()

	url, err := optString(f, FieldURL)
	v.Add(err)
	deleteLoad, err := optInt(f, FieldDeleteLoad)
	v.Add(err)

	videoID, err := optString(f, FieldVideoID)
	v.Add(err)
	if err == nil && videoID == "" {
		v.AddMissing(FieldVideoID)
	}

	status, err := optString(f, FieldStatus)
	v.Add(err)
	switch Status(status) {
	case StatusAdded, StatusDeleted:
	case "":
		v.AddMissing(FieldStatus)
	default:
		v.AddField(FieldStatus, fmt.Sprintf("unknown status %q", status))
	}

	var loadCount int64
	if n, err := optInt(f, FieldLoadCount); err != nil {
		v.Add(err)
	} else if n != nil {
		if *n < 0 {
			v.AddField(FieldLoadCount, "negative")
		}
		loadCount = *n
	}

	tree, err := decodeStats(f[FieldStats])
	v.Add(err)

	if err := v.Err(); err != nil {
		return HistoryRecord{}, invalid(doc, err)
	}

	rec := HistoryRecord{
		ID:          doc.ID,
		URL:         url,
		DeleteLoad:  deleteLoad,
		CreatedAt:   optTime(f, FieldCreatedAt),
		Status:      Status(status),
		LoadCount:   loadCount,
		VideoID:     videoID,
		Stats:       tree,
		LastUpdated: optTime(f, FieldLastUpdated),
	}
	if t := optTime(f, FieldDeletedAt); !t.IsZero() {
		rec.DeletedAt = &t
	}
	return rec, nil
}

// Fields encodes e for storage.
func (e Entity) Fields() docstore.Fields {
	f := docstore.Fields{
		FieldURL:        e.URL,
		FieldDeleteLoad: intOrNil(e.DeleteLoad),
		FieldCreatedAt:  history.Canonical(e.CreatedAt),
	}
	if e.ID != "" {
		f[FieldID] = e.ID
	}
	return f
}

// Fields encodes h for storage.
func (h HistoryRecord) Fields() docstore.Fields {
	tree := h.Stats
	if tree == nil {
		tree = []stats.YearStat{}
	}
	f := docstore.Fields{
		FieldURL:         h.URL,
		FieldDeleteLoad:  intOrNil(h.DeleteLoad),
		FieldCreatedAt:   history.Canonical(h.CreatedAt),
		FieldStatus:      string(h.Status),
		FieldLoadCount:   h.LoadCount,
		FieldVideoID:     h.VideoID,
		FieldStats:       tree,
		FieldLastUpdated: history.Canonical(h.LastUpdated),
	}
	if h.ID != "" {
		f[FieldID] = h.ID
	}
	if h.DeletedAt != nil {
		f[FieldDeletedAt] = history.Canonical(*h.DeletedAt)
	}
	return f
}

// IncrementFields is the partial update written by an aggregation pass.
func IncrementFields(tree []stats.YearStat, loadCount int64, now time.Time) docstore.Fields {
	return docstore.Fields{
		FieldStats:       tree,
		FieldLoadCount:   loadCount,
		FieldLastUpdated: history.Canonical(now),
	}
}

// DeletedFields is the partial update marking a history record deleted.
func DeletedFields(now time.Time) docstore.Fields {
	return docstore.Fields{
		FieldStatus:    string(StatusDeleted),
		FieldDeletedAt: history.Canonical(now),
	}
}

func invalid(doc docstore.Document, err error) error {
	return fmt.Errorf("%s/%s: %w: %w", doc.Collection, doc.ID, errors.ErrInvalidDocument, err)
}

func optString(f docstore.Fields, key string) (string, error) {
	switch v := f[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", errors.NewInvalidValue(key, v, "not a string")
	}
}

// optInt accepts integral numbers and numeric strings. Null, absent and
// empty string decode to nil.
func optInt(f docstore.Fields, key string) (*int64, error) {
	var n int64
	switch v := f[key].(type) {
	case nil:
		return nil, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			fl, ferr := v.Float64()
			if ferr != nil || fl != math.Trunc(fl) {
				return nil, errors.NewInvalidValue(key, v, "not an integer")
			}
			i = int64(fl)
		}
		n = i
	case float64:
		if v != math.Trunc(v) {
			return nil, errors.NewInvalidValue(key, v, "not an integer")
		}
		n = int64(v)
	case int64:
		n = v
	case int:
		n = int64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.NewInvalidValue(key, v, "not an integer")
		}
		n = i
	default:
		return nil, errors.NewInvalidValue(key, v, "not a number")
	}
	return &n, nil
}

func optTime(f docstore.Fields, key string) time.Time {
	raw, ok := f[key]
	if !ok || raw == nil {
		return time.Time{}
	}
	t, err := history.ToInstant(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func intOrNil(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// decodeStats converts the stored tree into typed form by round-tripping it
// through JSON, rejecting unknown keys.
func decodeStats(raw any) ([]stats.YearStat, error) {
	if raw == nil {
		return []stats.YearStat{}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.NewInvalidValue(FieldStats, "<unencodable>", err.Error())
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.DisallowUnknownFields()
	var tree []stats.YearStat
	if err := dec.Decode(&tree); err != nil {
		return nil, errors.NewValidation(FieldStats, err.Error())
	}
	if tree == nil {
		tree = []stats.YearStat{}
	}
	return tree, nil
}
