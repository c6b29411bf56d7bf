// Package history normalizes the timestamp fields of stored documents.
//
// Documents written over the life of the system carry instants in several
// encodings: structured {seconds, nanos} timestamps, numeric epoch
// milliseconds, and ISO-8601 strings. Read paths only ever see the canonical
// form produced here: an RFC 3339 string in UTC with nanosecond precision.
package history

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/xtxerr/viewtally/internal/docstore"
	"github.com/xtxerr/viewtally/internal/errors"
	"github.com/xtxerr/viewtally/internal/logging"
)

var log = logging.Component("history")

var timestampFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "viewtally_timestamp_fallbacks_total",
	Help: "Timestamp fields that could not be decoded and were replaced by the current time",
}, []string{"field"})

// TimestampFields are the document fields holding instants.
var TimestampFields = []string{"createdAt", "lastUpdated", "deletedAt"}

// Canonical formats t in the canonical representation.
func Canonical(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var stringLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	time.DateTime,
	time.DateOnly,
}

// ToInstant decodes any supported timestamp encoding.
//
// Supported forms are time.Time, *timestamppb.Timestamp, maps with
// seconds/nanos keys (with or without a leading underscore, nanos also
// spelled nanoseconds), epoch milliseconds as a number or numeric string,
// and ISO-8601 strings. Strings without a zone are read as UTC.
//
// Instants whose UTC year falls outside 0000-9999 are rejected, since their
// canonical form would not parse back.
func ToInstant(v any) (time.Time, error) {
	t, err := decodeInstant(v)
	if err != nil {
		return time.Time{}, err
	}
	if y := t.UTC().Year(); y < 0 || y > 9999 {
		return time.Time{}, errors.NewTimeConversion("instant", fmt.Sprintf("year %d out of range", y))
	}
	return t, nil
}

func decodeInstant(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, errors.NewTimeConversion("instant", "zero time")
		}
		return x, nil
	case *timestamppb.Timestamp:
		return fromProto(x)
	case map[string]any:
		return fromMap(x)
	case json.Number:
		if ms, err := x.Int64(); err == nil {
			return time.UnixMilli(ms), nil
		}
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, errors.NewTimeConversion("instant", x)
		}
		return fromMillis(f)
	case float64:
		return fromMillis(x)
	case int64:
		return time.UnixMilli(x), nil
	case int:
		return time.UnixMilli(int64(x)), nil
	case string:
		return fromString(x)
	default:
		return time.Time{}, errors.NewTimeConversion("instant", fmt.Sprintf("%T", v))
	}
}

func fromProto(ts *timestamppb.Timestamp) (time.Time, error) {
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, fmt.Errorf("%v: %w", err, errors.ErrTimeConversion)
	}
	return ts.AsTime(), nil
}

func fromMap(m map[string]any) (time.Time, error) {
	secs, ok := firstInt(m, "seconds", "_seconds")
	if !ok {
		return time.Time{}, errors.NewTimeConversion("instant", m)
	}
	nanos, _ := firstInt(m, "nanos", "nanoseconds", "_nanoseconds")
	if nanos < math.MinInt32 || nanos > math.MaxInt32 {
		return time.Time{}, errors.NewTimeConversion("nanos", nanos)
	}
	return fromProto(&timestamppb.Timestamp{Seconds: secs, Nanos: int32(nanos)})
}

func firstInt(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch n := m[k].(type) {
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, true
			}
		case float64:
			if n == math.Trunc(n) {
				return int64(n), true
			}
		case int64:
			return n, true
		case int:
			return int64(n), true
		}
	}
	return 0, false
}

func fromMillis(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > 8.64e15 {
		return time.Time{}, errors.NewTimeConversion("instant", f)
	}
	ms := math.Trunc(f)
	return time.UnixMilli(int64(ms)).Add(time.Duration((f - ms) * float64(time.Millisecond))), nil
}

func fromString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.NewTimeConversion("instant", `""`)
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	for _, layout := range stringLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.NewTimeConversion("instant", s)
}

// Normalize rewrites every present timestamp field of fields into canonical
// form. A value that cannot be decoded is replaced by now and logged.
//
// The input is not modified. Normalize is idempotent.
func Normalize(fields docstore.Fields, now time.Time) docstore.Fields {
	out := fields.Clone()
	for _, name := range TimestampFields {
		raw, ok := out[name]
		if !ok || raw == nil {
			continue
		}
		t, err := ToInstant(raw)
		if err != nil {
			log.Warn("timestamp fallback to now", "field", name, "value", raw, "error", err)
			timestampFallbacks.WithLabelValues(name).Inc()
			t = now
		}
		out[name] = Canonical(t)
	}
	return out
}

// NormalizeDocuments normalizes each document in docs.
func NormalizeDocuments(docs []docstore.Document, now time.Time) []docstore.Document {
	out := make([]docstore.Document, len(docs))
	for i, doc := range docs {
		doc.Fields = Normalize(doc.Fields, now)
		out[i] = doc
	}
	return out
}
