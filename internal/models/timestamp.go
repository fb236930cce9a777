package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// epochMillisFloor separates epoch seconds from epoch milliseconds. Second
// values stay below it until the year 33658.
const epochMillisFloor = 1e12

// providerLayouts are tried in order for string timestamps. Layouts without
// a zone are read as UTC.
var providerLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Timestamp is a provider time that tolerates the formats trackers report:
// RFC 3339 with or without a zone, "2006-01-02 15:04:05", and epoch seconds
// or milliseconds as numbers or numeric strings. Empty, null and unparseable
// values decode to the zero time so one odd record never fails a list.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp reads a provider time string. ok is false when no known
// format matched.
func ParseTimestamp(s string) (Timestamp, bool) {
	if s == "" {
		return Timestamp{}, true
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n), true
	}
	for _, layout := range providerLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{Time: t}, true
		}
	}
	return Timestamp{}, false
}

func fromEpoch(n float64) Timestamp {
	if n <= 0 {
		return Timestamp{}
	}
	if n >= epochMillisFloor {
		return Timestamp{Time: time.UnixMilli(int64(n)).UTC()}
	}
	return Timestamp{Time: time.Unix(int64(n), 0).UTC()}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = Timestamp{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*t = Timestamp{}
			return nil
		}
		*t, _ = ParseTimestamp(s)
	default:
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			*t = Timestamp{}
			return nil
		}
		*t = fromEpoch(n)
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func (t Timestamp) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if t.IsZero() {
		return bson.TypeNull, nil, nil
	}
	return bson.MarshalValue(t.Time)
}

func (t *Timestamp) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	if typ == bson.TypeNull || typ == bson.TypeUndefined {
		*t = Timestamp{}
		return nil
	}
	v, ok := bson.RawValue{Type: typ, Value: data}.TimeOK()
	if !ok {
		return fmt.Errorf("cannot decode BSON %s into a timestamp", typ)
	}
	*t = Timestamp{Time: v.UTC()}
	return nil
}
