package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/tools/timeparser"
)

var (
	// ErrMissingBoard is returned for records without a board identifier
	ErrMissingBoard = errors.New("missing board identifier")
	// ErrInvalidRecord is returned for records whose board identifier is not a number
	ErrInvalidRecord = errors.New("invalid record")
)

// Normalize turns a decoded record into a sample for the returned board
// number. Absent, NaN and "null"-like values become nil; the timestamp
// falls back from ts_epoch to ts to receivedAt and is always UTC.
func Normalize(r Record, receivedAt time.Time) (int64, *db.Sample, error) {
	rawBoard, ok := r.Lookup("boat", "board")
	if !ok {
		return 0, nil, ErrMissingBoard
	}
	board, ok := integer(rawBoard)
	if !ok {
		return 0, nil, fmt.Errorf("%w: board identifier %v", ErrInvalidRecord, rawBoard)
	}

	s := &db.Sample{
		ReceivedAt: receivedAt.UTC(),
		Sess:       r.Text("sess"),
		Seq:        r.Integer("seq"),
		Lat:        r.Number("lat"),
		Lon:        r.Number("lon"),
		AltM:       r.Number("alt_m", "alt"),
		GS:         r.Number("gs"),
		Hdg:        r.Number("hdg"),
		Airspd:     r.Number("airspd"),
		Volt:       r.Number("volt"),
		Mode:       r.Text("mode"),
		WindSpd:    r.Number("wind_spd"),
		WindDir:    r.Number("wind_dir"),
		GPS:        r.Text("gps"),
		Arm:        r.Flag("arm"),
	}
	s.TS, s.TSEpoch = r.timestamp(receivedAt)

	if s.Lat != nil && math.Abs(*s.Lat) > 90 {
		s.Lat = nil
	}
	if s.Lon != nil && math.Abs(*s.Lon) > 180 {
		s.Lon = nil
	}
	return board, s, nil
}

// Lookup returns the first present value among keys
func (r Record) Lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && !absent(v) {
			return v, true
		}
	}
	return nil, false
}

// Number returns the first present numeric value among keys
func (r Record) Number(keys ...string) *float64 {
	v, ok := r.Lookup(keys...)
	if !ok {
		return nil
	}
	f, ok := float(v)
	if !ok {
		return nil
	}
	return &f
}

// Integer returns the first present whole number among keys
func (r Record) Integer(keys ...string) *int64 {
	v, ok := r.Lookup(keys...)
	if !ok {
		return nil
	}
	n, ok := integer(v)
	if !ok {
		return nil
	}
	return &n
}

// Text returns the first present value among keys as a trimmed string
func (r Record) Text(keys ...string) *string {
	v, ok := r.Lookup(keys...)
	if !ok {
		return nil
	}

	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	default:
		f, ok := float(v)
		if !ok {
			return nil
		}
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if s == "" {
		return nil
	}
	return &s
}

// Flag reports whether the value is 1, "1", true or "true"
func (r Record) Flag(keys ...string) bool {
	v, ok := r.Lookup(keys...)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true") || strings.TrimSpace(t) == "1"
	default:
		f, ok := float(v)
		return ok && f == 1
	}
}

func (r Record) timestamp(receivedAt time.Time) (time.Time, *int64) {
	if epoch := r.Integer("ts_epoch"); epoch != nil {
		return timeparser.FromEpoch(*epoch), epoch
	}

	if v, ok := r.Lookup("ts"); ok {
		if s, isString := v.(string); isString {
			if ts, err := timeparser.ParseTimestamp(s); err == nil {
				return ts, nil
			}
		} else if epoch, isNum := integer(v); isNum {
			return timeparser.FromEpoch(epoch), &epoch
		}
	}
	return receivedAt.UTC(), nil
}

func absent(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "nan", "null", "none":
			return true
		}
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	}
	return false
}

func float(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func integer(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
	}

	f, ok := float(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
