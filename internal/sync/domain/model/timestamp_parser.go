package model

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// TimestampParser turns raw document values into instants
type TimestampParser struct{}

func NewTimestampParser() *TimestampParser {
	return &TimestampParser{}
}

// Accepted string layouts, most common first
var supportedTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon Jan 02 2006 15:04:05 GMT-0700",
}

var (
	isoLikePattern = regexp.MustCompile(`^[+-]?\d{4,6}-\d{2}-\d{2}`)
	tzNamePattern  = regexp.MustCompile(`\s*\([^)]*\)$`)
)

// Instants outside this range cannot be rendered as four-digit-year ISO strings
var (
	minInstant = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	maxInstant = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
)

// TimestampParseError reports an unparseable input
type TimestampParseError struct {
	Input string
}

func (e *TimestampParseError) Error() string {
	return "cannot parse '" + e.Input + "' as timestamp"
}

// IsTimestampString reports whether s looks like an ISO date or datetime
func (tp *TimestampParser) IsTimestampString(s string) bool {
	if len(s) < 10 || len(s) > 40 {
		return false
	}
	return isoLikePattern.MatchString(s)
}

// ParseTimestamp parses a string in any supported layout. Strings without a
// zone are read as UTC.
func (tp *TimestampParser) ParseTimestamp(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(tzNamePattern.ReplaceAllString(s, ""))
	for _, format := range supportedTimestampFormats {
		if t, err := time.Parse(format, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &TimestampParseError{Input: s}
}

// FromMillis interprets n as milliseconds since the Unix epoch
func (tp *TimestampParser) FromMillis(n float64) (time.Time, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	ms := math.Trunc(n)
	if math.Abs(ms) > 8.64e15 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

// TryParseAsTimestamp converts timestamps, millisecond epochs, date strings
// and {_seconds,_nanoseconds} / {seconds,nanos} objects into an instant
func (tp *TimestampParser) TryParseAsTimestamp(v Value) (time.Time, bool) {
	var (
		t  time.Time
		ok bool
	)
	switch v.Kind() {
	case KindTimestamp:
		t, ok = v.TimeValue()
	case KindNumber:
		n, _ := v.NumberValue()
		t, ok = tp.FromMillis(n)
	case KindDecimal:
		d, _ := v.DecimalValue()
		n, err := d.Float64()
		if err == nil {
			t, ok = tp.FromMillis(n)
		}
	case KindString:
		s, _ := v.StringValue()
		parsed, err := tp.ParseTimestamp(s)
		t, ok = parsed, err == nil
	case KindObject:
		t, ok = tp.fromSecondsObject(v)
	}
	if !ok || t.Before(minInstant) || t.After(maxInstant) {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func (tp *TimestampParser) fromSecondsObject(v Value) (time.Time, bool) {
	for _, keys := range [][2]string{{"_seconds", "_nanoseconds"}, {"seconds", "nanos"}} {
		secs, ok := v.Get(keys[0])
		if !ok {
			continue
		}
		s, ok := secs.NumberValue()
		if !ok {
			return time.Time{}, false
		}
		var nanos float64
		if n, found := v.Get(keys[1]); found {
			nanos, _ = n.NumberValue()
		}
		return time.Unix(int64(s), int64(nanos)).UTC(), true
	}
	return time.Time{}, false
}

// FormatInstant renders t as YYYY-MM-DDTHH:MM:SS.mmmZ
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// FormatDate renders the calendar-date portion of FormatInstant
func FormatDate(t time.Time) string {
	return FormatInstant(t)[:10]
}
