package models

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted for timestamps, finest granularity first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02T15Z07:00",
	"2006-01-02T15",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseTimestamp parses a timestamp at any granularity from year down to
// fractional seconds. Values without a zone are taken as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	// 2024-01-02 10:00:00Z is common in the wild
	if len(value) > 10 && value[10] == ' ' {
		value = value[:10] + "T" + value[11:]
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// TimeRange is a closed interval; a zero bound is open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) IsInstant() bool {
	return !r.Start.IsZero() && r.Start.Equal(r.End)
}

func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// ParseDatetime parses an instant or a "start/end" interval where either end
// may be ".." or empty.
func ParseDatetime(value string) (TimeRange, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return TimeRange{}, fmt.Errorf("empty datetime")
	}

	parts := strings.Split(value, "/")
	switch len(parts) {
	case 1:
		t, err := ParseTimestamp(parts[0])
		if err != nil {
			return TimeRange{}, err
		}
		return TimeRange{Start: t, End: t}, nil
	case 2:
		var r TimeRange
		if start := strings.TrimSpace(parts[0]); start != "" && start != ".." {
			t, err := ParseTimestamp(start)
			if err != nil {
				return TimeRange{}, fmt.Errorf("invalid interval start: %w", err)
			}
			r.Start = t
		}
		if end := strings.TrimSpace(parts[1]); end != "" && end != ".." {
			t, err := ParseTimestamp(end)
			if err != nil {
				return TimeRange{}, fmt.Errorf("invalid interval end: %w", err)
			}
			r.End = t
		}
		if r.Start.IsZero() && r.End.IsZero() {
			return TimeRange{}, fmt.Errorf("interval %q is open at both ends", value)
		}
		if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
			return TimeRange{}, fmt.Errorf("interval %q ends before it starts", value)
		}
		return r, nil
	default:
		return TimeRange{}, fmt.Errorf("invalid datetime %q", value)
	}
}
