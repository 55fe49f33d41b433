package model

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the millisecond ISO-8601 layout clients expect.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp is a UTC time serialized with millisecond precision.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to milliseconds in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

// String formats the timestamp using TimestampLayout.
func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

// Value returns the timestamp as a string Value for attribute storage.
func (t Timestamp) Value() Value {
	return String(t.String())
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimestamp accepts TimestampLayout and RFC 3339 strings.
func ParseTimestamp(s string) (Timestamp, error) {
	if parsed, err := time.Parse(TimestampLayout, s); err == nil {
		return NewTimestamp(parsed), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return NewTimestamp(parsed), nil
}
