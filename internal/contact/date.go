package contact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DateLayout is the wire format of every contact date.
const DateLayout = "2006-01-02"

// Date is an optional calendar date with no time of day.
// The zero value means "not set".
type Date struct {
	t time.Time // midnight UTC, zero when unset
}

// NewDate returns the calendar date y-m-d.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDateStrict parses "YYYY-MM-DD" or an RFC3339 timestamp (the date part
// is kept). The empty string yields the zero Date.
func ParseDateStrict(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
}

var naturalDates = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDate parses user input. Besides the strict formats it understands
// natural language relative to now ("tomorrow", "next friday", "in 2 weeks").
func ParseDate(s string, now time.Time) (Date, error) {
	d, err := ParseDateStrict(s)
	if err == nil {
		return d, nil
	}

	r, perr := naturalDates.Parse(s, now)
	if perr != nil {
		return Date{}, fmt.Errorf("failed to parse date %q: %w", s, perr)
	}
	if r == nil {
		return Date{}, err
	}
	return DateOf(r.Time), nil
}

// MustDate is ParseDateStrict for literals; it panics on malformed input.
func MustDate(s string) Date {
	d, err := ParseDateStrict(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return d.t
}

// String returns "YYYY-MM-DD", or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// DaysFrom returns the number of calendar days from the date of now to d.
// Negative values lie in the past.
func (d Date) DaysFrom(now time.Time) int {
	today := DateOf(now)
	return int(d.t.Sub(today.t).Hours() / 24)
}

// MarshalJSON encodes an unset date as "".
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts null, "", "YYYY-MM-DD" and RFC3339 strings.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDateStrict(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText lets dates appear as YAML and TOML scalars.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDateStrict(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
