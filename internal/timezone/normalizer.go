package timezone

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"talep/internal/domain"
)

const (
	// DisplayLayout is the wall-clock form used on the wire for local times.
	DisplayLayout = "2006-01-02T15:04"
	// HumanLayout is used in notification texts and exports.
	HumanLayout = "02.01.2006 15:04"
	DateLayout  = "02.01.2006"
)

// Layouts carrying an explicit offset. Tried first.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04Z07:00",
}

// Layouts without an offset, interpreted in the configured zone.
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// Normalizer converts wire timestamps to UTC and back to the configured
// local offset.
type Normalizer struct {
	loc *time.Location
}

// New builds a Normalizer for a fixed offset such as "+03:00", "-0530" or "3".
func New(offset string) (*Normalizer, error) {
	d, err := ParseOffset(offset)
	if err != nil {
		return nil, err
	}
	return NewFixed(d), nil
}

// NewFixed builds a Normalizer for a fixed offset east of UTC.
func NewFixed(offset time.Duration) *Normalizer {
	return &Normalizer{loc: time.FixedZone(zoneName(offset), int(offset/time.Second))}
}

// Location returns the configured local zone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// ToUTC parses value and returns the instant in UTC. Values without an
// offset are read as local time in the configured zone. Anything that
// matches no known layout is a ValidationError.
func (n *Normalizer) ToUTC(value string) (time.Time, error) {
	return n.parse("time", value)
}

// ParseField is ToUTC with the offending field named in the error.
func (n *Normalizer) ParseField(field, value string) (time.Time, error) {
	return n.parse(field, value)
}

func (n *Normalizer) parse(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, domain.NewValidationError(field, "value is required")
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, n.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.NewValidationError(field,
		"cannot parse %q: expected ISO-8601 such as 2025-12-19T19:00 (local %s) or 2025-12-19T16:00:00Z", value, n.loc)
}

// ToDisplay renders t as local wall-clock time in DisplayLayout.
func (n *Normalizer) ToDisplay(t time.Time) string {
	return t.In(n.loc).Format(DisplayLayout)
}

// FormatHuman renders t as "19.12.2025 19:00" in local time.
func (n *Normalizer) FormatHuman(t time.Time) string {
	return t.In(n.loc).Format(HumanLayout)
}

// FormatRange renders a local range, collapsing the date when both ends
// fall on the same local day.
func (n *Normalizer) FormatRange(start, end time.Time) string {
	ls, le := start.In(n.loc), end.In(n.loc)
	if ls.Format(DateLayout) == le.Format(DateLayout) {
		return fmt.Sprintf("%s %s-%s", ls.Format(DateLayout), ls.Format("15:04"), le.Format("15:04"))
	}
	return fmt.Sprintf("%s - %s", ls.Format(HumanLayout), le.Format(HumanLayout))
}

// FormatUTC renders the canonical storage form.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseOffset accepts "+03:00", "+0300", "-05:30", "3" and "UTC+3".
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "UTC"))
	if s == "" || s == "Z" {
		return 0, nil
	}

	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}

	var hh, mm string
	switch {
	case strings.Contains(s, ":"):
		parts := strings.SplitN(s, ":", 2)
		hh, mm = parts[0], parts[1]
	case len(s) == 4:
		hh, mm = s[:2], s[2:]
	default:
		hh, mm = s, "0"
	}

	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid utc offset %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid utc offset %q: %w", s, err)
	}
	if h > 14 || m >= 60 || h < 0 || m < 0 {
		return 0, fmt.Errorf("invalid utc offset %q: out of range", s)
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

func zoneName(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	if m == 0 {
		return fmt.Sprintf("UTC%s%d", sign, h)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, h, m)
}
