package schedule

import (
	"fmt"
	"time"

	"talep/internal/domain"
	"talep/internal/models"
)

// TimeRange is the half-open interval [Start, End) in UTC.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange validates start < end and normalizes both ends to UTC.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.IsZero() || end.IsZero() {
		return TimeRange{}, domain.NewValidationError("time_range", "start and end are required")
	}
	if !start.Before(end) {
		return TimeRange{}, domain.NewValidationError("time_range",
			"start %s must be before end %s", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	return TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}

// RangeOf returns the stored range of a reservation.
func RangeOf(r *models.Reservation) TimeRange {
	return TimeRange{Start: r.Start.UTC(), End: r.End.UTC()}
}

// Overlaps is true iff the ranges share at least one instant. Ranges that
// only touch (one ends exactly when the other starts) do not overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Clip returns the part of r that lies within bounds.
func (r TimeRange) Clip(bounds TimeRange) TimeRange {
	out := r
	if out.Start.Before(bounds.Start) {
		out.Start = bounds.Start
	}
	if out.End.After(bounds.End) {
		out.End = bounds.End
	}
	return out
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
