package schedule

import (
	"context"
	"fmt"
	"sort"

	"talep/internal/domain"
	"talep/internal/models"
)

var (
	// DefaultBlockingStatuses block new requests and edits.
	DefaultBlockingStatuses = []models.ReservationStatus{models.StatusPending, models.StatusApproved}

	// ApprovalBlockingStatuses block the pending -> approved transition.
	ApprovalBlockingStatuses = []models.ReservationStatus{models.StatusApproved}
)

// Query selects the reservations a candidate range competes with.
type Query struct {
	ResourceID int64
	Range      TimeRange
	// ExcludeID keeps a reservation from conflicting with itself on update.
	ExcludeID int64
	Statuses  []models.ReservationStatus
}

func (q Query) statuses() []models.ReservationStatus {
	if len(q.Statuses) == 0 {
		return DefaultBlockingStatuses
	}
	return q.Statuses
}

type ConflictDetector struct {
	reader domain.ReservationReader
}

func NewConflictDetector(reader domain.ReservationReader) *ConflictDetector {
	return &ConflictDetector{reader: reader}
}

// Detect returns the blocking reservations overlapping q.Range, ordered by
// start time. It never writes.
func (d *ConflictDetector) Detect(ctx context.Context, q Query) ([]*models.Reservation, error) {
	existing, err := d.reader.FindByResource(ctx, q.ResourceID, q.statuses())
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations for resource %d: %w", q.ResourceID, err)
	}
	return Overlapping(existing, q), nil
}

// Overlapping filters existing down to the reservations that block q.
func Overlapping(existing []*models.Reservation, q Query) []*models.Reservation {
	blocking := make(map[models.ReservationStatus]bool, len(q.statuses()))
	for _, s := range q.statuses() {
		blocking[s] = true
	}

	var out []*models.Reservation
	for _, r := range existing {
		if r == nil || r.ResourceID != q.ResourceID || !blocking[r.Status] {
			continue
		}
		if q.ExcludeID != 0 && r.ID == q.ExcludeID {
			continue
		}
		if RangeOf(r).Overlaps(q.Range) {
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
