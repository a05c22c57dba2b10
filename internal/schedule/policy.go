package schedule

import (
	"context"
	"fmt"

	"talep/internal/domain"
	"talep/internal/models"
)

// Occupancy is how a resource may be shared between reservations.
type Occupancy int

const (
	// Exclusive resources hold one reservation at a time (vehicles).
	Exclusive Occupancy = iota + 1
	// SharedCapacity resources hold concurrent reservations up to a
	// participant limit (rooms).
	SharedCapacity
)

func (o Occupancy) String() string {
	switch o {
	case Exclusive:
		return "exclusive"
	case SharedCapacity:
		return "capacity"
	}
	return "unknown"
}

// OccupancyOf maps a resource kind to its occupancy strategy.
func OccupancyOf(kind models.ResourceKind) (Occupancy, error) {
	switch kind {
	case models.KindVehicle:
		return Exclusive, nil
	case models.KindRoom:
		return SharedCapacity, nil
	}
	return 0, fmt.Errorf("%w: unknown resource kind %q", domain.ErrInvalidState, kind)
}

// ValidateParticipants checks the participant count against the resource.
func ValidateParticipants(resource *models.Resource, count *int) error {
	occ, err := OccupancyOf(resource.Kind)
	if err != nil {
		return err
	}
	switch occ {
	case Exclusive:
		if count != nil {
			return domain.NewValidationError("participant_count", "not applicable to %s resources", resource.Kind)
		}
	case SharedCapacity:
		if count == nil {
			return domain.NewValidationError("participant_count", "is required for %s resources", resource.Kind)
		}
		if *count < 1 {
			return domain.NewValidationError("participant_count", "must be at least 1, got %d", *count)
		}
		if *count > resource.Capacity {
			return domain.NewValidationError("participant_count", "%d exceeds capacity %d of %s",
				*count, resource.Capacity, resource.Name)
		}
	}
	return nil
}

// Candidate is a proposed (or edited) reservation to be checked.
type Candidate struct {
	Range        TimeRange
	Participants int
	ExcludeID    int64
	Statuses     []models.ReservationStatus
}

// Verdict is the result of checking a candidate against a resource.
type Verdict struct {
	ResourceID int64
	Occupancy  Occupancy
	Conflicts  []*models.Reservation
	// Capacity is set for SharedCapacity resources only.
	Capacity *CapacityReport
}

func (v *Verdict) Blocked() bool {
	if v.Occupancy == SharedCapacity {
		return v.Capacity != nil && !v.Capacity.Available
	}
	return len(v.Conflicts) > 0
}

// Err converts a blocked verdict into a *domain.ConflictError.
func (v *Verdict) Err() error {
	if !v.Blocked() {
		return nil
	}
	cerr := &domain.ConflictError{ResourceID: v.ResourceID, Conflicts: v.Conflicts}
	if v.Capacity != nil {
		remaining := v.Capacity.Remaining
		cerr.Capacity = v.Capacity.Capacity
		cerr.Remaining = &remaining
		cerr.Reason = v.Capacity.Reason
	}
	return cerr
}

// Checker runs the strategy matching the resource kind against a reader.
// Inside a transaction the reader is the transaction itself.
type Checker struct {
	detector  *ConflictDetector
	evaluator *CapacityEvaluator
}

func NewChecker(reader domain.ReservationReader) *Checker {
	detector := NewConflictDetector(reader)
	return &Checker{detector: detector, evaluator: NewCapacityEvaluator(detector)}
}

func (c *Checker) Check(ctx context.Context, resource *models.Resource, cand Candidate) (*Verdict, error) {
	occ, err := OccupancyOf(resource.Kind)
	if err != nil {
		return nil, err
	}

	q := Query{
		ResourceID: resource.ID,
		Range:      cand.Range,
		ExcludeID:  cand.ExcludeID,
		Statuses:   cand.Statuses,
	}
	verdict := &Verdict{ResourceID: resource.ID, Occupancy: occ}

	switch occ {
	case Exclusive:
		conflicts, err := c.detector.Detect(ctx, q)
		if err != nil {
			return nil, err
		}
		verdict.Conflicts = conflicts
	case SharedCapacity:
		report, err := c.evaluator.Evaluate(ctx, q, cand.Participants, resource.Capacity)
		if err != nil {
			return nil, err
		}
		verdict.Capacity = report
		if !report.Available {
			verdict.Conflicts = report.Overlapping
		}
	}
	return verdict, nil
}
