package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"talep/internal/models"
)

// CapacityReport is the outcome of a capacity check for one candidate.
type CapacityReport struct {
	Capacity  int
	Requested int
	// Reserved is the peak number of participants already booked at any
	// instant of the candidate range.
	Reserved  int
	Remaining int
	Available bool
	Reason    string
	// Overlapping are the blocking reservations sharing the candidate range.
	Overlapping []*models.Reservation
}

type CapacityEvaluator struct {
	detector *ConflictDetector
}

func NewCapacityEvaluator(detector *ConflictDetector) *CapacityEvaluator {
	return &CapacityEvaluator{detector: detector}
}

// Evaluate recomputes the remaining capacity from the store on every call.
func (e *CapacityEvaluator) Evaluate(ctx context.Context, q Query, participants, capacity int) (*CapacityReport, error) {
	overlapping, err := e.detector.Detect(ctx, q)
	if err != nil {
		return nil, err
	}
	return EvaluateCapacity(overlapping, q.Range, participants, capacity), nil
}

// EvaluateCapacity computes remaining capacity over candidate given the
// reservations that overlap it.
func EvaluateCapacity(overlapping []*models.Reservation, candidate TimeRange, participants, capacity int) *CapacityReport {
	reserved := peakLoad(overlapping, candidate)
	remaining := capacity - reserved
	if remaining < 0 {
		remaining = 0
	}

	report := &CapacityReport{
		Capacity:    capacity,
		Requested:   participants,
		Reserved:    reserved,
		Remaining:   remaining,
		Available:   participants <= remaining,
		Overlapping: overlapping,
	}
	if !report.Available {
		report.Reason = fmt.Sprintf("only %d of %d places remain in the selected range, %d requested",
			remaining, capacity, participants)
	}
	return report
}

type loadEdge struct {
	at    time.Time
	delta int
}

// peakLoad sweeps the boundaries of the overlapping reservations, clipped to
// candidate, and returns the highest concurrent participant sum.
func peakLoad(overlapping []*models.Reservation, candidate TimeRange) int {
	edges := make([]loadEdge, 0, len(overlapping)*2)
	for _, r := range overlapping {
		n := r.Participants()
		if n <= 0 {
			continue
		}
		clipped := RangeOf(r).Clip(candidate)
		if !clipped.Start.Before(clipped.End) {
			continue
		}
		edges = append(edges, loadEdge{at: clipped.Start, delta: n}, loadEdge{at: clipped.End, delta: -n})
	}

	// Ends sort before starts at the same instant: ranges are half-open.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})

	load, peak := 0, 0
	for _, e := range edges {
		load += e.delta
		if load > peak {
			peak = load
		}
	}
	return peak
}
