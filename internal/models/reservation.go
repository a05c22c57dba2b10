package models

import "time"

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusApproved  ReservationStatus = "approved"
	StatusRejected  ReservationStatus = "rejected"
	StatusCancelled ReservationStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s ReservationStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// Reservation is a time-ranged claim on a single resource.
// Start and End are always UTC and form a half-open range.
type Reservation struct {
	ID               int64             `json:"id"`
	ResourceID       int64             `json:"resource_id"`
	ResourceKind     ResourceKind      `json:"resource_kind"`
	RequesterID      int64             `json:"requester_id"`
	Start            time.Time         `json:"start"`
	End              time.Time         `json:"end"`
	Status           ReservationStatus `json:"status"`
	Purpose          string            `json:"purpose"`
	Notes            string            `json:"notes,omitempty"`
	ApproverID       *int64            `json:"approver_id,omitempty"`
	ApprovedAt       *time.Time        `json:"approved_at,omitempty"`
	ParticipantCount *int              `json:"participant_count,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Version          int64             `json:"version"`
}

func (r *Reservation) IsOwnedBy(userID int64) bool {
	return r != nil && userID != 0 && r.RequesterID == userID
}

// Participants returns the participant count, zero when unset.
func (r *Reservation) Participants() int {
	if r == nil || r.ParticipantCount == nil {
		return 0
	}
	return *r.ParticipantCount
}

// SetStatus moves the reservation to status. Approver fields are kept only
// while the reservation is approved.
func (r *Reservation) SetStatus(status ReservationStatus, approverID int64, at time.Time) {
	r.Status = status
	if status != StatusApproved {
		r.ApproverID = nil
		r.ApprovedAt = nil
		return
	}
	approvedAt := at.UTC()
	r.ApproverID = &approverID
	r.ApprovedAt = &approvedAt
}

// Clone returns a deep copy, so snapshots handed to events are not mutated later.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	if r.ApproverID != nil {
		v := *r.ApproverID
		c.ApproverID = &v
	}
	if r.ApprovedAt != nil {
		v := *r.ApprovedAt
		c.ApprovedAt = &v
	}
	if r.ParticipantCount != nil {
		v := *r.ParticipantCount
		c.ParticipantCount = &v
	}
	return &c
}
