package service

import (
	"fmt"

	"talep/internal/domain"
	"talep/internal/models"
)

// Action is an explicit status transition requested by a caller.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

func (a Action) target() models.ReservationStatus {
	switch a {
	case ActionApprove:
		return models.StatusApproved
	case ActionReject:
		return models.StatusRejected
	case ActionCancel:
		return models.StatusCancelled
	default:
		return ""
	}
}

// allowedTransitions lists the explicit transitions. approved -> pending
// happens only through an edit and is not an Action.
var allowedTransitions = map[models.ReservationStatus][]models.ReservationStatus{
	models.StatusPending:   {models.StatusApproved, models.StatusRejected, models.StatusCancelled},
	models.StatusApproved:  {models.StatusRejected, models.StatusCancelled},
	models.StatusRejected:  nil,
	models.StatusCancelled: nil,
}

// planTransition resolves action against the current status. noop is true
// when the reservation already has the target status.
func planTransition(current models.ReservationStatus, action Action) (target models.ReservationStatus, noop bool, err error) {
	target = action.target()
	if target == "" {
		return "", false, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidState, action)
	}
	if current == target {
		return target, true, nil
	}
	for _, s := range allowedTransitions[current] {
		if s == target {
			return target, false, nil
		}
	}
	return "", false, fmt.Errorf("%w: cannot %s a reservation that is %s", domain.ErrInvalidState, action, current)
}
