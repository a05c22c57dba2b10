package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"talep/internal/config"
	"talep/internal/domain"
	"talep/internal/events"
	"talep/internal/metrics"
	"talep/internal/models"
	"talep/internal/schedule"
	"talep/internal/timezone"

	"github.com/rs/zerolog"
)

// CreateReservationRequest carries wire values. Times are ISO-8601 strings;
// values without an offset are local time.
type CreateReservationRequest struct {
	ResourceID       int64  `json:"resource_id"`
	Start            string `json:"start"`
	End              string `json:"end"`
	Purpose          string `json:"purpose"`
	Notes            string `json:"notes,omitempty"`
	ParticipantCount *int   `json:"participant_count,omitempty"`
}

// UpdateReservationRequest changes only the fields that are set.
type UpdateReservationRequest struct {
	ResourceID       *int64  `json:"resource_id,omitempty"`
	Start            *string `json:"start,omitempty"`
	End              *string `json:"end,omitempty"`
	Purpose          *string `json:"purpose,omitempty"`
	Notes            *string `json:"notes,omitempty"`
	ParticipantCount *int    `json:"participant_count,omitempty"`
}

// AvailabilityRequest asks whether a candidate would be accepted now.
type AvailabilityRequest struct {
	ResourceID       int64  `json:"resource_id"`
	Start            string `json:"start"`
	End              string `json:"end"`
	ParticipantCount *int   `json:"participant_count,omitempty"`
	ExcludeID        int64  `json:"exclude_id,omitempty"`
}

// Availability is the read-only verdict for an AvailabilityRequest.
type Availability struct {
	Resource *models.Resource
	Range    schedule.TimeRange
	Verdict  *schedule.Verdict
}

// TransitionResult is returned by explicit status transitions. Changed is
// false when the reservation already had the requested status.
type TransitionResult struct {
	Reservation *models.Reservation
	Changed     bool
}

type resourceGetter interface {
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
}

var allStatuses = []models.ReservationStatus{
	models.StatusPending, models.StatusApproved, models.StatusRejected, models.StatusCancelled,
}

// ReservationService runs the reservation lifecycle. Check and write happen
// under the per-resource lock and inside one store transaction; events are
// published only after commit.
type ReservationService struct {
	store      domain.Store
	resources  resourceGetter
	locker     domain.ResourceLocker
	eventBus   domain.EventPublisher
	clock      domain.Clock
	tz         *timezone.Normalizer
	maxAdvance time.Duration
	logger     *zerolog.Logger
}

func NewReservationService(
	store domain.Store,
	resources resourceGetter,
	locker domain.ResourceLocker,
	eventBus domain.EventPublisher,
	clock domain.Clock,
	tz *timezone.Normalizer,
	cfg config.ReservationConfig,
	logger *zerolog.Logger,
) *ReservationService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if tz == nil {
		tz = timezone.NewFixed(3 * time.Hour)
	}
	days := cfg.MaxAdvanceDays
	if days <= 0 {
		days = models.DefaultMaxAdvanceDays
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReservationService{
		store:      store,
		resources:  resources,
		locker:     locker,
		eventBus:   eventBus,
		clock:      clock,
		tz:         tz,
		maxAdvance: time.Duration(days) * 24 * time.Hour,
		logger:     logger,
	}
}

func (s *ReservationService) Create(ctx context.Context, actor models.Actor, req CreateReservationRequest) (*models.Reservation, error) {
	if actor.UserID == 0 {
		return nil, domain.NewValidationError("requester_id", "is required")
	}
	if req.ResourceID <= 0 {
		return nil, domain.NewValidationError("resource_id", "is required")
	}
	purpose := strings.TrimSpace(req.Purpose)
	if purpose == "" {
		return nil, domain.NewValidationError("purpose", "is required")
	}
	tr, err := s.parseRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.checkWindow(tr, now); err != nil {
		return nil, err
	}

	unlock, err := s.lockResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var created *models.Reservation
	var resource *models.Resource
	err = s.store.WithinTx(ctx, func(tx domain.ReservationTx) error {
		res, err := tx.LockResource(ctx, req.ResourceID)
		if err != nil {
			return err
		}
		if !res.IsActive {
			return fmt.Errorf("%w: resource %d is not active", domain.ErrInvalidState, res.ID)
		}
		if err := schedule.ValidateParticipants(res, req.ParticipantCount); err != nil {
			return err
		}

		verdict, err := schedule.NewChecker(tx).Check(ctx, res, schedule.Candidate{
			Range:        tr,
			Participants: derefInt(req.ParticipantCount),
		})
		if err != nil {
			return err
		}
		if verdict.Blocked() {
			return verdict.Err()
		}

		r := &models.Reservation{
			ResourceID:       res.ID,
			ResourceKind:     res.Kind,
			RequesterID:      actor.UserID,
			Start:            tr.Start,
			End:              tr.End,
			Status:           models.StatusPending,
			Purpose:          purpose,
			Notes:            strings.TrimSpace(req.Notes),
			ParticipantCount: copyInt(req.ParticipantCount),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		created, resource = r, res
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "create", req.ResourceID, 0)
	}

	s.logger.Info().
		Int64("reservation_id", created.ID).
		Int64("resource_id", created.ResourceID).
		Int64("requester_id", created.RequesterID).
		Str("status", string(created.Status)).
		Str("range", tr.String()).
		Msg("reservation created")
	metrics.IncTransition(string(resource.Kind), "create")
	s.publishEvent(events.EventReservationCreated, created, resource.DisplayName(), "", actor, "")

	return created.Clone(), nil
}

// Update edits a reservation. Changing the resource or the time range
// re-runs the conflict check and sends an approved reservation back to
// pending.
func (s *ReservationService) Update(ctx context.Context, actor models.Actor, id int64, req UpdateReservationRequest) (*models.Reservation, error) {
	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanModify(current.RequesterID) {
		return nil, fmt.Errorf("%w: only the requester or an admin can edit reservation %d", domain.ErrForbidden, id)
	}

	targetResource := current.ResourceID
	if req.ResourceID != nil {
		if *req.ResourceID <= 0 {
			return nil, domain.NewValidationError("resource_id", "must be positive")
		}
		targetResource = *req.ResourceID
	}

	unlock, err := s.lockResource(ctx, targetResource)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.Now()
	var updated *models.Reservation
	var previous models.ReservationStatus
	var resourceName string
	err = s.store.WithinTx(ctx, func(tx domain.ReservationTx) error {
		cur, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: reservation %d is %s and cannot be edited", domain.ErrInvalidState, id, cur.Status)
		}
		if cur.ResourceID != targetResource && req.ResourceID == nil {
			// Moved by someone else between the read and the lock.
			return fmt.Errorf("%w: reservation %d changed resource", domain.ErrConcurrentModification, id)
		}

		next := cur.Clone()
		next.ResourceID = targetResource
		if req.Purpose != nil {
			p := strings.TrimSpace(*req.Purpose)
			if p == "" {
				return domain.NewValidationError("purpose", "must not be empty")
			}
			next.Purpose = p
		}
		if req.Notes != nil {
			next.Notes = strings.TrimSpace(*req.Notes)
		}

		tr := schedule.RangeOf(cur)
		if req.Start != nil || req.End != nil {
			start, end := timezone.FormatUTC(cur.Start), timezone.FormatUTC(cur.End)
			if req.Start != nil {
				start = *req.Start
			}
			if req.End != nil {
				end = *req.End
			}
			if tr, err = s.parseRange(start, end); err != nil {
				return err
			}
		}
		next.Start, next.End = tr.Start, tr.End

		rangeChanged := !next.Start.Equal(cur.Start) || !next.End.Equal(cur.End)
		resourceChanged := next.ResourceID != cur.ResourceID
		coreChanged := rangeChanged || resourceChanged

		res, err := tx.LockResource(ctx, next.ResourceID)
		if err != nil {
			return err
		}
		resourceName = res.DisplayName()
		next.ResourceKind = res.Kind

		if req.ParticipantCount != nil {
			next.ParticipantCount = copyInt(req.ParticipantCount)
		} else if res.Kind == models.KindVehicle {
			next.ParticipantCount = nil
		}
		participantsChanged := next.Participants() != cur.Participants()

		if coreChanged || participantsChanged {
			if coreChanged {
				if !res.IsActive {
					return fmt.Errorf("%w: resource %d is not active", domain.ErrInvalidState, res.ID)
				}
				if err := s.checkWindow(tr, now); err != nil {
					return err
				}
			}
			if err := schedule.ValidateParticipants(res, next.ParticipantCount); err != nil {
				return err
			}
			verdict, err := schedule.NewChecker(tx).Check(ctx, res, schedule.Candidate{
				Range:        tr,
				Participants: next.Participants(),
				ExcludeID:    cur.ID,
			})
			if err != nil {
				return err
			}
			if verdict.Blocked() {
				return verdict.Err()
			}
		}

		if coreChanged && cur.Status == models.StatusApproved {
			next.SetStatus(models.StatusPending, 0, now)
		}
		next.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, next); err != nil {
			return err
		}
		updated, previous = next, cur.Status
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "update", targetResource, id)
	}

	s.logger.Info().
		Int64("reservation_id", updated.ID).
		Int64("resource_id", updated.ResourceID).
		Str("status", string(updated.Status)).
		Str("previous_status", string(previous)).
		Msg("reservation updated")
	metrics.IncTransition(string(updated.ResourceKind), "update")
	s.publishEvent(events.EventReservationUpdated, updated, resourceName, previous, actor, "")

	return updated.Clone(), nil
}

// Approve re-checks the range against approved reservations only and stamps
// the approver. Approving an approved reservation is a no-op.
func (s *ReservationService) Approve(ctx context.Context, actor models.Actor, id int64) (*TransitionResult, error) {
	if !actor.IsAdmin {
		return nil, fmt.Errorf("%w: only admins can approve reservations", domain.ErrForbidden)
	}

	current, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, noop, err := planTransition(current.Status, ActionApprove); err != nil {
		return nil, err
	} else if noop {
		return &TransitionResult{Reservation: current, Changed: false}, nil
	}

	unlock, err := s.lockResource(ctx, current.ResourceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.Now()
	var result TransitionResult
	var resourceName string
	err = s.store.WithinTx(ctx, func(tx domain.ReservationTx) error {
		cur, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		_, noop, err := planTransition(cur.Status, ActionApprove)
		if err != nil {
			return err
		}
		if noop {
			result = TransitionResult{Reservation: cur}
			return nil
		}

		res, err := tx.LockResource(ctx, cur.ResourceID)
		if err != nil {
			return err
		}
		if !res.IsActive {
			return fmt.Errorf("%w: resource %d is not active", domain.ErrInvalidState, res.ID)
		}
		resourceName = res.DisplayName()

		verdict, err := schedule.NewChecker(tx).Check(ctx, res, schedule.Candidate{
			Range:        schedule.RangeOf(cur),
			Participants: cur.Participants(),
			ExcludeID:    cur.ID,
			Statuses:     schedule.ApprovalBlockingStatuses,
		})
		if err != nil {
			return err
		}
		if verdict.Blocked() {
			return verdict.Err()
		}

		next := cur.Clone()
		next.SetStatus(models.StatusApproved, actor.UserID, now)
		next.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, next); err != nil {
			return err
		}
		result = TransitionResult{Reservation: next, Changed: true}
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "approve", current.ResourceID, id)
	}
	if !result.Changed {
		return &result, nil
	}

	r := result.Reservation
	s.logger.Info().
		Int64("reservation_id", r.ID).
		Int64("resource_id", r.ResourceID).
		Int64("approver_id", actor.UserID).
		Str("status", string(r.Status)).
		Msg("reservation approved")
	metrics.IncTransition(string(r.ResourceKind), string(ActionApprove))
	s.publishEvent(events.EventReservationApproved, r, resourceName, models.StatusPending, actor, "")

	result.Reservation = r.Clone()
	return &result, nil
}

// Reject never consults the conflict detector. A non-empty reason replaces
// the notes and is sent to the requester.
func (s *ReservationService) Reject(ctx context.Context, actor models.Actor, id int64, reason string) (*TransitionResult, error) {
	if !actor.IsAdmin {
		return nil, fmt.Errorf("%w: only admins can reject reservations", domain.ErrForbidden)
	}
	return s.transition(ctx, actor, id, ActionReject, strings.TrimSpace(reason))
}

// Cancel is allowed to the requester and to admins.
func (s *ReservationService) Cancel(ctx context.Context, actor models.Actor, id int64) (*TransitionResult, error) {
	return s.transition(ctx, actor, id, ActionCancel, "")
}

func (s *ReservationService) transition(ctx context.Context, actor models.Actor, id int64, action Action, reason string) (*TransitionResult, error) {
	now := s.clock.Now()
	var result TransitionResult
	var previous models.ReservationStatus

	err := s.store.WithinTx(ctx, func(tx domain.ReservationTx) error {
		cur, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if action == ActionCancel && !actor.CanModify(cur.RequesterID) {
			return fmt.Errorf("%w: only the requester or an admin can cancel reservation %d", domain.ErrForbidden, id)
		}
		target, noop, err := planTransition(cur.Status, action)
		if err != nil {
			return err
		}
		if noop {
			result = TransitionResult{Reservation: cur}
			return nil
		}

		next := cur.Clone()
		next.SetStatus(target, 0, now)
		if reason != "" {
			next.Notes = reason
		}
		next.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, next); err != nil {
			return err
		}
		result = TransitionResult{Reservation: next, Changed: true}
		previous = cur.Status
		return nil
	})
	if err != nil {
		return nil, s.fail(err, string(action), 0, id)
	}
	if !result.Changed {
		return &result, nil
	}

	r := result.Reservation
	s.logger.Info().
		Int64("reservation_id", r.ID).
		Int64("resource_id", r.ResourceID).
		Int64("actor_id", actor.UserID).
		Str("status", string(r.Status)).
		Str("previous_status", string(previous)).
		Msgf("reservation %s", r.Status)
	metrics.IncTransition(string(r.ResourceKind), string(action))

	eventType := events.EventReservationRejected
	if action == ActionCancel {
		eventType = events.EventReservationCancelled
	}
	s.publishEvent(eventType, r, s.resourceName(ctx, r.ResourceID), previous, actor, reason)

	result.Reservation = r.Clone()
	return &result, nil
}

// Delete removes the reservation regardless of status. Admin only.
func (s *ReservationService) Delete(ctx context.Context, actor models.Actor, id int64) error {
	if !actor.IsAdmin {
		return fmt.Errorf("%w: only admins can delete reservations", domain.ErrForbidden)
	}

	var deleted *models.Reservation
	err := s.store.WithinTx(ctx, func(tx domain.ReservationTx) error {
		cur, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteReservation(ctx, id); err != nil {
			return err
		}
		deleted = cur
		return nil
	})
	if err != nil {
		return s.fail(err, "delete", 0, id)
	}

	s.logger.Info().
		Int64("reservation_id", deleted.ID).
		Int64("resource_id", deleted.ResourceID).
		Int64("actor_id", actor.UserID).
		Msg("reservation deleted")
	metrics.IncTransition(string(deleted.ResourceKind), "delete")
	s.publishEvent(events.EventReservationDeleted, deleted, s.resourceName(ctx, deleted.ResourceID), deleted.Status, actor, "")
	return nil
}

// CheckAvailability runs the same checks as Create without locking or
// writing anything.
func (s *ReservationService) CheckAvailability(ctx context.Context, req AvailabilityRequest) (*Availability, error) {
	if req.ResourceID <= 0 {
		return nil, domain.NewValidationError("resource_id", "is required")
	}
	tr, err := s.parseRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	res, err := s.resources.GetResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if !res.IsActive {
		return nil, fmt.Errorf("%w: resource %d is not active", domain.ErrInvalidState, res.ID)
	}
	if err := schedule.ValidateParticipants(res, req.ParticipantCount); err != nil {
		return nil, err
	}

	verdict, err := schedule.NewChecker(s.store).Check(ctx, res, schedule.Candidate{
		Range:        tr,
		Participants: derefInt(req.ParticipantCount),
		ExcludeID:    req.ExcludeID,
	})
	if err != nil {
		return nil, err
	}
	return &Availability{Resource: res, Range: tr, Verdict: verdict}, nil
}

func (s *ReservationService) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

// ListForResource returns reservations of a resource overlapping window.
// Empty statuses means every status.
func (s *ReservationService) ListForResource(ctx context.Context, resourceID int64, window schedule.TimeRange, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	if len(statuses) == 0 {
		statuses = allStatuses
	}
	all, err := s.store.FindByResource(ctx, resourceID, statuses)
	if err != nil {
		return nil, err
	}
	if window.Start.IsZero() && window.End.IsZero() {
		sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
		return all, nil
	}
	return schedule.Overlapping(all, schedule.Query{ResourceID: resourceID, Range: window, Statuses: statuses}), nil
}

func (s *ReservationService) ListByRequester(ctx context.Context, requesterID int64) ([]*models.Reservation, error) {
	return s.store.ListByRequester(ctx, requesterID)
}

// ListReservations returns every reservation overlapping [from, to).
func (s *ReservationService) ListReservations(ctx context.Context, from, to time.Time) ([]*models.Reservation, error) {
	if _, err := schedule.NewTimeRange(from, to); err != nil {
		return nil, err
	}
	return s.store.ListReservations(ctx, from.UTC(), to.UTC())
}

// ParseWindow parses a listing window with the service's timezone rules.
func (s *ReservationService) ParseWindow(from, to string) (schedule.TimeRange, error) {
	return s.parseRange(from, to)
}

func (s *ReservationService) parseRange(start, end string) (schedule.TimeRange, error) {
	st, err := s.tz.ParseField("start", start)
	if err != nil {
		return schedule.TimeRange{}, err
	}
	en, err := s.tz.ParseField("end", end)
	if err != nil {
		return schedule.TimeRange{}, err
	}
	return schedule.NewTimeRange(st, en)
}

// checkWindow enforces start >= now and the booking horizon.
func (s *ReservationService) checkWindow(tr schedule.TimeRange, now time.Time) error {
	if tr.Start.Before(now) {
		return domain.NewValidationError("start", "%s is in the past", s.tz.FormatHuman(tr.Start))
	}
	if tr.Start.After(now.Add(s.maxAdvance)) {
		return domain.NewValidationError("start", "cannot be more than %d days ahead", int(s.maxAdvance/(24*time.Hour)))
	}
	return nil
}

func (s *ReservationService) lockResource(ctx context.Context, resourceID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, resourceID)
}

// fail logs the outcome of a refused or failed operation and passes err through.
func (s *ReservationService) fail(err error, op string, resourceID, reservationID int64) error {
	var cerr *domain.ConflictError
	switch {
	case errors.As(err, &cerr):
		kind := models.KindVehicle
		if cerr.Remaining != nil {
			kind = models.KindRoom
		}
		metrics.IncConflict(string(kind))
		s.logger.Info().
			Str("op", op).
			Int64("resource_id", cerr.ResourceID).
			Ints64("conflicts", cerr.ConflictIDs()).
			Msg("reservation conflict")
	case domain.IsExpected(err):
		s.logger.Debug().Err(err).Str("op", op).Int64("resource_id", resourceID).Int64("reservation_id", reservationID).Msg("reservation request refused")
	default:
		s.logger.Error().Err(err).Str("op", op).Int64("resource_id", resourceID).Int64("reservation_id", reservationID).Msg("reservation store error")
	}
	return err
}

func (s *ReservationService) resourceName(ctx context.Context, id int64) string {
	if s.resources == nil {
		return ""
	}
	res, err := s.resources.GetResource(ctx, id)
	if err != nil {
		return ""
	}
	return res.DisplayName()
}

func (s *ReservationService) publishEvent(eventType string, r *models.Reservation, resourceName string, previous models.ReservationStatus, actor models.Actor, reason string) {
	if s.eventBus == nil {
		return
	}

	payload := events.ReservationEventPayload{
		ReservationID:  r.ID,
		Reservation:    r.Clone(),
		ResourceName:   resourceName,
		PreviousStatus: previous,
		ActorID:        actor.UserID,
		ActorName:      actor.Name,
		Reason:         reason,
		OccurredAt:     s.clock.Now(),
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("reservation_id", r.ID).Msg("publish event error")
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
