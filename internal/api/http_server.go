package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"talep/internal/config"
	"talep/internal/domain"
	"talep/internal/export"
	"talep/internal/models"
	"talep/internal/schedule"
	"talep/internal/service"
	"talep/internal/timezone"

	"github.com/rs/zerolog"
)

const actorHeader = "X-Actor-ID"

// ReservationAPI is the lifecycle surface the adapter drives.
type ReservationAPI interface {
	Create(ctx context.Context, actor models.Actor, req service.CreateReservationRequest) (*models.Reservation, error)
	Update(ctx context.Context, actor models.Actor, id int64, req service.UpdateReservationRequest) (*models.Reservation, error)
	Approve(ctx context.Context, actor models.Actor, id int64) (*service.TransitionResult, error)
	Reject(ctx context.Context, actor models.Actor, id int64, reason string) (*service.TransitionResult, error)
	Cancel(ctx context.Context, actor models.Actor, id int64) (*service.TransitionResult, error)
	Delete(ctx context.Context, actor models.Actor, id int64) error
	CheckAvailability(ctx context.Context, req service.AvailabilityRequest) (*service.Availability, error)
	Get(ctx context.Context, id int64) (*models.Reservation, error)
	ListForResource(ctx context.Context, resourceID int64, window schedule.TimeRange, statuses []models.ReservationStatus) ([]*models.Reservation, error)
	ListByRequester(ctx context.Context, requesterID int64) ([]*models.Reservation, error)
	ListReservations(ctx context.Context, from, to time.Time) ([]*models.Reservation, error)
	ParseWindow(from, to string) (schedule.TimeRange, error)
}

type ResourceCatalog interface {
	GetActiveResources(ctx context.Context) ([]models.Resource, error)
	GetActiveByKind(ctx context.Context, kind models.ResourceKind) []models.Resource
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	Activate(ctx context.Context, actor models.Actor, id int64) (*models.Resource, error)
	Deactivate(ctx context.Context, actor models.Actor, id int64) (*models.Resource, error)
}

type UserDirectory interface {
	ResolveActor(ctx context.Context, id int64) (models.Actor, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// HTTPServer exposes the reservation lifecycle to integrations as JSON.
type HTTPServer struct {
	cfg          config.APIConfig
	reservations ReservationAPI
	resources    ResourceCatalog
	users        UserDirectory
	tz           *timezone.Normalizer
	ready        func(ctx context.Context) error
	server       *http.Server
	auth         *HTTPAuth
	logger       *zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	reservations ReservationAPI,
	resources ResourceCatalog,
	users UserDirectory,
	tz *timezone.Normalizer,
	logger *zerolog.Logger,
) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	hl := logger.With().Str("component", "http_api").Logger()

	srv := &HTTPServer{
		cfg:          cfg,
		reservations: reservations,
		resources:    resources,
		users:        users,
		tz:           tz,
		auth:         NewHTTPAuth(cfg),
		logger:       &hl,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)

	mux.HandleFunc("GET /api/v1/resources", srv.handleResources)
	mux.HandleFunc("GET /api/v1/resources/{id}/reservations", srv.handleResourceReservations)
	mux.HandleFunc("GET /api/v1/resources/{id}/calendar.ics", srv.handleCalendar)
	mux.HandleFunc("POST /api/v1/resources/{id}/activate", srv.handleActivate)
	mux.HandleFunc("POST /api/v1/resources/{id}/deactivate", srv.handleDeactivate)
	mux.HandleFunc("POST /api/v1/availability", srv.handleAvailability)

	mux.HandleFunc("GET /api/v1/reservations", srv.handleListReservations)
	mux.HandleFunc("POST /api/v1/reservations", srv.handleCreate)
	mux.HandleFunc("GET /api/v1/reservations/{id}", srv.handleGet)
	mux.HandleFunc("PATCH /api/v1/reservations/{id}", srv.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/reservations/{id}", srv.handleDelete)
	mux.HandleFunc("POST /api/v1/reservations/{id}/approve", srv.handleApprove)
	mux.HandleFunc("POST /api/v1/reservations/{id}/reject", srv.handleReject)
	mux.HandleFunc("POST /api/v1/reservations/{id}/cancel", srv.handleCancel)

	mux.HandleFunc("GET /api/v1/reports/reservations.xlsx", srv.handleReport)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           loggingMiddleware(srv.logger, srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// SetReadinessCheck installs the probe behind /readyz.
func (s *HTTPServer) SetReadinessCheck(fn func(ctx context.Context) error) {
	s.ready = fn
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleResources(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind := models.ResourceKind(strings.ToLower(raw))
		if !kind.Valid() {
			writeServiceError(w, r, s.logger, domain.NewValidationError("kind", "must be vehicle or room"))
			return
		}
		list := s.resources.GetActiveByKind(r.Context(), kind)
		if list == nil {
			list = []models.Resource{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": list})
		return
	}

	list, err := s.resources.GetActiveResources(r.Context())
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": list})
}

func (s *HTTPServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.setResourceState(w, r, s.resources.Activate)
}

func (s *HTTPServer) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.setResourceState(w, r, s.resources.Deactivate)
}

func (s *HTTPServer) setResourceState(w http.ResponseWriter, r *http.Request, fn func(context.Context, models.Actor, int64) (*models.Resource, error)) {
	actor, id, err := s.actorAndID(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	res, err := fn(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleResourceReservations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if _, err := s.resources.GetResource(r.Context(), id); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	var window schedule.TimeRange
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		window, err = s.reservations.ParseWindow(q.Get("from"), q.Get("to"))
		if err != nil {
			writeServiceError(w, r, s.logger, err)
			return
		}
	}
	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	list, err := s.reservations.ListForResource(r.Context(), id, window, statuses)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": nonNil(list)})
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	res, err := s.resources.GetResource(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	list, err := s.reservations.ListForResource(r.Context(), id, schedule.TimeRange{}, schedule.DefaultBlockingStatuses)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCalendar(&buf, res, list, time.Now()); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="resource-%d.ics"`, id))
	_, _ = w.Write(buf.Bytes())
}

type availabilityResponse struct {
	Available   bool                  `json:"available"`
	ResourceID  int64                 `json:"resource_id"`
	Occupancy   string                `json:"occupancy"`
	Start       time.Time             `json:"start"`
	End         time.Time             `json:"end"`
	Conflicts   []*models.Reservation `json:"conflicts"`
	Capacity    int                   `json:"capacity,omitempty"`
	Reserved    *int                  `json:"reserved,omitempty"`
	Remaining   *int                  `json:"remaining,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	DisplayTime string                `json:"display_time"`
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req service.AvailabilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	av, err := s.reservations.CheckAvailability(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	v := av.Verdict
	resp := availabilityResponse{
		Available:   !v.Blocked(),
		ResourceID:  av.Resource.ID,
		Occupancy:   v.Occupancy.String(),
		Start:       av.Range.Start,
		End:         av.Range.End,
		Conflicts:   nonNil(v.Conflicts),
		DisplayTime: s.tz.FormatRange(av.Range.Start, av.Range.End),
	}
	if c := v.Capacity; c != nil {
		reserved, remaining := c.Reserved, c.Remaining
		resp.Capacity = c.Capacity
		resp.Reserved = &reserved
		resp.Remaining = &remaining
		resp.Reason = c.Reason
		resp.Conflicts = nonNil(c.Overlapping)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if raw := q.Get("requester_id"); raw != "" {
		requesterID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || requesterID <= 0 {
			writeServiceError(w, r, s.logger, domain.NewValidationError("requester_id", "must be a positive integer"))
			return
		}
		list, err := s.reservations.ListByRequester(r.Context(), requesterID)
		if err != nil {
			writeServiceError(w, r, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reservations": nonNil(list)})
		return
	}

	window, err := s.reservations.ParseWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	list, err := s.reservations.ListReservations(r.Context(), window.Start, window.End)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": nonNil(list)})
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	var req service.CreateReservationRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	created, err := s.reservations.Create(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/reservations/%d", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	res, err := s.reservations.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, id, err := s.actorAndID(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	var req service.UpdateReservationRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	updated, err := s.reservations.Update(r.Context(), actor, id, req)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, id, err := s.actorAndID(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if err := s.reservations.Delete(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionResponse struct {
	Reservation *models.Reservation `json:"reservation"`
	Changed     bool                `json:"changed"`
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(ctx context.Context, actor models.Actor, id int64) (*service.TransitionResult, error) {
		return s.reservations.Approve(ctx, actor, id)
	})
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeServiceError(w, r, s.logger, err)
			return
		}
	}
	s.transition(w, r, func(ctx context.Context, actor models.Actor, id int64) (*service.TransitionResult, error) {
		return s.reservations.Reject(ctx, actor, id, body.Reason)
	})
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(ctx context.Context, actor models.Actor, id int64) (*service.TransitionResult, error) {
		return s.reservations.Cancel(ctx, actor, id)
	})
}

func (s *HTTPServer) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, models.Actor, int64) (*service.TransitionResult, error)) {
	actor, id, err := s.actorAndID(r)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	res, err := fn(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Reservation: res.Reservation, Changed: res.Changed})
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := s.reservations.ParseWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	list, err := s.reservations.ListReservations(r.Context(), window.Start, window.End)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}

	entries := make([]export.Entry, 0, len(list))
	resourceNames := make(map[int64]string)
	userNames := make(map[int64]string)
	for _, res := range list {
		name, ok := resourceNames[res.ResourceID]
		if !ok {
			name = fmt.Sprintf("#%d", res.ResourceID)
			if resource, err := s.resources.GetResource(r.Context(), res.ResourceID); err == nil {
				name = resource.DisplayName()
			}
			resourceNames[res.ResourceID] = name
		}
		requester, ok := userNames[res.RequesterID]
		if !ok {
			if user, err := s.users.GetUserByID(r.Context(), res.RequesterID); err == nil {
				requester = user.Name
			}
			userNames[res.RequesterID] = requester
		}
		entries = append(entries, export.Entry{Reservation: res, ResourceName: name, RequesterName: requester})
	}

	var buf bytes.Buffer
	if err := export.WriteReservationsXLSX(&buf, entries, window.Start, window.End, s.tz); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	filename := fmt.Sprintf("talepler_%s_%s.xlsx", window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	_, _ = w.Write(buf.Bytes())
}

// actor resolves the acting user from X-Actor-ID.
func (s *HTTPServer) actor(r *http.Request) (models.Actor, error) {
	raw := strings.TrimSpace(r.Header.Get(actorHeader))
	if raw == "" {
		return models.Actor{}, fmt.Errorf("%w: %s header is required", domain.ErrForbidden, actorHeader)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return models.Actor{}, domain.NewValidationError(actorHeader, "must be an integer")
	}
	return s.users.ResolveActor(r.Context(), id)
}

func (s *HTTPServer) actorAndID(r *http.Request) (models.Actor, int64, error) {
	id, err := pathID(r)
	if err != nil {
		return models.Actor{}, 0, err
	}
	actor, err := s.actor(r)
	if err != nil {
		return models.Actor{}, 0, err
	}
	return actor, id, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}

func parseStatuses(raw string) ([]models.ReservationStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []models.ReservationStatus
	for _, part := range strings.Split(raw, ",") {
		st := models.ReservationStatus(strings.TrimSpace(part))
		if st == "" {
			continue
		}
		if !st.Valid() {
			return nil, domain.NewValidationError("status", "unknown status %q", st)
		}
		out = append(out, st)
	}
	return out, nil
}

func nonNil(list []*models.Reservation) []*models.Reservation {
	if list == nil {
		return []*models.Reservation{}
	}
	return list
}
