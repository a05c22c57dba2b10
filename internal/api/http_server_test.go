package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"talep/internal/config"
	"talep/internal/database"
	"talep/internal/domain"
	"talep/internal/events"
	"talep/internal/models"
	"talep/internal/repository"
	"talep/internal/service"
	"talep/internal/timezone"

	ics "github.com/arran4/golang-ical"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var testNow = time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	db  *database.DB
	ts  *httptest.Server
	srv *HTTPServer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	resources := service.NewResourceService(db, &logger)
	require.NoError(t, resources.Seed(ctx, []models.Resource{
		{ID: 1, Kind: models.KindVehicle, Name: "Transit", PlateNumber: "06 ABC 123", IsActive: true},
		{ID: 2, Kind: models.KindRoom, Name: "Medrese", Capacity: 40, SortOrder: 1, IsActive: true},
	}))

	users := service.NewUserService(db, []int64{1}, &logger)
	for _, u := range []*models.User{
		{ID: 1, Name: "Yönetici", Phone: "+90 555 999 88 77"},
		{ID: 10, Name: "Ayşe Yılmaz", Phone: "+90 555 111 22 33"},
		{ID: 11, Name: "Mehmet Demir", Phone: "+90 555 444 55 66"},
	} {
		require.NoError(t, users.SaveUser(ctx, u))
	}

	tz := timezone.NewFixed(3 * time.Hour)
	reservations := service.NewReservationService(
		db,
		resources,
		repository.NewMemoryLocker(time.Second),
		events.NewEventBus(&logger),
		domain.FixedClock{At: testNow},
		tz,
		config.ReservationConfig{MaxAdvanceDays: 30},
		&logger,
	)

	srv := NewHTTPServer(config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}, reservations, resources, users, tz, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testAPI{db: db, ts: ts, srv: srv}
}

func (a *testAPI) do(t *testing.T, method, path string, actor int64, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.ts.URL+path, reader)
	require.NoError(t, err)
	if actor != 0 {
		req.Header.Set(actorHeader, fmt.Sprint(actor))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) create(t *testing.T, actor, resourceID int64, start, end string, participants *int) *models.Reservation {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/v1/reservations", actor, service.CreateReservationRequest{
		ResourceID: resourceID, Start: start, End: end, Purpose: "Saha ziyareti", ParticipantCount: participants,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[*models.Reservation](t, resp)
}

func intp(v int) *int { return &v }

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	a.srv.SetReadinessCheck(func(ctx context.Context) error { return errors.New("db down") })
	resp = a.do(t, http.MethodGet, "/readyz", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestResources(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/api/v1/resources", 0, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Resources []models.Resource `json:"resources"`
	}](t, resp)
	require.Len(t, body.Resources, 2)
	assert.Equal(t, int64(1), body.Resources[0].ID)

	resp = a.do(t, http.MethodGet, "/api/v1/resources?kind=room", 0, nil)
	body = decode[struct {
		Resources []models.Resource `json:"resources"`
	}](t, resp)
	require.Len(t, body.Resources, 1)
	assert.Equal(t, "Medrese", body.Resources[0].Name)

	resp = a.do(t, http.MethodGet, "/api/v1/resources?kind=boat", 0, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResourceActivation(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/resources/1/deactivate", 10, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/v1/resources/1/deactivate", 1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[*models.Resource](t, resp).IsActive)

	resp = a.do(t, http.MethodGet, "/api/v1/resources?kind=vehicle", 0, nil)
	body := decode[struct {
		Resources []models.Resource `json:"resources"`
	}](t, resp)
	assert.Empty(t, body.Resources)

	resp = a.do(t, http.MethodPost, "/api/v1/reservations", 10, service.CreateReservationRequest{
		ResourceID: 1, Start: "2025-01-10T09:00", End: "2025-01-10T11:00", Purpose: "Saha ziyareti",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/v1/resources/1/activate", 1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[*models.Resource](t, resp).IsActive)
	a.create(t, 10, 1, "2025-01-10T09:00", "2025-01-10T11:00", nil)

	resp = a.do(t, http.MethodPost, "/api/v1/resources/99/activate", 1, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVehicleLifecycle(t *testing.T) {
	a := newTestAPI(t)

	first := a.create(t, 10, 1, "2025-01-10T09:00", "2025-01-10T11:00", nil)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, time.Date(2025, 1, 10, 6, 0, 0, 0, time.UTC), first.Start)

	// overlapping request is refused with the conflicting set
	resp := a.do(t, http.MethodPost, "/api/v1/reservations", 11, service.CreateReservationRequest{
		ResourceID: 1, Start: "2025-01-10T10:00", End: "2025-01-10T12:00", Purpose: "Depo",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errBody := decode[errorResponse](t, resp)
	assert.Equal(t, "conflict", errBody.Code)
	require.NotNil(t, errBody.Conflict)
	assert.Equal(t, []int64{first.ID}, errBody.Conflict.ConflictIDs)

	// touching range is fine
	second := a.create(t, 11, 1, "2025-01-10T11:00", "2025-01-10T12:00", nil)

	// the requester may not approve
	resp = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/approve", first.ID), 10, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/approve", first.ID), 1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decode[transitionResponse](t, resp)
	assert.True(t, tr.Changed)
	assert.Equal(t, models.StatusApproved, tr.Reservation.Status)
	require.NotNil(t, tr.Reservation.ApproverID)
	assert.Equal(t, int64(1), *tr.Reservation.ApproverID)

	// approving again is a no-op
	resp = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/approve", first.ID), 1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[transitionResponse](t, resp).Changed)

	resp = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/reject", second.ID), 1, map[string]string{"reason": "Araç bakımda"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusRejected, decode[transitionResponse](t, resp).Reservation.Status)

	// terminal reservations cannot be approved
	resp = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/approve", second.ID), 1, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = a.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reservations/%d", first.ID), 0, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusApproved, decode[*models.Reservation](t, resp).Status)
}

func TestRoomCapacity(t *testing.T) {
	a := newTestAPI(t)

	a.create(t, 10, 2, "2025-01-10T09:00", "2025-01-10T12:00", intp(15))
	a.create(t, 11, 2, "2025-01-10T09:00", "2025-01-10T12:00", intp(15))

	resp := a.do(t, http.MethodPost, "/api/v1/availability", 0, service.AvailabilityRequest{
		ResourceID: 2, Start: "2025-01-10T10:00", End: "2025-01-10T11:00", ParticipantCount: intp(15),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	av := decode[availabilityResponse](t, resp)
	assert.False(t, av.Available)
	require.NotNil(t, av.Remaining)
	assert.Equal(t, 10, *av.Remaining)
	assert.Equal(t, 40, av.Capacity)
	assert.Len(t, av.Conflicts, 2)

	resp = a.do(t, http.MethodPost, "/api/v1/reservations", 10, service.CreateReservationRequest{
		ResourceID: 2, Start: "2025-01-10T09:00", End: "2025-01-10T12:00", Purpose: "Eğitim", ParticipantCount: intp(15),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	require.NotNil(t, body.Conflict)
	require.NotNil(t, body.Conflict.Remaining)
	assert.Equal(t, 10, *body.Conflict.Remaining)
	assert.Equal(t, 40, body.Conflict.Capacity)

	a.create(t, 10, 2, "2025-01-10T09:00", "2025-01-10T12:00", intp(10))
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		actor  int64
		body   any
		want   int
	}{
		{"MissingActor", http.MethodPost, "/api/v1/reservations", 0, service.CreateReservationRequest{ResourceID: 1}, http.StatusForbidden},
		{"UnknownActor", http.MethodPost, "/api/v1/reservations", 999, service.CreateReservationRequest{ResourceID: 1}, http.StatusForbidden},
		{"BadTime", http.MethodPost, "/api/v1/reservations", 10, service.CreateReservationRequest{ResourceID: 1, Start: "yarın", End: "2025-01-10T12:00"}, http.StatusBadRequest},
		{"EmptyRange", http.MethodPost, "/api/v1/reservations", 10, service.CreateReservationRequest{ResourceID: 1, Start: "2025-01-10T12:00", End: "2025-01-10T12:00"}, http.StatusBadRequest},
		{"UnknownField", http.MethodPost, "/api/v1/reservations", 10, map[string]any{"resource": 1}, http.StatusBadRequest},
		{"UnknownResource", http.MethodPost, "/api/v1/reservations", 10, service.CreateReservationRequest{ResourceID: 77, Start: "2025-01-10T09:00", End: "2025-01-10T10:00", Purpose: "Depo"}, http.StatusNotFound},
		{"UnknownReservation", http.MethodGet, "/api/v1/reservations/404", 0, nil, http.StatusNotFound},
		{"BadID", http.MethodGet, "/api/v1/reservations/abc", 0, nil, http.StatusBadRequest},
		{"BadStatusFilter", http.MethodGet, "/api/v1/resources/1/reservations?status=archived", 0, nil, http.StatusBadRequest},
		{"ListNeedsWindow", http.MethodGet, "/api/v1/reservations", 0, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.do(t, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.ConflictError{ResourceID: 1}, http.StatusConflict},
		{fmt.Errorf("wrap: %w", domain.ErrConcurrentModification), http.StatusConflict},
		{domain.NewValidationError("start", "bad"), http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidState, http.StatusUnprocessableEntity},
		{fmt.Errorf("resource 1: %w", domain.ErrResourceBusy), http.StatusServiceUnavailable},
		{errors.New("failed to query: disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}

func TestInternalErrorIsHidden(t *testing.T) {
	logger := zerolog.Nop()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/resources", nil)
	writeServiceError(rec, req, &logger, errors.New("failed to query: secret dsn"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestUpdateCancelDelete(t *testing.T) {
	a := newTestAPI(t)
	r := a.create(t, 10, 1, "2025-01-10T09:00", "2025-01-10T11:00", nil)

	purpose := "Müşteri ziyareti"
	resp := a.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/reservations/%d", r.ID), 10, service.UpdateReservationRequest{Purpose: &purpose})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[*models.Reservation](t, resp)
	assert.Equal(t, purpose, updated.Purpose)
	assert.Equal(t, r.Version+1, updated.Version)

	// someone else's reservation
	resp = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/cancel", r.ID), 11, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reservations/%d/cancel", r.ID), 10, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusCancelled, decode[transitionResponse](t, resp).Reservation.Status)

	resp = a.do(t, http.MethodGet, "/api/v1/reservations?requester_id=10", 0, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Reservations []*models.Reservation `json:"reservations"`
	}](t, resp)
	require.Len(t, list.Reservations, 1)

	resp = a.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/reservations/%d", r.ID), 1, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = a.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reservations/%d", r.ID), 0, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListings(t *testing.T) {
	a := newTestAPI(t)
	a.create(t, 10, 1, "2025-01-10T09:00", "2025-01-10T11:00", nil)
	a.create(t, 10, 2, "2025-01-11T09:00", "2025-01-11T11:00", intp(5))

	resp := a.do(t, http.MethodGet, "/api/v1/reservations?from=2025-01-10T00:00&to=2025-01-11T00:00", 0, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Reservations []*models.Reservation `json:"reservations"`
	}](t, resp)
	require.Len(t, body.Reservations, 1)
	assert.Equal(t, int64(1), body.Reservations[0].ResourceID)

	resp = a.do(t, http.MethodGet, "/api/v1/resources/2/reservations?status=pending", 0, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[struct {
		Reservations []*models.Reservation `json:"reservations"`
	}](t, resp)
	require.Len(t, body.Reservations, 1)

	resp = a.do(t, http.MethodGet, "/api/v1/resources/2/reservations?status=approved", 0, nil)
	body = decode[struct {
		Reservations []*models.Reservation `json:"reservations"`
	}](t, resp)
	assert.Empty(t, body.Reservations)
	assert.NotNil(t, body.Reservations)
}

func TestCalendarAndReport(t *testing.T) {
	a := newTestAPI(t)
	r := a.create(t, 10, 1, "2025-01-10T09:00", "2025-01-10T11:00", nil)
	a.create(t, 11, 2, "2025-01-10T09:00", "2025-01-10T11:00", intp(3))

	resp := a.do(t, http.MethodGet, "/api/v1/resources/1/calendar.ics", 0, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar"))
	cal, err := ics.ParseCalendar(resp.Body)
	require.NoError(t, err)
	require.Len(t, cal.Events(), 1)
	assert.Equal(t, fmt.Sprintf("reservation-%d@talep", r.ID), cal.Events()[0].Id())

	resp = a.do(t, http.MethodGet, "/api/v1/reports/reservations.xlsx?from=2025-01-10T00:00&to=2025-01-11T00:00", 0, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "talepler_2025-01-09_2025-01-10.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Talepler")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Transit (06 ABC 123)", rows[2][1])
	assert.Equal(t, "Ayşe Yılmaz", rows[2][3])
	assert.Equal(t, "Medrese", rows[3][1])
	assert.Equal(t, "Mehmet Demir", rows[3][3])

	resp = a.do(t, http.MethodGet, "/api/v1/resources/9/calendar.ics", 0, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
