package schedule

import (
	"context"
	"errors"
	"time"

	"talep/internal/models"
)

type fakeReader struct {
	reservations []*models.Reservation
	err          error
	calls        int
}

func (f *fakeReader) FindByResource(_ context.Context, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	allowed := make(map[models.ReservationStatus]bool)
	for _, s := range statuses {
		allowed[s] = true
	}
	var out []*models.Reservation
	for _, r := range f.reservations {
		if r.ResourceID == resourceID && allowed[r.Status] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReader) GetReservation(_ context.Context, id int64) (*models.Reservation, error) {
	for _, r := range f.reservations {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}

func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02T15:04Z07:00", "2025-01-10T"+hhmm+"Z")
	if err != nil {
		panic(err)
	}
	return t
}

func tr(from, to string) TimeRange {
	return TimeRange{Start: at(from), End: at(to)}
}

func reservation(id, resourceID int64, from, to string, status models.ReservationStatus) *models.Reservation {
	return &models.Reservation{
		ID:         id,
		ResourceID: resourceID,
		Start:      at(from),
		End:        at(to),
		Status:     status,
	}
}

func roomReservation(id int64, from, to string, participants int, status models.ReservationStatus) *models.Reservation {
	r := reservation(id, 2, from, to, status)
	r.ResourceKind = models.KindRoom
	r.ParticipantCount = &participants
	return r
}
