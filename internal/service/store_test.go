package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"talep/internal/domain"
	"talep/internal/models"
)

// memStore is an in-memory domain.Store. A transaction holds the store mutex
// for its whole duration and is rolled back when fn fails.
type memStore struct {
	mu           sync.Mutex
	resources    map[int64]*models.Resource
	reservations map[int64]*models.Reservation
	users        map[int64]*models.User
	nextID       int64
	failInsert   error
}

func newMemStore(resources ...*models.Resource) *memStore {
	s := &memStore{
		resources:    make(map[int64]*models.Resource),
		reservations: make(map[int64]*models.Reservation),
		users:        make(map[int64]*models.User),
	}
	for _, r := range resources {
		s.resources[r.ID] = r
	}
	return s
}

func (s *memStore) FindByResource(_ context.Context, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByResource(resourceID, statuses), nil
}

func (s *memStore) findByResource(resourceID int64, statuses []models.ReservationStatus) []*models.Reservation {
	allowed := make(map[models.ReservationStatus]bool)
	for _, st := range statuses {
		allowed[st] = true
	}
	var out []*models.Reservation
	for _, r := range s.reservations {
		if r.ResourceID == resourceID && allowed[r.Status] {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) GetReservation(_ context.Context, id int64) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getReservation(id)
}

func (s *memStore) getReservation(id int64) (*models.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, domain.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *memStore) WithinTx(_ context.Context, fn func(tx domain.ReservationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[int64]*models.Reservation, len(s.reservations))
	for id, r := range s.reservations {
		snapshot[id] = r.Clone()
	}
	nextID := s.nextID

	if err := fn(&memTx{s: s}); err != nil {
		s.reservations = snapshot
		s.nextID = nextID
		return err
	}
	return nil
}

func (s *memStore) ListReservations(_ context.Context, from, to time.Time) ([]*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reservation
	for _, r := range s.reservations {
		if r.Start.Before(to) && from.Before(r.End) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *memStore) ListByRequester(_ context.Context, requesterID int64) ([]*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reservation
	for _, r := range s.reservations {
		if r.RequesterID == requesterID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetResource(_ context.Context, id int64) (*models.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getResource(id)
}

func (s *memStore) getResource(id int64) (*models.Resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %d: %w", id, domain.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (s *memStore) GetActiveResources(_ context.Context) ([]models.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Resource
	for _, r := range s.resources {
		if r.IsActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) SyncResources(_ context.Context, resources []models.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range resources {
		r := resources[i]
		if existing, ok := s.resources[r.ID]; ok {
			r.IsActive = existing.IsActive && r.IsActive
		}
		s.resources[r.ID] = &r
	}
	return nil
}

func (s *memStore) SetResourceActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return fmt.Errorf("resource %d: %w", id, domain.ErrNotFound)
	}
	r.IsActive = active
	return nil
}

func (s *memStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (s *memStore) CreateOrUpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *memStore) GetAdmins(_ context.Context) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.User
	for _, u := range s.users {
		if u.IsAdmin {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

// count returns how many reservations have one of statuses.
func (s *memStore) count(statuses ...models.ReservationStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.reservations {
		for _, st := range statuses {
			if r.Status == st {
				n++
			}
		}
	}
	return n
}

type memTx struct {
	s *memStore
}

func (t *memTx) FindByResource(_ context.Context, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	return t.s.findByResource(resourceID, statuses), nil
}

func (t *memTx) GetReservation(_ context.Context, id int64) (*models.Reservation, error) {
	return t.s.getReservation(id)
}

func (t *memTx) GetResource(_ context.Context, id int64) (*models.Resource, error) {
	return t.s.getResource(id)
}

func (t *memTx) LockResource(_ context.Context, id int64) (*models.Resource, error) {
	return t.s.getResource(id)
}

func (t *memTx) InsertReservation(_ context.Context, r *models.Reservation) error {
	if t.s.failInsert != nil {
		return t.s.failInsert
	}
	t.s.nextID++
	r.ID = t.s.nextID
	r.Version = 1
	t.s.reservations[r.ID] = r.Clone()
	return nil
}

func (t *memTx) UpdateReservation(_ context.Context, r *models.Reservation) error {
	stored, ok := t.s.reservations[r.ID]
	if !ok {
		return fmt.Errorf("reservation %d: %w", r.ID, domain.ErrNotFound)
	}
	if stored.Version != r.Version {
		return fmt.Errorf("reservation %d: %w", r.ID, domain.ErrConcurrentModification)
	}
	r.Version++
	t.s.reservations[r.ID] = r.Clone()
	return nil
}

func (t *memTx) DeleteReservation(_ context.Context, id int64) error {
	if _, ok := t.s.reservations[id]; !ok {
		return fmt.Errorf("reservation %d: %w", id, domain.ErrNotFound)
	}
	delete(t.s.reservations, id)
	return nil
}

// recordingBus captures published events in order.
type recordingBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type    string
	Payload interface{}
}

func (b *recordingBus) PublishJSON(eventType string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Type: eventType, Payload: payload})
	return nil
}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}
