package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"talep/internal/config"
	"talep/internal/domain"
	"talep/internal/models"
	"talep/internal/timezone"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResourceService(t *testing.T) {
	logger := zerolog.Nop()
	store := newMemStore()
	svc := NewResourceService(store, &logger)
	ctx := context.Background()

	catalogue := []models.Resource{
		{ID: 2, Kind: models.KindRoom, Name: "Medrese", Capacity: 40, SortOrder: 2, IsActive: true},
		{ID: 1, Kind: models.KindVehicle, Name: "Transit", SortOrder: 1, IsActive: true},
	}
	require.NoError(t, svc.Seed(ctx, catalogue))

	active, err := svc.GetActiveResources(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, int64(1), active[0].ID, "ordered by sort order")

	rooms := svc.GetActiveByKind(ctx, models.KindRoom)
	require.Len(t, rooms, 1)
	assert.Equal(t, 40, rooms[0].Capacity)

	_, err = svc.Deactivate(ctx, requester, 1)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	res, err := svc.Deactivate(ctx, admin, 1)
	require.NoError(t, err)
	assert.False(t, res.IsActive)
	active, err = svc.GetActiveResources(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// Inactive resources are still readable.
	r, err := svc.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.IsActive)

	// Re-seeding keeps the deactivation.
	require.NoError(t, svc.Seed(ctx, catalogue))
	r, err = svc.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.IsActive)

	_, err = svc.Activate(ctx, admin, 1)
	require.NoError(t, err)
	r, err = svc.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r.IsActive)

	_, err = svc.GetResource(ctx, 42)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = svc.Deactivate(ctx, admin, 42)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestResourceService_ConfiguredInactiveRejectsCreate(t *testing.T) {
	logger := zerolog.Nop()
	store := newMemStore()
	resources := NewResourceService(store, &logger)
	ctx := context.Background()

	var catalogue []models.Resource
	require.NoError(t, yaml.Unmarshal([]byte(`
- id: 1
  kind: vehicle
  name: Transit
- id: 3
  kind: vehicle
  name: Doblo
  is_active: false
`), &catalogue))
	require.NoError(t, resources.Seed(ctx, catalogue))

	assert.Len(t, resources.GetActiveByKind(ctx, models.KindVehicle), 1)

	svc := NewReservationService(
		store,
		resources,
		nil,
		&recordingBus{},
		domain.FixedClock{At: testNow},
		timezone.NewFixed(3*time.Hour),
		config.ReservationConfig{MaxAdvanceDays: 30},
		nil,
	)
	req := CreateReservationRequest{ResourceID: 3, Start: "2025-01-10T10:00", End: "2025-01-10T11:00", Purpose: "Saha ziyareti"}
	_, err := svc.Create(ctx, requester, req)
	assert.True(t, errors.Is(err, domain.ErrInvalidState), "got %v", err)

	_, err = resources.Activate(ctx, admin, 3)
	require.NoError(t, err)
	_, err = svc.Create(ctx, requester, req)
	assert.NoError(t, err)
}
