//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"talep/internal/domain"
	"talep/internal/models"
	"talep/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testStore *Store

func TestMain(m *testing.M) {
	dsn := os.Getenv("TALEP_TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=talep password=talep dbname=talep_test sslmode=disable TimeZone=UTC"
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot connect to test database: %v\n", err)
		os.Exit(1)
	}

	testStore = New(db, nil)
	if err := testStore.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func resetTables(t *testing.T) {
	t.Helper()
	require.NoError(t, testStore.db.Exec("TRUNCATE reservations, sync_queue, users, resources RESTART IDENTITY CASCADE").Error)
	require.NoError(t, testStore.SyncResources(context.Background(), []models.Resource{
		{ID: 1, Kind: models.KindVehicle, Name: "Transit", PlateNumber: "06 ABC 123", IsActive: true},
		{ID: 2, Kind: models.KindRoom, Name: "Medrese", Capacity: 40, IsActive: true},
	}))
}

func slot(resourceID int64, kind models.ResourceKind, from, to int, status models.ReservationStatus) *models.Reservation {
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	return &models.Reservation{
		ResourceID:   resourceID,
		ResourceKind: kind,
		RequesterID:  10,
		Start:        day.Add(time.Duration(from) * time.Hour),
		End:          day.Add(time.Duration(to) * time.Hour),
		Status:       status,
		Purpose:      "test",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStore_ReservationLifecycle(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	r := slot(1, models.KindVehicle, 9, 11, models.StatusPending)
	require.NoError(t, testStore.WithinTx(ctx, func(tx domain.ReservationTx) error {
		return tx.InsertReservation(ctx, r)
	}))
	require.NotZero(t, r.ID)

	stale := r.Clone()
	r.SetStatus(models.StatusApproved, 7, time.Now())
	require.NoError(t, testStore.WithinTx(ctx, func(tx domain.ReservationTx) error {
		return tx.UpdateReservation(ctx, r)
	}))
	assert.Equal(t, int64(2), r.Version)

	err := testStore.WithinTx(ctx, func(tx domain.ReservationTx) error {
		return tx.UpdateReservation(ctx, stale)
	})
	assert.True(t, errors.Is(err, domain.ErrConcurrentModification))

	got, err := testStore.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, time.UTC, got.Start.Location())

	listed, err := testStore.ListReservations(ctx, r.End, r.End.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, listed, "half-open ranges do not touch")
}

func TestStore_ExclusionConstraint(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	first := slot(1, models.KindVehicle, 9, 11, models.StatusApproved)
	require.NoError(t, testStore.WithinTx(ctx, func(tx domain.ReservationTx) error {
		return tx.InsertReservation(ctx, first)
	}))

	// Bypassing the checker still cannot produce two approved overlaps.
	second := slot(1, models.KindVehicle, 10, 12, models.StatusApproved)
	err := testStore.WithinTx(ctx, func(tx domain.ReservationTx) error {
		return tx.InsertReservation(ctx, second)
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	adjacent := slot(1, models.KindVehicle, 11, 12, models.StatusApproved)
	assert.NoError(t, testStore.WithinTx(ctx, func(tx domain.ReservationTx) error {
		return tx.InsertReservation(ctx, adjacent)
	}))
}

func TestStore_ConcurrentCheckAndInsert(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- testStore.WithinTx(ctx, func(tx domain.ReservationTx) error {
				res, err := tx.LockResource(ctx, 1)
				if err != nil {
					return err
				}
				r := slot(1, models.KindVehicle, 9, 11, models.StatusPending)
				verdict, err := schedule.NewChecker(tx).Check(ctx, res, schedule.Candidate{Range: schedule.RangeOf(r)})
				if err != nil {
					return err
				}
				if verdict.Blocked() {
					return verdict.Err()
				}
				return tx.InsertReservation(ctx, r)
			})
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestStore_CatalogAndUsers(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	require.NoError(t, testStore.SetResourceActive(ctx, 1, false))
	require.NoError(t, testStore.SyncResources(ctx, []models.Resource{
		{ID: 1, Kind: models.KindVehicle, Name: "Transit Custom", IsActive: true},
	}))
	v, err := testStore.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Transit Custom", v.Name)
	assert.False(t, v.IsActive)

	require.NoError(t, testStore.CreateOrUpdateUser(ctx, &models.User{ID: 10, Name: "Ayşe", Phone: "905551112233"}))
	require.NoError(t, testStore.CreateOrUpdateUser(ctx, &models.User{ID: 10, Name: "Ayşe Yılmaz", IsAdmin: true}))
	u, err := testStore.GetUserByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "905551112233", u.Phone)

	admins, err := testStore.GetAdmins(ctx)
	require.NoError(t, err)
	assert.Len(t, admins, 1)

	task := &models.SyncTask{TaskType: "upsert", ReservationID: 1}
	require.NoError(t, testStore.CreateSyncTask(ctx, task))
	pending, err := testStore.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, testStore.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil))
	pending, err = testStore.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
