package schedule

import (
	"context"
	"errors"
	"testing"

	"talep/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictDetector_VehicleScenario(t *testing.T) {
	reader := &fakeReader{reservations: []*models.Reservation{
		reservation(1, 1, "09:00", "11:00", models.StatusPending),
	}}
	detector := NewConflictDetector(reader)
	ctx := context.Background()

	conflicts, err := detector.Detect(ctx, Query{ResourceID: 1, Range: tr("10:00", "12:00")})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, int64(1), conflicts[0].ID)

	conflicts, err = detector.Detect(ctx, Query{ResourceID: 1, Range: tr("11:00", "12:00")})
	require.NoError(t, err)
	assert.Empty(t, conflicts, "touching ranges must not conflict")
}

func TestConflictDetector_Filters(t *testing.T) {
	reader := &fakeReader{reservations: []*models.Reservation{
		reservation(1, 1, "09:00", "11:00", models.StatusApproved),
		reservation(2, 1, "10:00", "12:00", models.StatusPending),
		reservation(3, 1, "09:30", "10:30", models.StatusRejected),
		reservation(4, 1, "08:00", "13:00", models.StatusCancelled),
		reservation(5, 9, "09:00", "12:00", models.StatusApproved),
		reservation(6, 1, "08:30", "09:45", models.StatusPending),
	}}
	detector := NewConflictDetector(reader)
	ctx := context.Background()

	t.Run("DefaultStatuses", func(t *testing.T) {
		conflicts, err := detector.Detect(ctx, Query{ResourceID: 1, Range: tr("09:00", "12:00")})
		require.NoError(t, err)
		ids := idsOf(conflicts)
		assert.Equal(t, []int64{6, 1, 2}, ids, "ordered by start, terminal statuses ignored")
	})

	t.Run("ApprovalStatuses", func(t *testing.T) {
		conflicts, err := detector.Detect(ctx, Query{
			ResourceID: 1,
			Range:      tr("09:00", "12:00"),
			Statuses:   ApprovalBlockingStatuses,
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, idsOf(conflicts))
	})

	t.Run("ExcludeSelf", func(t *testing.T) {
		conflicts, err := detector.Detect(ctx, Query{ResourceID: 1, Range: tr("10:00", "12:00"), ExcludeID: 2})
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, idsOf(conflicts))
	})
}

func TestConflictDetector_ReaderError(t *testing.T) {
	boom := errors.New("database is locked")
	detector := NewConflictDetector(&fakeReader{err: boom})

	_, err := detector.Detect(context.Background(), Query{ResourceID: 1, Range: tr("09:00", "10:00")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestOverlapping_IgnoresForeignRows(t *testing.T) {
	existing := []*models.Reservation{
		nil,
		reservation(1, 2, "09:00", "10:00", models.StatusPending),
		reservation(2, 1, "09:00", "10:00", models.StatusPending),
	}
	out := Overlapping(existing, Query{ResourceID: 1, Range: tr("09:00", "10:00")})
	assert.Equal(t, []int64{2}, idsOf(out))
}

func idsOf(rs []*models.Reservation) []int64 {
	ids := make([]int64, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}
