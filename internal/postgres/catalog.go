package postgres

import (
	"context"
	"fmt"
	"time"

	"talep/internal/domain"
	"talep/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	return getResource(ctx, s.db, id)
}

func (s *Store) GetActiveResources(ctx context.Context) ([]models.Resource, error) {
	var rows []resourceRow
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("sort_order ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get active resources: %w", err)
	}
	out := make([]models.Resource, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.model())
	}
	return out, nil
}

// SyncResources upserts the configured resources and keeps the stored
// active flag of existing rows.
func (s *Store) SyncResources(ctx context.Context, resources []models.Resource) error {
	if len(resources) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]resourceRow, 0, len(resources))
	for _, r := range resources {
		rows = append(rows, resourceRow{
			ID:          r.ID,
			Kind:        string(r.Kind),
			Name:        r.Name,
			Description: r.Description,
			PlateNumber: r.PlateNumber,
			Capacity:    r.Capacity,
			SortOrder:   r.SortOrder,
			IsActive:    r.IsActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	updates := clause.AssignmentColumns([]string{"kind", "name", "description", "plate_number", "capacity", "sort_order", "updated_at"})
	updates = append(updates, clause.Assignment{
		Column: clause.Column{Name: "is_active"},
		Value:  gorm.Expr("resources.is_active AND excluded.is_active"),
	})
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: updates,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to sync resources: %w", err)
	}
	s.logger.Info().Int("count", len(rows)).Msg("Resources synchronized")
	return nil
}

func (s *Store) SetResourceActive(ctx context.Context, id int64, active bool) error {
	result := s.db.WithContext(ctx).Model(&resourceRow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": active, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return fmt.Errorf("failed to update resource: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("resource %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return row.model(), nil
}

// CreateOrUpdateUser upserts user by id. An empty phone keeps the stored one.
func (s *Store) CreateOrUpdateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	created := user.CreatedAt
	if created.IsZero() {
		created = now
	}
	row := userRow{
		ID:         user.ID,
		Name:       user.Name,
		Phone:      user.Phone,
		Department: user.Department,
		IsAdmin:    user.IsAdmin,
		CreatedAt:  created,
		UpdatedAt:  now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":       gorm.Expr("excluded.name"),
			"phone":      gorm.Expr("CASE WHEN excluded.phone = '' THEN users.phone ELSE excluded.phone END"),
			"department": gorm.Expr("excluded.department"),
			"is_admin":   gorm.Expr("excluded.is_admin"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetAdmins(ctx context.Context) ([]*models.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Where("is_admin = ?", true).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get admins: %w", err)
	}
	out := make([]*models.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	status := task.Status
	if status == "" {
		status = models.SyncStatusPending
	}
	row := syncTaskRow{
		TaskType:      task.TaskType,
		ReservationID: task.ReservationID,
		Payload:       task.Payload,
		Status:        status,
		RetryCount:    task.RetryCount,
		LastError:     task.LastError,
		CreatedAt:     time.Now().UTC(),
		NextRetryAt:   utcPtr(task.NextRetryAt),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	task.ID = row.ID
	task.Status = status
	task.CreatedAt = row.CreatedAt
	return nil
}

func (s *Store) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	var rows []syncTaskRow
	err := s.db.WithContext(ctx).
		Where("status IN ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			[]string{models.SyncStatusPending, models.SyncStatusRetry}, time.Now().UTC()).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	out := make([]models.SyncTask, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}
	updates := map[string]interface{}{
		"status":        status,
		"last_error":    lastErr,
		"next_retry_at": utcPtr(nextRetryAt),
	}
	switch status {
	case models.SyncStatusRetry:
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		updates["processed_at"] = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Model(&syncTaskRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	return nil
}
