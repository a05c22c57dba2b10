package postgres

import (
	"time"

	"talep/internal/models"
)

type resourceRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement:false"`
	Kind        string `gorm:"type:text;not null"`
	Name        string `gorm:"type:text;not null"`
	Description string `gorm:"type:text;not null;default:''"`
	PlateNumber string `gorm:"type:text;not null;default:''"`
	Capacity    int    `gorm:"not null;default:0"`
	SortOrder   int64  `gorm:"not null;default:0"`
	IsActive    bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (resourceRow) TableName() string { return "resources" }

func (r resourceRow) model() *models.Resource {
	return &models.Resource{
		ID:          r.ID,
		Kind:        models.ResourceKind(r.Kind),
		Name:        r.Name,
		Description: r.Description,
		PlateNumber: r.PlateNumber,
		Capacity:    r.Capacity,
		SortOrder:   r.SortOrder,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type userRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement:false"`
	Name       string `gorm:"type:text;not null"`
	Phone      string `gorm:"type:text;not null;default:''"`
	Department string `gorm:"type:text;not null;default:''"`
	IsAdmin    bool   `gorm:"not null;default:false;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (userRow) TableName() string { return "users" }

func (u userRow) model() *models.User {
	return &models.User{
		ID:         u.ID,
		Name:       u.Name,
		Phone:      u.Phone,
		Department: u.Department,
		IsAdmin:    u.IsAdmin,
		CreatedAt:  u.CreatedAt.UTC(),
		UpdatedAt:  u.UpdatedAt.UTC(),
	}
}

type reservationRow struct {
	ID               int64     `gorm:"primaryKey"`
	ResourceID       int64     `gorm:"not null;index:idx_reservations_resource,priority:1"`
	ResourceKind     string    `gorm:"type:text;not null"`
	RequesterID      int64     `gorm:"not null;index"`
	StartAt          time.Time `gorm:"type:timestamptz;not null;index:idx_reservations_resource,priority:3"`
	EndAt            time.Time `gorm:"type:timestamptz;not null"`
	Status           string    `gorm:"type:text;not null;default:'pending';index:idx_reservations_resource,priority:2"`
	Purpose          string    `gorm:"type:text;not null"`
	Notes            string    `gorm:"type:text;not null;default:''"`
	ApproverID       *int64
	ApprovedAt       *time.Time `gorm:"type:timestamptz"`
	ParticipantCount *int
	CreatedAt        time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt        time.Time `gorm:"type:timestamptz;not null"`
	Version          int64     `gorm:"not null;default:1"`
}

func (reservationRow) TableName() string { return "reservations" }

func toReservationRow(r *models.Reservation) *reservationRow {
	return &reservationRow{
		ID:               r.ID,
		ResourceID:       r.ResourceID,
		ResourceKind:     string(r.ResourceKind),
		RequesterID:      r.RequesterID,
		StartAt:          r.Start.UTC(),
		EndAt:            r.End.UTC(),
		Status:           string(r.Status),
		Purpose:          r.Purpose,
		Notes:            r.Notes,
		ApproverID:       r.ApproverID,
		ApprovedAt:       utcPtr(r.ApprovedAt),
		ParticipantCount: r.ParticipantCount,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		Version:          r.Version,
	}
}

func (r reservationRow) model() *models.Reservation {
	return &models.Reservation{
		ID:               r.ID,
		ResourceID:       r.ResourceID,
		ResourceKind:     models.ResourceKind(r.ResourceKind),
		RequesterID:      r.RequesterID,
		Start:            r.StartAt.UTC(),
		End:              r.EndAt.UTC(),
		Status:           models.ReservationStatus(r.Status),
		Purpose:          r.Purpose,
		Notes:            r.Notes,
		ApproverID:       r.ApproverID,
		ApprovedAt:       utcPtr(r.ApprovedAt),
		ParticipantCount: r.ParticipantCount,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		Version:          r.Version,
	}
}

type syncTaskRow struct {
	ID            int64  `gorm:"primaryKey"`
	TaskType      string `gorm:"type:text;not null"`
	ReservationID int64  `gorm:"not null"`
	Payload       string `gorm:"type:text"`
	Status        string `gorm:"type:text;not null;default:'pending';index:idx_sync_queue_status,priority:1"`
	RetryCount    int    `gorm:"not null;default:0"`
	LastError     *string
	CreatedAt     time.Time  `gorm:"type:timestamptz;not null"`
	ProcessedAt   *time.Time `gorm:"type:timestamptz"`
	NextRetryAt   *time.Time `gorm:"type:timestamptz;index:idx_sync_queue_status,priority:2"`
}

func (syncTaskRow) TableName() string { return "sync_queue" }

func (t syncTaskRow) model() models.SyncTask {
	return models.SyncTask{
		ID:            t.ID,
		TaskType:      t.TaskType,
		ReservationID: t.ReservationID,
		Payload:       t.Payload,
		Status:        t.Status,
		RetryCount:    t.RetryCount,
		LastError:     t.LastError,
		CreatedAt:     t.CreatedAt.UTC(),
		ProcessedAt:   utcPtr(t.ProcessedAt),
		NextRetryAt:   utcPtr(t.NextRetryAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func reservationModels(rows []reservationRow) []*models.Reservation {
	out := make([]*models.Reservation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out
}
