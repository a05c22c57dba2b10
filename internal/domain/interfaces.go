package domain

import (
	"context"
	"time"

	"talep/internal/models"
)

// ReservationReader is the read side of the reservation store.
type ReservationReader interface {
	FindByResource(ctx context.Context, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error)
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
}

// ReservationTx is the view of the store inside one transaction. Reads made
// through it see the same snapshot the writes are applied to.
type ReservationTx interface {
	ReservationReader
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	// LockResource reads the resource and holds a write lock on it until the
	// transaction ends.
	LockResource(ctx context.Context, id int64) (*models.Resource, error)
	InsertReservation(ctx context.Context, r *models.Reservation) error
	// UpdateReservation writes r if the stored version still equals r.Version
	// and bumps the version.
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	DeleteReservation(ctx context.Context, id int64) error
}

type Store interface {
	ReservationReader
	WithinTx(ctx context.Context, fn func(tx ReservationTx) error) error
	ListReservations(ctx context.Context, from, to time.Time) ([]*models.Reservation, error)
	ListByRequester(ctx context.Context, requesterID int64) ([]*models.Reservation, error)
}

type ResourceRepository interface {
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	GetActiveResources(ctx context.Context) ([]models.Resource, error)
	SyncResources(ctx context.Context, resources []models.Resource) error
	SetResourceActive(ctx context.Context, id int64, active bool) error
}

type UserRepository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateOrUpdateUser(ctx context.Context, user *models.User) error
	GetAdmins(ctx context.Context) ([]*models.User, error)
}

type SyncTaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Repository is everything a storage backend provides.
type Repository interface {
	Store
	ResourceRepository
	UserRepository
	SyncTaskStore
	Close() error
}

// Notifier delivers a text message to a phone number.
type Notifier interface {
	Send(ctx context.Context, phone, body string) error
}

type Clock interface {
	Now() time.Time
}

// ResourceLocker serializes check+write sections per resource id.
type ResourceLocker interface {
	Lock(ctx context.Context, resourceID int64) (unlock func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, reservationID int64, reservation *models.Reservation, status string) error
}
