package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talep/internal/config"
	"talep/internal/domain"
	"talep/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	exclusionViolation = "23P01"
	checkViolation     = "23514"
	foreignKeyMissing  = "23503"
)

// Store is the PostgreSQL backend. Check+write sections lock the resource
// row with SELECT ... FOR UPDATE, and an exclusion constraint keeps approved
// vehicle reservations from overlapping even if a caller skips the lock.
type Store struct {
	db     *gorm.DB
	logger *zerolog.Logger
}

var _ domain.Repository = (*Store)(nil)

// Open connects with cfg and applies the schema.
func Open(ctx context.Context, cfg config.PostgresConfig, logger *zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(gormpostgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	maxOpen := cfg.MaxConnections
	if maxOpen <= 0 {
		maxOpen = 25
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen / 2)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Msg("Postgres store initialized")
	return s, nil
}

func New(db *gorm.DB, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates tables, indexes and the overlap constraints.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&resourceRow{}, &userRow{}, &reservationRow{}, &syncTaskRow{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS btree_gist`,
		`DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'reservations_range_check') THEN
				ALTER TABLE reservations ADD CONSTRAINT reservations_range_check CHECK (start_at < end_at);
			END IF;
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'reservations_vehicle_no_overlap') THEN
				ALTER TABLE reservations ADD CONSTRAINT reservations_vehicle_no_overlap
					EXCLUDE USING gist (resource_id WITH =, tstzrange(start_at, end_at, '[)') WITH &&)
					WHERE (resource_kind = 'vehicle' AND status = 'approved');
			END IF;
		END $$`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) PingContext(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translateError maps driver errors onto the domain taxonomy.
func translateError(err error, resourceID int64) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case exclusionViolation:
			return &domain.ConflictError{
				ResourceID: resourceID,
				Reason:     "overlaps an approved reservation",
			}
		case checkViolation:
			return domain.NewValidationError("end", "end must be after start")
		case foreignKeyMissing:
			return fmt.Errorf("resource %d: %w", resourceID, domain.ErrNotFound)
		}
	}
	return err
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func statusStrings(statuses []models.ReservationStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func findByResource(ctx context.Context, db *gorm.DB, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	var rows []reservationRow
	err := db.WithContext(ctx).
		Where("resource_id = ? AND status IN ?", resourceID, statusStrings(statuses)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	return reservationModels(rows), nil
}

func getReservation(ctx context.Context, db *gorm.DB, id int64) (*models.Reservation, error) {
	var row reservationRow
	if err := db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "reservation", id)
	}
	return row.model(), nil
}

func getResource(ctx context.Context, db *gorm.DB, id int64) (*models.Resource, error) {
	var row resourceRow
	if err := db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "resource", id)
	}
	return row.model(), nil
}

func (s *Store) FindByResource(ctx context.Context, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	return findByResource(ctx, s.db, resourceID, statuses)
}

func (s *Store) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservation(ctx, s.db, id)
}

func (s *Store) ListReservations(ctx context.Context, from, to time.Time) ([]*models.Reservation, error) {
	var rows []reservationRow
	err := s.db.WithContext(ctx).
		Where("start_at < ? AND end_at > ?", to.UTC(), from.UTC()).
		Order("start_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservationModels(rows), nil
}

func (s *Store) ListByRequester(ctx context.Context, requesterID int64) ([]*models.Reservation, error) {
	var rows []reservationRow
	err := s.db.WithContext(ctx).Where("requester_id = ?", requesterID).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservationModels(rows), nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.ReservationTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&reservationTx{db: tx})
	})
}

type reservationTx struct {
	db *gorm.DB
}

func (t *reservationTx) FindByResource(ctx context.Context, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	return findByResource(ctx, t.db, resourceID, statuses)
}

func (t *reservationTx) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservation(ctx, t.db, id)
}

func (t *reservationTx) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	return getResource(ctx, t.db, id)
}

func (t *reservationTx) LockResource(ctx context.Context, id int64) (*models.Resource, error) {
	var row resourceRow
	err := t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error
	if err != nil {
		return nil, notFound(err, "resource", id)
	}
	return row.model(), nil
}

func (t *reservationTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	row := toReservationRow(r)
	row.ID = 0
	row.Version = 1
	if err := t.db.WithContext(ctx).Create(row).Error; err != nil {
		if terr := translateError(err, r.ResourceID); terr != err {
			return terr
		}
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	r.ID = row.ID
	r.Version = 1
	return nil
}

func (t *reservationTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	row := toReservationRow(r)
	result := t.db.WithContext(ctx).
		Model(&reservationRow{}).
		Where("id = ? AND version = ?", r.ID, r.Version).
		Updates(map[string]interface{}{
			"resource_id":       row.ResourceID,
			"resource_kind":     row.ResourceKind,
			"start_at":          row.StartAt,
			"end_at":            row.EndAt,
			"status":            row.Status,
			"purpose":           row.Purpose,
			"notes":             row.Notes,
			"approver_id":       row.ApproverID,
			"approved_at":       row.ApprovedAt,
			"participant_count": row.ParticipantCount,
			"updated_at":        row.UpdatedAt,
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		if terr := translateError(result.Error, r.ResourceID); terr != result.Error {
			return terr
		}
		return fmt.Errorf("failed to update reservation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := getReservation(ctx, t.db, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("reservation %d: %w", r.ID, domain.ErrConcurrentModification)
	}
	r.Version++
	return nil
}

func (t *reservationTx) DeleteReservation(ctx context.Context, id int64) error {
	result := t.db.WithContext(ctx).Delete(&reservationRow{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete reservation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("reservation %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
