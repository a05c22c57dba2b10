package database

import (
	"context"
	"fmt"
	"time"

	"talep/internal/domain"
	"talep/internal/models"
)

const resourceColumns = `id, kind, name, description, plate_number, capacity, sort_order, is_active, created_at, updated_at`

func scanResource(row rowScanner) (*models.Resource, error) {
	var (
		r                models.Resource
		created, updated string
	)
	err := row.Scan(
		&r.ID, &r.Kind, &r.Name, &r.Description, &r.PlateNumber, &r.Capacity, &r.SortOrder, &r.IsActive, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func getResource(ctx context.Context, q querier, id int64) (*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`
	r, err := scanResource(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "resource", id)
	}
	return r, nil
}

func (db *DB) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	return getResource(ctx, db, id)
}

func (db *DB) GetActiveResources(ctx context.Context) ([]models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE is_active = 1 ORDER BY sort_order ASC, id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active resources: %w", err)
	}
	defer rows.Close()

	var resources []models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read resources: %w", err)
	}
	return resources, nil
}

// SyncResources upserts the configured resources. The active flag of a row
// that already exists is kept, so a deactivation survives a restart.
func (db *DB) SyncResources(ctx context.Context, resources []models.Resource) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO resources (id, kind, name, description, plate_number, capacity, sort_order, is_active, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  kind = excluded.kind,
                  name = excluded.name,
                  description = excluded.description,
                  plate_number = excluded.plate_number,
                  capacity = excluded.capacity,
                  sort_order = excluded.sort_order,
                  is_active = resources.is_active AND excluded.is_active,
                  updated_at = excluded.updated_at`
	now := formatTime(time.Now())
	for i := range resources {
		r := &resources[i]
		_, err := tx.ExecContext(ctx, query,
			r.ID, string(r.Kind), r.Name, r.Description, r.PlateNumber, r.Capacity, r.SortOrder, r.IsActive, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to sync resource %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resources: %w", err)
	}
	db.logger.Info().Int("count", len(resources)).Msg("Resources synchronized")
	return nil
}

func (db *DB) SetResourceActive(ctx context.Context, id int64, active bool) error {
	result, err := db.ExecContext(ctx, `UPDATE resources SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("resource %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
