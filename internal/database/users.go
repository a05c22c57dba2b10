package database

import (
	"context"
	"fmt"
	"time"

	"talep/internal/models"
)

const userColumns = `id, name, phone, department, is_admin, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                models.User
		created, updated string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Department, &u.IsAdmin, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateOrUpdateUser upserts user by id. An empty phone keeps the stored one.
func (db *DB) CreateOrUpdateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, name, phone, department, is_admin, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = excluded.name,
                  phone = CASE WHEN excluded.phone = '' THEN users.phone ELSE excluded.phone END,
                  department = excluded.department,
                  is_admin = excluded.is_admin,
                  updated_at = excluded.updated_at`

	now := time.Now().UTC()
	created := user.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Phone,
		user.Department,
		user.IsAdmin,
		formatTime(created),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	u, err := scanUser(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (db *DB) GetAdmins(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_admin = 1 ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get admins: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}
