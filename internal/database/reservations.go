package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"talep/internal/domain"
	"talep/internal/models"
)

const reservationColumns = `id, resource_id, resource_kind, requester_id, start_at, end_at, status,
	purpose, notes, approver_id, approved_at, participant_count, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                            models.Reservation
		start, end, created, updated string
		approvedAt                   sql.NullString
		approverID, participantCount sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.ResourceID, &r.ResourceKind, &r.RequesterID, &start, &end, &r.Status,
		&r.Purpose, &r.Notes, &approverID, &approvedAt, &participantCount, &created, &updated, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	if r.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if r.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if r.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return nil, err
	}
	if approverID.Valid {
		v := approverID.Int64
		r.ApproverID = &v
	}
	if participantCount.Valid {
		v := int(participantCount.Int64)
		r.ParticipantCount = &v
	}
	return &r, nil
}

func queryReservations(ctx context.Context, q querier, query string, args ...interface{}) ([]*models.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reservations: %w", err)
	}
	return out, nil
}

func findByResource(ctx context.Context, q querier, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, resourceID)
	for _, s := range statuses {
		args = append(args, string(s))
	}

	query := `SELECT ` + reservationColumns + `
              FROM reservations
              WHERE resource_id = ? AND status IN (` + placeholders + `)
              ORDER BY id ASC`
	return queryReservations(ctx, q, query, args...)
}

func getReservation(ctx context.Context, q querier, id int64) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	r, err := scanReservation(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "reservation", id)
	}
	return r, nil
}

func (db *DB) FindByResource(ctx context.Context, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	return findByResource(ctx, db, resourceID, statuses)
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservation(ctx, db, id)
}

// ListReservations returns reservations overlapping [from, to) ordered by start.
func (db *DB) ListReservations(ctx context.Context, from, to time.Time) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
              FROM reservations
              WHERE start_at < ? AND end_at > ?
              ORDER BY start_at ASC, id ASC`
	return queryReservations(ctx, db, query, formatTime(to), formatTime(from))
}

func (db *DB) ListByRequester(ctx context.Context, requesterID int64) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
              FROM reservations WHERE requester_id = ? ORDER BY id ASC`
	return queryReservations(ctx, db, query, requesterID)
}

// reservationTx is the domain.ReservationTx of one SQLite transaction.
type reservationTx struct {
	q querier
}

func (t *reservationTx) FindByResource(ctx context.Context, resourceID int64, statuses []models.ReservationStatus) ([]*models.Reservation, error) {
	return findByResource(ctx, t.q, resourceID, statuses)
}

func (t *reservationTx) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservation(ctx, t.q, id)
}

func (t *reservationTx) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	return getResource(ctx, t.q, id)
}

// LockResource reads the resource. The transaction already holds the
// database write lock since BEGIN IMMEDIATE.
func (t *reservationTx) LockResource(ctx context.Context, id int64) (*models.Resource, error) {
	return getResource(ctx, t.q, id)
}

func (t *reservationTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	query := `INSERT INTO reservations (
				resource_id, resource_kind, requester_id, start_at, end_at, status, purpose, notes,
				approver_id, approved_at, participant_count, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	result, err := t.q.ExecContext(ctx, query,
		r.ResourceID,
		string(r.ResourceKind),
		r.RequesterID,
		formatTime(r.Start),
		formatTime(r.End),
		string(r.Status),
		r.Purpose,
		r.Notes,
		nullInt64(r.ApproverID),
		nullTime(r.ApprovedAt),
		nullInt(r.ParticipantCount),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.Version = 1
	return nil
}

func (t *reservationTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	query := `UPDATE reservations SET
				resource_id = ?, resource_kind = ?, start_at = ?, end_at = ?, status = ?, purpose = ?, notes = ?,
				approver_id = ?, approved_at = ?, participant_count = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`
	result, err := t.q.ExecContext(ctx, query,
		r.ResourceID,
		string(r.ResourceKind),
		formatTime(r.Start),
		formatTime(r.End),
		string(r.Status),
		r.Purpose,
		r.Notes,
		nullInt64(r.ApproverID),
		nullTime(r.ApprovedAt),
		nullInt(r.ParticipantCount),
		formatTime(r.UpdatedAt),
		r.ID,
		r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		if _, err := getReservation(ctx, t.q, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("reservation %d: %w", r.ID, domain.ErrConcurrentModification)
	}
	r.Version++
	return nil
}

func (t *reservationTx) DeleteReservation(ctx context.Context, id int64) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("reservation %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
