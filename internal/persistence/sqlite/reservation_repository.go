package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/desk-scheduler/internal/persistence"
)

// ReservationRepository implements persistence.ReservationRepository using SQLite.
type ReservationRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

var _ persistence.ReservationRepository = (*ReservationRepository)(nil)

// NewReservationRepository creates a new SQLite reservation repository.
func NewReservationRepository(pool *ConnectionPool) *ReservationRepository {
	return &ReservationRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

const reservationColumns = `id, user_id, desk_id, start_time, end_time, status, reservation_type,
	recurrence_pattern, recurrence_end_date, parent_id, notes, check_in_time, created_at, updated_at`

// CreateReservationChecked inserts r inside an immediate transaction after
// check approves the Active reservations overlapping it on the same desk.
// The transaction holds the database write lock from BEGIN, so no other
// writer can insert between the check and the insert.
func (r *ReservationRepository) CreateReservationChecked(ctx context.Context, res persistence.Reservation, check persistence.ConflictCheck) error {
	if res.ID == "" || !res.Start.Before(res.End) {
		return persistence.ErrConstraintViolation
	}

	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	if res.UpdatedAt.IsZero() {
		res.UpdatedAt = res.CreatedAt
	}

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			var deskID string
			err := r.helper.QueryRowTx(ctx, tx, `SELECT id FROM desks WHERE id = ?`, res.DeskID).Scan(&deskID)
			if err == sql.ErrNoRows {
				return fmt.Errorf("sqlite: desk %s: %w", res.DeskID, persistence.ErrForeignKeyViolation)
			}
			if err != nil {
				return r.mapper.MapError(err)
			}

			overlapping, err := r.queryTx(ctx, tx, persistence.ReservationFilter{
				DeskID:       res.DeskID,
				Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
				OverlapsFrom: &res.Start,
				OverlapsTo:   &res.End,
			})
			if err != nil {
				return err
			}

			if check != nil {
				if err := check(overlapping); err != nil {
					return err
				}
			}

			return r.insertTx(ctx, tx, res)
		})
	})
}

func (r *ReservationRepository) insertTx(ctx context.Context, tx *sql.Tx, res persistence.Reservation) error {
	var recurrenceEnd sql.NullString
	if res.RecurrenceEnd != nil {
		recurrenceEnd = sql.NullString{String: res.RecurrenceEnd.UTC().Format(dateLayout), Valid: true}
	}

	var parentID sql.NullString
	if res.ParentID != nil {
		parentID = sql.NullString{String: *res.ParentID, Valid: true}
	}

	query := `INSERT INTO reservations (` + reservationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.helper.ExecTx(ctx, tx, query,
		res.ID,
		res.UserID,
		res.DeskID,
		formatTime(res.Start),
		formatTime(res.End),
		string(res.Status),
		string(res.Type),
		res.Pattern,
		recurrenceEnd,
		parentID,
		res.Notes,
		nullTime(res.CheckInAt),
		formatTime(res.CreatedAt),
		formatTime(res.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetReservation retrieves a reservation by ID.
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if id == "" {
		return persistence.Reservation{}, persistence.ErrNotFound
	}

	row := r.helper.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	res, err := scanReservation(row)
	if err != nil {
		return persistence.Reservation{}, r.mapper.MapError(err)
	}
	return res, nil
}

// ListReservations returns the reservations matching filter ordered by start time.
func (r *ReservationRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	query, args := buildReservationQuery(filter)
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()
	return collectReservations(rows, r.mapper)
}

// ApplyTransition updates the reservation only while the guard in t holds.
func (r *ReservationRepository) ApplyTransition(ctx context.Context, t persistence.Transition) (persistence.Reservation, error) {
	var (
		updated persistence.Reservation
		guarded bool
	)

	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `UPDATE reservations
			SET status = ?, check_in_time = COALESCE(?, check_in_time), updated_at = ?
			WHERE id = ? AND status = ?`
		if t.RequireNoCheckIn {
			query += ` AND check_in_time IS NULL`
		}

		result, err := r.helper.ExecTx(ctx, tx, query,
			string(t.To),
			nullTime(t.CheckInAt),
			formatTime(t.At),
			t.ReservationID,
			string(t.From),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		guarded = rowsAffected == 0

		row := r.helper.QueryRowTx(ctx, tx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, t.ReservationID)
		updated, err = scanReservation(row)
		return r.mapper.MapError(err)
	})
	if err != nil {
		return persistence.Reservation{}, err
	}
	if guarded {
		return updated, persistence.ErrPreconditionFailed
	}
	return updated, nil
}

func (r *ReservationRepository) queryTx(ctx context.Context, tx *sql.Tx, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	query, args := buildReservationQuery(filter)
	rows, err := r.helper.QueryTx(ctx, tx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()
	return collectReservations(rows, r.mapper)
}

func buildReservationQuery(filter persistence.ReservationFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.DeskID != "" {
		conditions = append(conditions, "desk_id = ?")
		args = append(args, filter.DeskID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.OverlapsFrom != nil && filter.OverlapsTo != nil {
		conditions = append(conditions, "start_time < ? AND end_time > ?")
		args = append(args, formatTime(*filter.OverlapsTo), formatTime(*filter.OverlapsFrom))
	}
	if filter.StartsAfter != nil {
		conditions = append(conditions, "start_time > ?")
		args = append(args, formatTime(*filter.StartsAfter))
	}
	if filter.StartsBefore != nil {
		conditions = append(conditions, "start_time < ?")
		args = append(args, formatTime(*filter.StartsBefore))
	}
	if filter.EndsBefore != nil {
		conditions = append(conditions, "end_time < ?")
		args = append(args, formatTime(*filter.EndsBefore))
	}
	if filter.CheckedIn != nil {
		if *filter.CheckedIn {
			conditions = append(conditions, "check_in_time IS NOT NULL")
		} else {
			conditions = append(conditions, "check_in_time IS NULL")
		}
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time ASC, id ASC"
	return query, args
}

func collectReservations(rows *sql.Rows, mapper *ErrorMapper) ([]persistence.Reservation, error) {
	out := make([]persistence.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, mapper.MapError(err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, mapper.MapError(err)
	}
	return out, nil
}

func scanReservation(row rowScanner) (persistence.Reservation, error) {
	var (
		res                               persistence.Reservation
		startStr, endStr, status, resType string
		recurrenceEnd, parentID, checkIn  sql.NullString
		createdAtStr, updatedAtStr        string
	)
	if err := row.Scan(
		&res.ID,
		&res.UserID,
		&res.DeskID,
		&startStr,
		&endStr,
		&status,
		&resType,
		&res.Pattern,
		&recurrenceEnd,
		&parentID,
		&res.Notes,
		&checkIn,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return persistence.Reservation{}, err
	}

	res.Status = persistence.ReservationStatus(status)
	res.Type = persistence.ReservationType(resType)

	var err error
	if res.Start, err = parseTime("start_time", startStr); err != nil {
		return persistence.Reservation{}, err
	}
	if res.End, err = parseTime("end_time", endStr); err != nil {
		return persistence.Reservation{}, err
	}
	if res.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return persistence.Reservation{}, err
	}
	if res.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return persistence.Reservation{}, err
	}
	if recurrenceEnd.Valid {
		d, err := time.Parse(dateLayout, recurrenceEnd.String)
		if err != nil {
			return persistence.Reservation{}, fmt.Errorf("failed to parse recurrence_end_date: %w", err)
		}
		res.RecurrenceEnd = &d
	}
	if parentID.Valid {
		id := parentID.String
		res.ParentID = &id
	}
	if checkIn.Valid {
		at, err := parseTime("check_in_time", checkIn.String)
		if err != nil {
			return persistence.Reservation{}, err
		}
		res.CheckInAt = &at
	}
	return res, nil
}
