package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/desk-scheduler/internal/persistence"
)

// ReservationRepository implements persistence.ReservationRepository on
// PostgreSQL. Checked inserts lock the desk row with SELECT ... FOR UPDATE,
// which serialises writers per desk without a table lock.
type ReservationRepository struct {
	db *sql.DB
}

var _ persistence.ReservationRepository = (*ReservationRepository)(nil)

// NewReservationRepository creates a reservation repository on db.
func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationColumns = `id, user_id, desk_id, start_time, end_time, status, reservation_type, ` +
	`recurrence_pattern, recurrence_end_date, parent_id, notes, check_in_time, created_at, updated_at`

// CreateReservationChecked inserts res after check approves the Active
// reservations overlapping it on the locked desk.
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

	return withTransaction(ctx, r.db, func(tx *sql.Tx) error {
		var deskID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM desks WHERE id = $1 FOR UPDATE`, res.DeskID).Scan(&deskID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("postgres: desk %s: %w", res.DeskID, persistence.ErrForeignKeyViolation)
		}
		if err != nil {
			return mapError(err)
		}

		query, values := buildReservationQuery(persistence.ReservationFilter{
			DeskID:       res.DeskID,
			Statuses:     []persistence.ReservationStatus{persistence.ReservationActive},
			OverlapsFrom: &res.Start,
			OverlapsTo:   &res.End,
		})
		rows, err := tx.QueryContext(ctx, query, values...)
		if err != nil {
			return mapError(err)
		}
		overlapping, err := collectReservations(rows)
		if err != nil {
			return err
		}

		if check != nil {
			if err := check(overlapping); err != nil {
				return err
			}
		}

		var recurrenceEnd sql.NullString
		if res.RecurrenceEnd != nil {
			recurrenceEnd = sql.NullString{String: res.RecurrenceEnd.UTC().Format("2006-01-02"), Valid: true}
		}
		var parentID sql.NullString
		if res.ParentID != nil {
			parentID = sql.NullString{String: *res.ParentID, Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO reservations (`+reservationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			res.ID, res.UserID, res.DeskID, res.Start.UTC(), res.End.UTC(),
			string(res.Status), string(res.Type), res.Pattern, recurrenceEnd, parentID,
			res.Notes, nullTime(res.CheckInAt), res.CreatedAt.UTC(), res.UpdatedAt.UTC(),
		)
		return mapError(err)
	})
}

// GetReservation retrieves a reservation by ID.
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		return persistence.Reservation{}, mapError(err)
	}
	return res, nil
}

// ListReservations returns the reservations matching filter ordered by start time.
func (r *ReservationRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	query, values := buildReservationQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, values...)
	if err != nil {
		return nil, mapError(err)
	}
	return collectReservations(rows)
}

// ApplyTransition updates the reservation only while the guard in t holds.
func (r *ReservationRepository) ApplyTransition(ctx context.Context, t persistence.Transition) (persistence.Reservation, error) {
	query := `UPDATE reservations
		SET status = $1, check_in_time = COALESCE($2, check_in_time), updated_at = $3
		WHERE id = $4 AND status = $5`
	if t.RequireNoCheckIn {
		query += ` AND check_in_time IS NULL`
	}
	query += ` RETURNING ` + reservationColumns

	res, err := scanReservation(r.db.QueryRowContext(ctx, query,
		string(t.To), nullTime(t.CheckInAt), t.At.UTC(), t.ReservationID, string(t.From)))
	if err == nil {
		return res, nil
	}
	if err != sql.ErrNoRows {
		return persistence.Reservation{}, mapError(err)
	}

	current, err := r.GetReservation(ctx, t.ReservationID)
	if err != nil {
		return persistence.Reservation{}, err
	}
	return current, persistence.ErrPreconditionFailed
}

func buildReservationQuery(filter persistence.ReservationFilter) (string, []interface{}) {
	var (
		a          args
		conditions []string
	)

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+a.add(filter.UserID))
	}
	if filter.DeskID != "" {
		conditions = append(conditions, "desk_id = "+a.add(filter.DeskID))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = a.add(string(s))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.OverlapsFrom != nil && filter.OverlapsTo != nil {
		conditions = append(conditions,
			"start_time < "+a.add(filter.OverlapsTo.UTC()),
			"end_time > "+a.add(filter.OverlapsFrom.UTC()))
	}
	if filter.StartsAfter != nil {
		conditions = append(conditions, "start_time > "+a.add(filter.StartsAfter.UTC()))
	}
	if filter.StartsBefore != nil {
		conditions = append(conditions, "start_time < "+a.add(filter.StartsBefore.UTC()))
	}
	if filter.EndsBefore != nil {
		conditions = append(conditions, "end_time < "+a.add(filter.EndsBefore.UTC()))
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
	return query, a.values
}

func collectReservations(rows *sql.Rows) ([]persistence.Reservation, error) {
	defer rows.Close()

	out := make([]persistence.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func scanReservation(row rowScanner) (persistence.Reservation, error) {
	var (
		res             persistence.Reservation
		status, resType string
		recurrenceEnd   sql.NullTime
		parentID        sql.NullString
		checkIn         sql.NullTime
	)
	if err := row.Scan(
		&res.ID,
		&res.UserID,
		&res.DeskID,
		&res.Start,
		&res.End,
		&status,
		&resType,
		&res.Pattern,
		&recurrenceEnd,
		&parentID,
		&res.Notes,
		&checkIn,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return persistence.Reservation{}, err
	}

	res.Status = persistence.ReservationStatus(status)
	res.Type = persistence.ReservationType(resType)
	res.Start = res.Start.UTC()
	res.End = res.End.UTC()
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	if recurrenceEnd.Valid {
		t := recurrenceEnd.Time
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		res.RecurrenceEnd = &d
	}
	if parentID.Valid {
		id := parentID.String
		res.ParentID = &id
	}
	if checkIn.Valid {
		at := checkIn.Time.UTC()
		res.CheckInAt = &at
	}
	return res, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
