package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/desk-scheduler/internal/persistence"
)

// DeskRepository implements persistence.DeskRepository on PostgreSQL.
type DeskRepository struct {
	db *sql.DB
}

var _ persistence.DeskRepository = (*DeskRepository)(nil)

// NewDeskRepository creates a desk repository on db.
func NewDeskRepository(db *sql.DB) *DeskRepository {
	return &DeskRepository{db: db}
}

const deskColumns = `id, name, desk_number, area_id, desk_type, capacity, features, status, created_at, updated_at`

// CreateDesk inserts a new desk.
func (r *DeskRepository) CreateDesk(ctx context.Context, desk persistence.Desk) error {
	if desk.ID == "" || desk.Number == "" {
		return persistence.ErrConstraintViolation
	}
	if desk.CreatedAt.IsZero() {
		desk.CreatedAt = time.Now().UTC()
	}
	if desk.UpdatedAt.IsZero() {
		desk.UpdatedAt = desk.CreatedAt
	}

	features := "{}"
	if len(desk.Features) > 0 {
		b, err := json.Marshal(desk.Features)
		if err != nil {
			return fmt.Errorf("postgres: encode features: %w", err)
		}
		features = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO desks (`+deskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		desk.ID, desk.Name, desk.Number, desk.AreaID, string(desk.Type), desk.Capacity,
		features, string(desk.Status), desk.CreatedAt.UTC(), desk.UpdatedAt.UTC(),
	)
	return mapError(err)
}

// GetDesk retrieves a desk by ID.
func (r *DeskRepository) GetDesk(ctx context.Context, id string) (persistence.Desk, error) {
	desk, err := scanDesk(r.db.QueryRowContext(ctx, `SELECT `+deskColumns+` FROM desks WHERE id = $1`, id))
	if err != nil {
		return persistence.Desk{}, mapError(err)
	}
	return desk, nil
}

// ListDesks returns the desks matching filter ordered by desk number.
func (r *DeskRepository) ListDesks(ctx context.Context, filter persistence.DeskFilter) ([]persistence.Desk, error) {
	var (
		a          args
		conditions []string
	)
	if filter.AreaID != "" {
		conditions = append(conditions, "area_id = "+a.add(filter.AreaID))
	}
	if filter.Type != "" {
		conditions = append(conditions, "desk_type = "+a.add(string(filter.Type)))
	}
	if len(filter.ExcludeStatuses) > 0 {
		placeholders := make([]string, len(filter.ExcludeStatuses))
		for i, s := range filter.ExcludeStatuses {
			placeholders[i] = a.add(string(s))
		}
		conditions = append(conditions, "status NOT IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + deskColumns + ` FROM desks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY desk_number ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	desks := make([]persistence.Desk, 0)
	for rows.Next() {
		desk, err := scanDesk(rows)
		if err != nil {
			return nil, mapError(err)
		}
		desks = append(desks, desk)
	}
	return desks, mapError(rows.Err())
}

// UpdateDeskStatus sets the cached status of one desk.
func (r *DeskRepository) UpdateDeskStatus(ctx context.Context, id string, status persistence.DeskStatus, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE desks SET status = $1, updated_at = $2 WHERE id = $3`, string(status), at.UTC(), id)
	if err != nil {
		return mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ResetDeskStatuses moves every desk outside except to status to.
func (r *DeskRepository) ResetDeskStatuses(ctx context.Context, except, to persistence.DeskStatus, at time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE desks SET status = $1, updated_at = $2 WHERE status NOT IN ($3, $1) RETURNING id`,
		string(to), at.UTC(), string(except))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	changed := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		changed = append(changed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	sort.Strings(changed)
	return changed, nil
}

func scanDesk(row rowScanner) (persistence.Desk, error) {
	var (
		desk             persistence.Desk
		deskType, status string
		features         []byte
	)
	if err := row.Scan(
		&desk.ID,
		&desk.Name,
		&desk.Number,
		&desk.AreaID,
		&deskType,
		&desk.Capacity,
		&features,
		&status,
		&desk.CreatedAt,
		&desk.UpdatedAt,
	); err != nil {
		return persistence.Desk{}, err
	}

	desk.Type = persistence.DeskType(deskType)
	desk.Status = persistence.DeskStatus(status)
	desk.CreatedAt = desk.CreatedAt.UTC()
	desk.UpdatedAt = desk.UpdatedAt.UTC()
	desk.Features = map[string]string{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &desk.Features); err != nil {
			return persistence.Desk{}, fmt.Errorf("postgres: decode features: %w", err)
		}
	}
	return desk, nil
}
