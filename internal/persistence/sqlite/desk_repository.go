package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/desk-scheduler/internal/persistence"
)

// DeskRepository implements persistence.DeskRepository using SQLite.
type DeskRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.DeskRepository = (*DeskRepository)(nil)

// NewDeskRepository creates a new SQLite desk repository.
func NewDeskRepository(pool *ConnectionPool) *DeskRepository {
	return &DeskRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
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

	features, err := encodeFeatures(desk.Features)
	if err != nil {
		return err
	}

	query := `INSERT INTO desks (` + deskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.helper.Exec(ctx, query,
		desk.ID,
		desk.Name,
		desk.Number,
		desk.AreaID,
		string(desk.Type),
		desk.Capacity,
		features,
		string(desk.Status),
		formatTime(desk.CreatedAt),
		formatTime(desk.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetDesk retrieves a desk by ID.
func (r *DeskRepository) GetDesk(ctx context.Context, id string) (persistence.Desk, error) {
	if id == "" {
		return persistence.Desk{}, persistence.ErrNotFound
	}

	row := r.helper.QueryRow(ctx, `SELECT `+deskColumns+` FROM desks WHERE id = ?`, id)
	desk, err := scanDesk(row)
	if err != nil {
		return persistence.Desk{}, r.mapper.MapError(err)
	}
	return desk, nil
}

// ListDesks returns the desks matching filter ordered by desk number.
func (r *DeskRepository) ListDesks(ctx context.Context, filter persistence.DeskFilter) ([]persistence.Desk, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.AreaID != "" {
		conditions = append(conditions, "area_id = ?")
		args = append(args, filter.AreaID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "desk_type = ?")
		args = append(args, string(filter.Type))
	}
	if len(filter.ExcludeStatuses) > 0 {
		placeholders := make([]string, len(filter.ExcludeStatuses))
		for i, s := range filter.ExcludeStatuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		conditions = append(conditions, "status NOT IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + deskColumns + ` FROM desks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY desk_number ASC, id ASC"

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	desks := make([]persistence.Desk, 0)
	for rows.Next() {
		desk, err := scanDesk(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		desks = append(desks, desk)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return desks, nil
}

// UpdateDeskStatus sets the cached status of one desk.
func (r *DeskRepository) UpdateDeskStatus(ctx context.Context, id string, status persistence.DeskStatus, at time.Time) error {
	result, err := r.helper.Exec(ctx, `UPDATE desks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(at), id)
	if err != nil {
		return r.mapper.MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ResetDeskStatuses moves every desk outside except to status to.
func (r *DeskRepository) ResetDeskStatuses(ctx context.Context, except, to persistence.DeskStatus, at time.Time) ([]string, error) {
	var changed []string
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := r.helper.QueryTx(ctx, tx,
			`SELECT id FROM desks WHERE status NOT IN (?, ?) ORDER BY id`, string(except), string(to))
		if err != nil {
			return r.mapper.MapError(err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return r.mapper.MapError(err)
			}
			changed = append(changed, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return r.mapper.MapError(err)
		}

		_, err = r.helper.ExecTx(ctx, tx,
			`UPDATE desks SET status = ?, updated_at = ? WHERE status NOT IN (?, ?)`,
			string(to), formatTime(at), string(except), string(to))
		return r.mapper.MapError(err)
	})
	if err != nil {
		return nil, err
	}
	if changed == nil {
		changed = []string{}
	}
	return changed, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDesk(row rowScanner) (persistence.Desk, error) {
	var (
		desk                       persistence.Desk
		deskType, status           string
		features                   string
		createdAtStr, updatedAtStr string
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
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return persistence.Desk{}, err
	}

	desk.Type = persistence.DeskType(deskType)
	desk.Status = persistence.DeskStatus(status)

	var err error
	if desk.Features, err = decodeFeatures([]byte(features)); err != nil {
		return persistence.Desk{}, err
	}
	if desk.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return persistence.Desk{}, err
	}
	if desk.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return persistence.Desk{}, err
	}
	return desk, nil
}

func encodeFeatures(features map[string]string) (string, error) {
	if len(features) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(features)
	if err != nil {
		return "", fmt.Errorf("failed to encode features: %w", err)
	}
	return string(b), nil
}

func decodeFeatures(raw []byte) (map[string]string, error) {
	features := map[string]string{}
	if len(raw) == 0 {
		return features, nil
	}
	if err := json.Unmarshal(raw, &features); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}
	return features, nil
}
