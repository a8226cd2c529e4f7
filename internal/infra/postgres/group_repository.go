package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/shared"
)

// GroupRepository implements group.Repository using PostgreSQL.
type GroupRepository struct {
	db *DB
}

var _ group.Repository = (*GroupRepository)(nil)

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(db *DB) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `id, name, slug, status, creator_id, settings, created_at, updated_at`

// Create persists a new group.
func (r *GroupRepository) Create(ctx context.Context, g *group.Group) error {
	return insertGroup(ctx, r.db, g)
}

func insertGroup(ctx context.Context, q querier, g *group.Group) error {
	settings, err := json.Marshal(g.Settings())
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO groups (` + groupColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = q.ExecContext(ctx, query,
		g.ID().String(),
		g.Name(),
		g.Slug(),
		string(g.Status()),
		g.CreatorID().String(),
		settings,
		g.CreatedAt(),
		g.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ConflictError("group slug already exists")
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// GetByID retrieves a group by ID.
func (r *GroupRepository) GetByID(ctx context.Context, id shared.ID) (*group.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1`
	return r.scanGroup(r.db.QueryRowContext(ctx, query, id.String()))
}

// GetBySlug retrieves a group by slug.
func (r *GroupRepository) GetBySlug(ctx context.Context, slug string) (*group.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE slug = $1`
	return r.scanGroup(r.db.QueryRowContext(ctx, query, slug))
}

// Update updates an existing group.
func (r *GroupRepository) Update(ctx context.Context, g *group.Group) error {
	settings, err := json.Marshal(g.Settings())
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		UPDATE groups
		SET name = $2, slug = $3, status = $4, settings = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		g.ID().String(),
		g.Name(),
		g.Slug(),
		string(g.Status()),
		settings,
		g.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ConflictError("group slug already exists")
		}
		return fmt.Errorf("failed to update group: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return shared.NotFoundError("group not found")
	}
	return nil
}

// Delete removes a group. Its membership rows cascade.
func (r *GroupRepository) Delete(ctx context.Context, id shared.ID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return shared.NotFoundError("group not found")
	}
	return nil
}

// List lists groups ordered by name.
func (r *GroupRepository) List(ctx context.Context, filter group.Filter) ([]*group.Group, int, error) {
	var where whereBuilder
	if filter.Search != "" {
		where.add(`name ILIKE $%d ESCAPE '\'`, wrapLikePattern(filter.Search))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM groups` + where.String()
	if err := r.db.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count groups: %w", err)
	}

	query := `SELECT ` + groupColumns + ` FROM groups` + where.String() + ` ORDER BY LOWER(name), id`
	if filter.Limit > 0 {
		query += " LIMIT " + where.next(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + where.next(filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*group.Group, 0)
	for rows.Next() {
		g, err := r.scanGroupRow(rows)
		if err != nil {
			return nil, 0, err
		}
		groups = append(groups, g)
	}
	return groups, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *GroupRepository) scanGroup(row *sql.Row) (*group.Group, error) {
	g, err := r.scanGroupRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NotFoundError("group not found")
	}
	return g, err
}

func (r *GroupRepository) scanGroupRow(row rowScanner) (*group.Group, error) {
	var (
		idStr, creatorStr  string
		name, slug, status string
		settingsJSON       []byte
		createdAt          time.Time
		updatedAt          time.Time
	)
	if err := row.Scan(&idStr, &name, &slug, &status, &creatorStr, &settingsJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}

	id, err := shared.IDFromString(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse group id: %w", err)
	}
	creatorID, err := shared.IDFromString(creatorStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse creator id: %w", err)
	}

	settings := group.DefaultSettings()
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return group.Reconstitute(id, name, slug, group.Status(status), creatorID, settings, createdAt, updatedAt), nil
}
