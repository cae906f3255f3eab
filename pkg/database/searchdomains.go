package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SearchdomainRepository handles searchdomain rows.
type SearchdomainRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewSearchdomainRepository creates a searchdomain repository.
func NewSearchdomainRepository(db *sqlx.DB, logger *slog.Logger) *SearchdomainRepository {
	return &SearchdomainRepository{db: db, logger: logger}
}

// uniqueViolation is the PostgreSQL error code for a uniqueness conflict.
const uniqueViolation = "23505"

// Create inserts a searchdomain. A duplicate name yields ErrConflict.
func (r *SearchdomainRepository) Create(ctx context.Context, name string, settings Settings) (*Searchdomain, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO searchdomain (name, settings) VALUES ($1, $2) RETURNING id`,
		name, settings.ToJSON()).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: searchdomain %q already exists", ErrConflict, name)
		}
		return nil, fmt.Errorf("failed to create searchdomain: %w", err)
	}
	r.logger.Info("searchdomain created", "name", name, "id", id)
	return &Searchdomain{ID: id, Name: name, Settings: settings}, nil
}

// Get returns the searchdomain with the given name, or ErrNotFound.
func (r *SearchdomainRepository) Get(ctx context.Context, name string) (*Searchdomain, error) {
	var row searchdomainRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, name, settings FROM searchdomain WHERE name = $1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: searchdomain %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get searchdomain: %w", err)
	}
	return r.fromRow(row), nil
}

// GetAll returns every searchdomain.
func (r *SearchdomainRepository) GetAll(ctx context.Context) ([]*Searchdomain, error) {
	var rows []searchdomainRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, name, settings FROM searchdomain ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list searchdomains: %w", err)
	}
	domains := make([]*Searchdomain, 0, len(rows))
	for _, row := range rows {
		domains = append(domains, r.fromRow(row))
	}
	return domains, nil
}

// Delete removes a searchdomain; entities cascade. Returns how many
// entities the cascade removed.
func (r *SearchdomainRepository) Delete(ctx context.Context, id int64) (int64, error) {
	var entityCount int64
	err := r.db.GetContext(ctx, &entityCount,
		`SELECT COUNT(*) FROM entity WHERE id_searchdomain = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM searchdomain WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete searchdomain: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return 0, fmt.Errorf("%w: searchdomain %d", ErrNotFound, id)
	}
	r.logger.Info("searchdomain deleted", "id", id, "entities", entityCount)
	return entityCount, nil
}

// UpdateName renames a searchdomain.
func (r *SearchdomainRepository) UpdateName(ctx context.Context, id int64, newName string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE searchdomain SET name = $1 WHERE id = $2`, newName, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: searchdomain %q already exists", ErrConflict, newName)
		}
		return fmt.Errorf("failed to rename searchdomain: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: searchdomain %d", ErrNotFound, id)
	}
	return nil
}

// UpdateSettings replaces the settings column. Callers perform the
// read-modify-write through Settings.Apply so value types are validated
// before anything is persisted.
func (r *SearchdomainRepository) UpdateSettings(ctx context.Context, id int64, settings Settings) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE searchdomain SET settings = $1 WHERE id = $2`, settings.ToJSON(), id)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: searchdomain %d", ErrNotFound, id)
	}
	return nil
}

func (r *SearchdomainRepository) fromRow(row searchdomainRow) *Searchdomain {
	settings, err := SettingsFromJSON(row.Settings)
	if err != nil {
		r.logger.Warn("searchdomain has malformed settings, using defaults",
			"name", row.Name, "error", err)
	}
	return &Searchdomain{ID: row.ID, Name: row.Name, Settings: settings}
}
