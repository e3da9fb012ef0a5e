package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zjrosen/arbor/internal/registry"
)

const runColumns = `id, network, chain_id, tags, state, last_completed, deployed, skipped,
	error, started_at, finished_at, updated_at`

// runRepository implements registry.RunRepository using SQLite.
type runRepository struct {
	db *sql.DB
}

func newRunRepository(db *sql.DB) *runRepository {
	return &runRepository{db: db}
}

var _ registry.RunRepository = (*runRepository)(nil)

func scanRun(scanner interface{ Scan(...any) error }) (*RunModel, error) {
	var m RunModel
	err := scanner.Scan(
		&m.ID, &m.Network, &m.ChainID, &m.Tags, &m.State, &m.LastCompleted, &m.Deployed, &m.Skipped,
		&m.Error, &m.StartedAt, &m.FinishedAt, &m.UpdatedAt,
	)
	return &m, err
}

// Save inserts the run or updates its mutable fields.
func (r *runRepository) Save(ctx context.Context, run *registry.Run) error {
	m := toRunModel(run)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (
			id, network, chain_id, tags, state, last_completed, deployed, skipped,
			error, started_at, finished_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			last_completed = excluded.last_completed,
			deployed = excluded.deployed,
			skipped = excluded.skipped,
			error = excluded.error,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at`,
		m.ID, m.Network, m.ChainID, m.Tags, m.State, m.LastCompleted, m.Deployed, m.Skipped,
		m.Error, m.StartedAt, m.FinishedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// FindByID returns the run with id.
func (r *runRepository) FindByID(ctx context.Context, id string) (*registry.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	m, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &registry.RunNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run: %w", err)
	}
	return m.toDomain(), nil
}

// List returns runs matching filter, newest first.
func (r *runRepository) List(ctx context.Context, filter registry.RunFilter) ([]*registry.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1 = 1`
	var args []any

	if filter.ChainID != 0 {
		query += ` AND chain_id = ?`
		args = append(args, int64(filter.ChainID))
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}

	query += ` ORDER BY started_at DESC, rowid DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*registry.Run
	for rows.Next() {
		m, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}
