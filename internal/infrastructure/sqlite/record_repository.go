package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/registry"
)

const deploymentColumns = `id, name, network, chain_id, address, constructor_args, encoded_args,
	tx_hash, confirmed_at_block, run_id, deployed_at`

// recordRepository implements registry.Registry using SQLite.
type recordRepository struct {
	db *sql.DB
}

func newRecordRepository(db *sql.DB) *recordRepository {
	return &recordRepository{db: db}
}

var _ registry.Registry = (*recordRepository)(nil)

func scanDeployment(scanner interface{ Scan(...any) error }) (*DeploymentModel, error) {
	var m DeploymentModel
	err := scanner.Scan(
		&m.ID, &m.Name, &m.Network, &m.ChainID, &m.Address, &m.ConstructorArgs, &m.EncodedArgs,
		&m.TxHash, &m.ConfirmedAtBlock, &m.RunID, &m.DeployedAt,
	)
	return &m, err
}

// Get returns the record for (name, chainID).
func (r *recordRepository) Get(ctx context.Context, name string, chainID uint64) (*registry.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE name = ? AND chain_id = ?`,
		name, int64(chainID),
	)
	m, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &registry.RecordNotFoundError{Name: name, ChainID: chainID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find deployment: %w", err)
	}
	return m.toDomain(), nil
}

// Put upserts on (name, chain_id).
func (r *recordRepository) Put(ctx context.Context, record *registry.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m := toDeploymentModel(record)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deployments (
			name, network, chain_id, address, constructor_args, encoded_args,
			tx_hash, confirmed_at_block, run_id, deployed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, chain_id) DO UPDATE SET
			network = excluded.network,
			address = excluded.address,
			constructor_args = excluded.constructor_args,
			encoded_args = excluded.encoded_args,
			tx_hash = excluded.tx_hash,
			confirmed_at_block = excluded.confirmed_at_block,
			run_id = excluded.run_id,
			deployed_at = excluded.deployed_at`,
		m.Name, m.Network, m.ChainID, m.Address, m.ConstructorArgs, m.EncodedArgs,
		m.TxHash, m.ConfirmedAtBlock, m.RunID, m.DeployedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save deployment %s: %w", record.Key(), err)
	}
	log.Debug(log.CatRegistry, "Deployment recorded", "key", record.Key().String(), "address", m.Address)
	return nil
}

// List returns every record for chainID in deployment order.
func (r *recordRepository) List(ctx context.Context, chainID uint64) ([]*registry.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE chain_id = ? ORDER BY deployed_at, id`,
		int64(chainID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*registry.Record
	for rows.Next() {
		m, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		records = append(records, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployment rows: %w", err)
	}
	return records, nil
}
