package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StageConfigurationStore = (*StageConfigRepo)(nil)

// StageConfigRepo is the SQLite implementation of the StageConfigurationStore port.
type StageConfigRepo struct {
	db *DB
}

// NewStageConfigRepo creates a new StageConfigRepo backed by the given DB.
func NewStageConfigRepo(db *DB) *StageConfigRepo {
	return &StageConfigRepo{db: db}
}

// Upsert inserts or replaces a stage configuration keyed by backend stage name.
func (r *StageConfigRepo) Upsert(ctx context.Context, cfg model.StageConfiguration) error {
	const query = `
		INSERT INTO stage_configurations (backend_stage_name, check_run_name, position, start_in_progress, can_retry, mandatory)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(backend_stage_name) DO UPDATE SET
			check_run_name = excluded.check_run_name,
			position = excluded.position,
			start_in_progress = excluded.start_in_progress,
			can_retry = excluded.can_retry,
			mandatory = excluded.mandatory
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		cfg.BackendStageName, cfg.CheckRunName, cfg.Position,
		boolToInt(cfg.StartInProgress), boolToInt(cfg.CanRetry), boolToInt(cfg.Mandatory),
	)
	if err != nil {
		return fmt.Errorf("upsert stage configuration %q: %w", cfg.BackendStageName, err)
	}

	return nil
}

// GetByBackendName retrieves a configuration by the backend's stage name.
// Returns nil, nil on miss.
func (r *StageConfigRepo) GetByBackendName(ctx context.Context, name string) (*model.StageConfiguration, error) {
	const query = `
		SELECT id, backend_stage_name, check_run_name, position, start_in_progress, can_retry, mandatory
		FROM stage_configurations
		WHERE backend_stage_name = ?
	`

	cfg, err := scanStageConfig(r.db.Reader.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage configuration %q: %w", name, err)
	}

	return cfg, nil
}

// List returns all stage configurations ordered by position.
func (r *StageConfigRepo) List(ctx context.Context) ([]model.StageConfiguration, error) {
	const query = `
		SELECT id, backend_stage_name, check_run_name, position, start_in_progress, can_retry, mandatory
		FROM stage_configurations
		ORDER BY position
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query stage configurations: %w", err)
	}
	defer rows.Close()

	var cfgs []model.StageConfiguration
	for rows.Next() {
		cfg, err := scanStageConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage configuration: %w", err)
		}
		cfgs = append(cfgs, *cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage configurations: %w", err)
	}

	return cfgs, nil
}

func scanStageConfig(s scanner) (*model.StageConfiguration, error) {
	var cfg model.StageConfiguration
	var startInProgress, canRetry, mandatory int

	err := s.Scan(
		&cfg.ID, &cfg.BackendStageName, &cfg.CheckRunName, &cfg.Position,
		&startInProgress, &canRetry, &mandatory,
	)
	if err != nil {
		return nil, err
	}

	cfg.StartInProgress = startInProgress != 0
	cfg.CanRetry = canRetry != 0
	cfg.Mandatory = mandatory != 0

	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
