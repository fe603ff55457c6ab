package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StageStore = (*StageRepo)(nil)

// StageRepo is the SQLite implementation of the StageStore port.
type StageRepo struct {
	db *DB
}

// NewStageRepo creates a new StageRepo backed by the given DB.
func NewStageRepo(db *DB) *StageRepo {
	return &StageRepo{db: db}
}

const stageColumns = `id, check_suite_id, configuration_id, name, status, check_ref, execution_time, created_at, updated_at`

// Create inserts a new stage and returns it with its assigned id.
func (r *StageRepo) Create(ctx context.Context, stage model.Stage) (model.Stage, error) {
	const query = `
		INSERT INTO stages (check_suite_id, configuration_id, name, status, check_ref, execution_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if stage.Status == "" {
		stage.Status = model.StatusQueued
	}

	now := time.Now().UTC()
	res, err := r.db.Writer.ExecContext(ctx, query,
		stage.CheckSuiteID, stage.ConfigurationID, stage.Name, string(stage.Status),
		stage.CheckRef, stage.ExecutionTime, now, now,
	)
	if err != nil {
		return model.Stage{}, fmt.Errorf("create stage %q for suite %d: %w", stage.Name, stage.CheckSuiteID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Stage{}, fmt.Errorf("last insert id: %w", err)
	}

	stage.ID = id
	stage.CreatedAt = now
	stage.UpdatedAt = now
	return stage, nil
}

// GetByID retrieves a stage by id. Returns nil, nil on miss.
func (r *StageRepo) GetByID(ctx context.Context, id int64) (*model.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE id = ?`

	stage, err := scanStage(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage %d: %w", id, err)
	}

	return stage, nil
}

// GetBySuiteAndName returns the stage with the given name inside a suite.
// Returns nil, nil on miss.
func (r *StageRepo) GetBySuiteAndName(ctx context.Context, suiteID int64, name string) (*model.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE check_suite_id = ? AND name = ?`

	stage, err := scanStage(r.db.Reader.QueryRowContext(ctx, query, suiteID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage %q for suite %d: %w", name, suiteID, err)
	}

	return stage, nil
}

// ListBySuite returns all stages of a suite ordered by id.
func (r *StageRepo) ListBySuite(ctx context.Context, suiteID int64) ([]model.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE check_suite_id = ? ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query, suiteID)
	if err != nil {
		return nil, fmt.Errorf("query stages for suite %d: %w", suiteID, err)
	}
	defer rows.Close()

	var stages []model.Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, *stage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}

	return stages, nil
}

// UpdateStatus transitions a stage to the given status.
func (r *StageRepo) UpdateStatus(ctx context.Context, id int64, status model.Status) error {
	const query = `UPDATE stages SET status = ?, updated_at = ? WHERE id = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update stage %d status: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("stage %d: %w", id, driven.ErrNotFound)
	}

	return nil
}

// SetCheckRef records the GitHub check run id for the aggregate stage.
func (r *StageRepo) SetCheckRef(ctx context.Context, id, checkRef int64) error {
	const query = `UPDATE stages SET check_ref = ?, updated_at = ? WHERE id = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, checkRef, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set check ref on stage %d: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("stage %d: %w", id, driven.ErrNotFound)
	}

	return nil
}

func scanStage(s scanner) (*model.Stage, error) {
	var stage model.Stage
	var status string
	var createdAt, updatedAt string

	err := s.Scan(
		&stage.ID, &stage.CheckSuiteID, &stage.ConfigurationID, &stage.Name,
		&status, &stage.CheckRef, &stage.ExecutionTime, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	stage.Status = model.Status(status)

	stage.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	stage.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &stage, nil
}
