package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/hierflat/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type flattenRunRepository struct {
	pool *pgxpool.Pool
}

// NewFlattenRunRepository wires a repository backed by pgxpool.
func NewFlattenRunRepository(pool *pgxpool.Pool) FlattenRunRepository {
	return &flattenRunRepository{pool: pool}
}

func (r *flattenRunRepository) Record(ctx context.Context, run domain.FlattenRun) error {
	if r.pool == nil {
		return fmt.Errorf("flatten run repository not initialized")
	}

	var errorMessage any
	if run.ErrorMessage != "" {
		errorMessage = run.ErrorMessage
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO flatten_runs (id, source, target, status, stage, node_count, max_level, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID,
		run.Source,
		run.Target,
		string(run.Status),
		run.Stage,
		run.NodeCount,
		run.MaxLevel,
		errorMessage,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record flatten run: %w", err)
	}

	return nil
}

func (r *flattenRunRepository) List(ctx context.Context, limit int, offset int) ([]domain.FlattenRun, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("flatten run repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, source, target, status, stage, node_count, max_level, error_message, created_at
		 FROM flatten_runs
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list flatten runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.FlattenRun{}
	for rows.Next() {
		var (
			run          domain.FlattenRun
			status       string
			errorMessage pgtype.Text
			createdAt    pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&run.ID,
			&run.Source,
			&run.Target,
			&status,
			&run.Stage,
			&run.NodeCount,
			&run.MaxLevel,
			&errorMessage,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan flatten run: %w", scanErr)
		}

		run.Status = domain.FlattenRunStatus(status)
		if errorMessage.Valid {
			run.ErrorMessage = errorMessage.String
		}
		if createdAt.Valid {
			run.CreatedAt = createdAt.Time
		}

		runs = append(runs, run)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate flatten runs: %w", rowsErr)
	}

	return runs, nil
}
