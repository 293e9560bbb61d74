package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ssuji15/trainpool/internal/db"
	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/model"
	"go.opentelemetry.io/otel/attribute"
)

var ErrRunNotFound = errors.New("repository: run not found")

const runColumns = `id, strategy, dataset_hash, trained, score, location, creation_time, start_time, end_time`

type RunRepository struct {
	db *db.DB
}

func NewRunRepository(db *db.DB) *RunRepository {
	return &RunRepository{db: db}
}

// RecordRuns inserts runs in one transaction.
func (r *RunRepository) RecordRuns(ctx context.Context, runs []*model.Run) error {
	if len(runs) == 0 {
		return nil
	}

	ctx, span := job_tracer.GetTracer().Start(ctx, "Postgres/RecordRuns")
	defer span.End()
	span.SetAttributes(attribute.Int("runs", len(runs)))

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []any{
			run.ID,
			run.Strategy,
			run.DatasetHash,
			run.Trained,
			run.Score,
			run.Location,
			run.CreationTime,
			run.StartTime,
			run.EndTime,
		})
	}

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"training_runs"},
		[]string{
			"id",
			"strategy",
			"dataset_hash",
			"trained",
			"score",
			"location",
			"creation_time",
			"start_time",
			"end_time",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to copy runs: %w", err)
	}
	return tx.Commit(ctx)
}

// ListRuns returns the newest runs for a dataset, at most limit. An
// empty hash lists runs of every dataset.
func (r *RunRepository) ListRuns(ctx context.Context, datasetHash string, limit int) ([]*model.Run, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Postgres/ListRuns")
	defer span.End()

	if limit <= 0 {
		limit = 25
	}
	var (
		query string
		args  []any
	)
	if datasetHash == "" {
		query = `SELECT ` + runColumns + ` FROM training_runs ORDER BY id DESC LIMIT $1`
		args = append(args, limit)
	} else {
		query = `SELECT ` + runColumns + ` FROM training_runs WHERE dataset_hash = $1 ORDER BY id DESC LIMIT $2`
		args = append(args, datasetHash, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return runs, nil
}

func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "Postgres/GetRun")
	defer span.End()

	row := r.db.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM training_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

func scanRun(row pgx.Row) (*model.Run, error) {
	var run model.Run
	err := row.Scan(
		&run.ID,
		&run.Strategy,
		&run.DatasetHash,
		&run.Trained,
		&run.Score,
		&run.Location,
		&run.CreationTime,
		&run.StartTime,
		&run.EndTime,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
