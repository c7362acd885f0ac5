package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BatchRunRepository struct {
	db *pgxpool.Pool
}

func NewBatchRunRepository(db *pgxpool.Pool) *BatchRunRepository {
	return &BatchRunRepository{db: db}
}

// TryLockJob takes a session-level advisory lock on a dedicated connection,
// so a server and a challengectl process never run the same job at once.
func (r *BatchRunRepository) TryLockJob(ctx context.Context, job string) (func(), error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for %s lock: %w", job, err)
	}

	key := "challenge_batch:" + job
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to lock %s job: %w", job, err)
	}
	if !locked {
		conn.Release()
		return nil, ErrRunInProgress
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			// The lock lives as long as the session; drop the connection instead of pooling it.
			log.Printf("Failed to unlock %s job, closing connection: %v", job, err)
			_ = conn.Hijack().Close(unlockCtx)
			return
		}
		conn.Release()
	}, nil
}

func (r *BatchRunRepository) LastSuccessfulWindowEnd(ctx context.Context, job string) (*time.Time, error) {
	query := `
		SELECT window_end
		FROM challenge_batch_runs
		WHERE job = $1 AND succeeded = TRUE
		ORDER BY window_end DESC
		LIMIT 1
	`

	var end time.Time
	err := r.db.QueryRow(ctx, query, job).Scan(&end)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last %s run: %w", job, err)
	}
	return &end, nil
}

func (r *BatchRunRepository) RecordRun(ctx context.Context, run *RunSummary) error {
	query := `
		INSERT INTO challenge_batch_runs (
			id, job, window_start, window_end,
			transactions_seen, transactions_skipped,
			participants_updated, participants_failed, participants_promoted,
			duplicates_skipped, errors, succeeded, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	var windowStart *time.Time
	if !run.WindowStart.IsZero() {
		windowStart = &run.WindowStart
	}
	var runErr *string
	if run.Error != "" {
		runErr = &run.Error
	}

	_, err := r.db.Exec(ctx, query,
		run.RunID, run.Job, windowStart, run.WindowEnd,
		run.TransactionsSeen, run.TransactionsSkipped,
		run.ParticipantsUpdated, run.ParticipantsFailed, run.ParticipantsPromoted,
		run.DuplicatesSkipped, run.Errors, run.Succeeded(), runErr, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s run %s: %w", run.Job, run.RunID, err)
	}
	return nil
}

// RecentRuns lists the latest runs of a job, newest first. An empty job
// lists every job.
func (r *BatchRunRepository) RecentRuns(ctx context.Context, job string, limit int) ([]RunSummary, error) {
	query := `
		SELECT id, job, window_start, window_end,
		       transactions_seen, transactions_skipped,
		       participants_updated, participants_failed, participants_promoted,
		       duplicates_skipped, errors, COALESCE(error, ''), started_at, finished_at
		FROM challenge_batch_runs
		WHERE $1 = '' OR job = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, job, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s runs: %w", job, err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		var windowStart *time.Time
		if err := rows.Scan(
			&run.RunID, &run.Job, &windowStart, &run.WindowEnd,
			&run.TransactionsSeen, &run.TransactionsSkipped,
			&run.ParticipantsUpdated, &run.ParticipantsFailed, &run.ParticipantsPromoted,
			&run.DuplicatesSkipped, &run.Errors, &run.Error, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if windowStart != nil {
			run.WindowStart = *windowStart
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
