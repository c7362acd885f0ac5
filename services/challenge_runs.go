package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	JobProgress   = "progress"
	JobCompletion = "completion"
)

var (
	// ErrRunInProgress is returned when a job is triggered while the same job is still running.
	ErrRunInProgress = errors.New("batch run already in progress")
	// ErrParticipationNotActive is returned when a conditional update finds the row already finished.
	ErrParticipationNotActive = errors.New("participation is no longer active")
	// ErrProgressConflict is returned when the counters changed since they were read.
	ErrProgressConflict = errors.New("participation progress changed concurrently")
)

// RunSummary aggregates what one batch run did.
type RunSummary struct {
	RunID                uuid.UUID `json:"run_id"`
	Job                  string    `json:"job"`
	WindowStart          time.Time `json:"window_start"`
	WindowEnd            time.Time `json:"window_end"`
	TransactionsSeen     int       `json:"transactions_seen"`
	TransactionsSkipped  int       `json:"transactions_skipped"`
	ParticipantsUpdated  int       `json:"participants_updated"`
	ParticipantsFailed   int       `json:"participants_failed"`
	ParticipantsPromoted int       `json:"participants_promoted"`
	DuplicatesSkipped    int       `json:"duplicates_skipped"`
	Errors               int       `json:"errors"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	Error                string    `json:"error,omitempty"`
}

func (s *RunSummary) Succeeded() bool {
	return s.Error == ""
}

func newRunSummary(job string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     uuid.New(),
		Job:       job,
		StartedAt: startedAt,
	}
}

// RunRecorder persists run summaries. The end of the last successful
// progress run is the start of the next window.
//
// TryLockJob serializes a job across every process sharing the database. It
// returns ErrRunInProgress while another holder has the lock; the returned
// func releases it.
type RunRecorder interface {
	TryLockJob(ctx context.Context, job string) (func(), error)
	LastSuccessfulWindowEnd(ctx context.Context, job string) (*time.Time, error)
	RecordRun(ctx context.Context, run *RunSummary) error
}
