package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"savitAPI/internal/types/challenge"
)

type TransactionFeed interface {
	FindTransactionsBetween(ctx context.Context, start, end time.Time) ([]challenge.TransactionEvent, error)
}

type progressStore interface {
	FindActiveParticipantsByCategory(ctx context.Context, categoryID int64, userID uuid.UUID) ([]challenge.Participation, error)
	ApplyProgress(ctx context.Context, u ProgressUpdate) (bool, error)
}

const (
	// feedOverlap re-reads rows created just before the cursor so a row that
	// committed after the previous run read its window is still seen. The
	// applied ledger drops the ones already counted.
	feedOverlap = 10 * time.Minute

	maxApplyAttempts = 3
)

// ChallengeParticipationService runs the six-hourly progress batch: it reads
// the transactions created since the previous run and moves each matching
// participant's running total, failing those that reach their limit.
type ChallengeParticipationService struct {
	feed           TransactionFeed
	participations progressStore
	runs           RunRecorder
	loc            *time.Location
	now            func() time.Time
	overlap        time.Duration

	mu sync.Mutex
}

func NewChallengeParticipationService(feed TransactionFeed, participations progressStore, runs RunRecorder, loc *time.Location) *ChallengeParticipationService {
	return &ChallengeParticipationService{
		feed:           feed,
		participations: participations,
		runs:           runs,
		loc:            loc,
		now:            time.Now,
		overlap:        feedOverlap,
	}
}

// ProcessNewTransactions runs a progress batch ending now.
func (s *ChallengeParticipationService) ProcessNewTransactions(ctx context.Context) (*RunSummary, error) {
	return s.ProcessNewTransactionsAsOf(ctx, s.now())
}

// ProcessNewTransactionsAsOf runs a progress batch over (cursor, asOf]. The
// scheduler passes the boundary it fired for. An asOf in the future is
// clamped to now. A run already in progress here or in another process
// makes this return ErrRunInProgress.
func (s *ChallengeParticipationService) ProcessNewTransactionsAsOf(ctx context.Context, asOf time.Time) (*RunSummary, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	unlock, err := s.runs.TryLockJob(ctx, JobProgress)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock progress job: %w", err)
	}
	defer unlock()

	summary := newRunSummary(JobProgress, s.now())
	if now := s.now(); asOf.After(now) {
		log.Printf("progress: as-of %s is in the future, clamping to %s",
			asOf.Format(time.RFC3339), now.Format(time.RFC3339))
		asOf = now
	}
	asOf = asOf.In(s.loc)

	cursor, err := s.runs.LastSuccessfulWindowEnd(ctx, JobProgress)
	if err != nil {
		return summary, fmt.Errorf("failed to read progress cursor: %w", err)
	}

	window := ProgressWindow(asOf, cursor)
	summary.WindowStart, summary.WindowEnd = window.Start, window.End
	if window.Empty() {
		log.Printf("progress: window (%s, %s] is empty, nothing to do",
			window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
		summary.FinishedAt = s.now()
		return summary, nil
	}

	log.Printf("progress: run %s over (%s, %s]", summary.RunID,
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))

	feedStart := window.Start
	if cursor != nil {
		feedStart = feedStart.Add(-s.overlap)
	}

	txs, err := s.feed.FindTransactionsBetween(ctx, feedStart, window.End)
	if err != nil {
		return summary, s.finishFailed(ctx, summary, fmt.Errorf("failed to load transactions: %w", err))
	}

	sortTransactions(txs)
	summary.TransactionsSeen = len(txs)

	for i := range txs {
		if err := ctx.Err(); err != nil {
			return summary, s.finishFailed(ctx, summary, fmt.Errorf("progress run interrupted: %w", err))
		}
		s.processTransaction(ctx, &txs[i], summary)
	}

	summary.FinishedAt = s.now()
	if err := s.runs.RecordRun(ctx, summary); err != nil {
		return summary, err
	}

	log.Printf("progress: run %s done: %d transactions, %d skipped, %d participants updated, %d failed, %d duplicates, %d errors",
		summary.RunID, summary.TransactionsSeen, summary.TransactionsSkipped,
		summary.ParticipantsUpdated, summary.ParticipantsFailed, summary.DuplicatesSkipped, summary.Errors)
	return summary, nil
}

// finishFailed records a run that could not complete. The cursor does not
// move, so the next run picks up the same window again.
func (s *ChallengeParticipationService) finishFailed(ctx context.Context, summary *RunSummary, cause error) error {
	summary.Error = cause.Error()
	summary.FinishedAt = s.now()
	log.Printf("progress: run %s failed: %v", summary.RunID, cause)

	if err := s.runs.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
		log.Printf("progress: could not record failed run %s: %v", summary.RunID, err)
	}
	return cause
}

// processTransaction applies one transaction to every matching participant.
// Failures are logged and counted and never stop the run.
func (s *ChallengeParticipationService) processTransaction(ctx context.Context, tx *challenge.TransactionEvent, summary *RunSummary) {
	if tx.Cancelled {
		summary.TransactionsSkipped++
		return
	}
	if tx.CategoryID == nil {
		summary.TransactionsSkipped++
		return
	}

	usedOn, err := tx.UsedOn()
	if err != nil {
		usedOn = tx.CreatedAt.In(s.loc)
		log.Printf("progress: transaction %d: %v, using creation date %s", tx.ID, err, usedOn.Format("2006-01-02"))
	}

	participants, err := s.participations.FindActiveParticipantsByCategory(ctx, *tx.CategoryID, tx.UserID)
	if err != nil {
		summary.Errors++
		log.Printf("progress: transaction %d: %v", tx.ID, err)
		return
	}

	for i := range participants {
		if !participants[i].Covers(usedOn) {
			continue
		}
		s.applyTransaction(ctx, tx, participants[i], summary)
	}
}

// applyTransaction writes tx into p's counters. When another writer moved
// the counters first, p is reloaded and the step recomputed.
func (s *ChallengeParticipationService) applyTransaction(ctx context.Context, tx *challenge.TransactionEvent, p challenge.Participation, summary *RunSummary) {
	for attempt := 1; ; attempt++ {
		result := CalculateProgress(&p, tx)
		update := ProgressUpdate{
			ParticipationID: p.ID,
			TransactionID:   tx.ID,
			Previous:        p.Progress,
			Progress:        result.Updated,
			Status:          result.NewStatus,
		}
		if result.NewStatus == challenge.StatusFail {
			update.CompletedAt = s.now()
		}

		applied, err := s.participations.ApplyProgress(ctx, update)
		switch {
		case errors.Is(err, ErrProgressConflict) && attempt < maxApplyAttempts:
			fresh, ok, err := s.reloadParticipant(ctx, tx, p.ID)
			if err != nil {
				summary.Errors++
				log.Printf("progress: participation %d, transaction %d: %v", p.ID, tx.ID, err)
				return
			}
			if !ok {
				log.Printf("progress: participation %d finished before transaction %d was applied", p.ID, tx.ID)
				return
			}
			log.Printf("progress: participation %d changed underneath transaction %d, retrying", p.ID, tx.ID)
			p = fresh
			continue
		case errors.Is(err, ErrParticipationNotActive):
			log.Printf("progress: participation %d finished before transaction %d was applied", p.ID, tx.ID)
			return
		case err != nil:
			summary.Errors++
			log.Printf("progress: participation %d, transaction %d: %v", p.ID, tx.ID, err)
			return
		case !applied:
			summary.DuplicatesSkipped++
			return
		}

		summary.ParticipantsUpdated++
		if result.NewStatus == challenge.StatusFail {
			summary.ParticipantsFailed++
			log.Printf("progress: participation %d failed challenge %d (count=%d amount=%s)",
				p.ID, p.ChallengeID, result.Updated.Count, result.Updated.Amount)
		}
		return
	}
}

// reloadParticipant reads p's current state. ok is false once it is no
// longer participating.
func (s *ChallengeParticipationService) reloadParticipant(ctx context.Context, tx *challenge.TransactionEvent, id int64) (challenge.Participation, bool, error) {
	participants, err := s.participations.FindActiveParticipantsByCategory(ctx, *tx.CategoryID, tx.UserID)
	if err != nil {
		return challenge.Participation{}, false, err
	}
	for _, p := range participants {
		if p.ID == id {
			return p, true, nil
		}
	}
	return challenge.Participation{}, false, nil
}

// sortTransactions orders by use time so each participant sees spend in the
// order it happened.
func sortTransactions(txs []challenge.TransactionEvent) {
	sort.SliceStable(txs, func(i, j int) bool {
		ki, kj := txs[i].SortKey(), txs[j].SortKey()
		if ki != kj {
			return ki < kj
		}
		return txs[i].ID < txs[j].ID
	})
}
