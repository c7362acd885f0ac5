package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"savitAPI/internal/types/challenge"
)

var ErrChallengeNotFound = errors.New("challenge not found")

type completionChallenges interface {
	FindByID(ctx context.Context, id int64) (*challenge.Challenge, error)
	FindChallengesEndingOnDate(ctx context.Context, day time.Time) ([]challenge.Challenge, error)
}

type completionStore interface {
	FindParticipatingUsersByChallengeID(ctx context.Context, challengeID int64) ([]challenge.Participation, error)
	UpdateStatusToSuccess(ctx context.Context, ids []int64, completedAt time.Time) ([]int64, error)
}

// SuccessNotifier is told about participants promoted to SUCCESS.
type SuccessNotifier interface {
	NotifyChallengeSuccess(ctx context.Context, c *challenge.Challenge, participants []challenge.Participation)
}

// ChallengeCompletionService promotes participants still under their limit
// when a challenge ends.
type ChallengeCompletionService struct {
	challenges     completionChallenges
	participations completionStore
	runs           RunRecorder
	notifier       SuccessNotifier
	loc            *time.Location
	now            func() time.Time

	mu sync.Mutex
}

func NewChallengeCompletionService(challenges completionChallenges, participations completionStore, runs RunRecorder, loc *time.Location) *ChallengeCompletionService {
	return &ChallengeCompletionService{
		challenges:     challenges,
		participations: participations,
		runs:           runs,
		loc:            loc,
		now:            time.Now,
	}
}

func (s *ChallengeCompletionService) SetSuccessNotifier(n SuccessNotifier) {
	s.notifier = n
}

// ProcessCompletedChallenges sweeps the challenges whose end date is today.
func (s *ChallengeCompletionService) ProcessCompletedChallenges(ctx context.Context) (*RunSummary, error) {
	return s.ProcessChallengesEndingOn(ctx, s.now().In(s.loc))
}

// ProcessChallengesEndingOn sweeps the challenges whose end date is day's
// calendar date. One challenge failing does not stop the others.
func (s *ChallengeCompletionService) ProcessChallengesEndingOn(ctx context.Context, day time.Time) (*RunSummary, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	unlock, err := s.runs.TryLockJob(ctx, JobCompletion)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock completion job: %w", err)
	}
	defer unlock()

	summary := newRunSummary(JobCompletion, s.now())
	day = StartOfDay(day.In(s.loc))
	summary.WindowEnd = day

	challenges, err := s.challenges.FindChallengesEndingOnDate(ctx, day)
	if err != nil {
		return summary, s.finishFailed(ctx, summary, fmt.Errorf("failed to load challenges ending %s: %w", day.Format("2006-01-02"), err))
	}
	if len(challenges) == 0 {
		log.Printf("completion: no challenges end on %s", day.Format("2006-01-02"))
	}

	completedAt := s.now()
	for i := range challenges {
		c := &challenges[i]
		promoted, err := s.completeChallenge(ctx, c, completedAt)
		if err != nil {
			summary.Errors++
			log.Printf("completion: challenge %d: %v", c.ID, err)
			continue
		}
		summary.ParticipantsPromoted += promoted
	}

	summary.FinishedAt = s.now()
	if err := s.runs.RecordRun(ctx, summary); err != nil {
		log.Printf("completion: could not record run %s: %v", summary.RunID, err)
	}

	log.Printf("completion: %d challenges ending %s, %d participants promoted, %d errors",
		len(challenges), day.Format("2006-01-02"), summary.ParticipantsPromoted, summary.Errors)
	return summary, nil
}

// ProcessSpecificChallenge promotes the remaining participants of one
// challenge regardless of its end date and returns how many were promoted.
func (s *ChallengeCompletionService) ProcessSpecificChallenge(ctx context.Context, challengeID int64) (int, error) {
	c, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, ErrChallengeNotFound
	}
	return s.completeChallenge(ctx, c, s.now())
}

func (s *ChallengeCompletionService) completeChallenge(ctx context.Context, c *challenge.Challenge, completedAt time.Time) (int, error) {
	participants, err := s.participations.FindParticipatingUsersByChallengeID(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	if len(participants) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}

	promotedIDs, err := s.participations.UpdateStatusToSuccess(ctx, ids, completedAt)
	if err != nil {
		return 0, err
	}
	log.Printf("completion: challenge %d promoted %d of %d participants", c.ID, len(promotedIDs), len(ids))

	if s.notifier != nil && len(promotedIDs) > 0 {
		s.notifier.NotifyChallengeSuccess(ctx, c, onlyIDs(participants, promotedIDs))
	}
	return len(promotedIDs), nil
}

// onlyIDs keeps the participants whose id is in ids. Rows that failed
// between the read and the bulk update are dropped.
func onlyIDs(participants []challenge.Participation, ids []int64) []challenge.Participation {
	keep := make(map[int64]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := make([]challenge.Participation, 0, len(ids))
	for _, p := range participants {
		if keep[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

func (s *ChallengeCompletionService) finishFailed(ctx context.Context, summary *RunSummary, cause error) error {
	summary.Error = cause.Error()
	summary.FinishedAt = s.now()
	log.Printf("completion: run %s failed: %v", summary.RunID, cause)

	if err := s.runs.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
		log.Printf("completion: could not record failed run %s: %v", summary.RunID, err)
	}
	return cause
}
