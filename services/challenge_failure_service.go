package services

import (
	"context"
	"time"

	"savitAPI/internal/types/challenge"
)

type failedParticipantStore interface {
	FindNewlyFailedParticipants(ctx context.Context, since, until time.Time) ([]challenge.FailedParticipant, error)
}

// ChallengeFailureService exposes the participants who failed today so the
// notification side can tell them. It never writes.
type ChallengeFailureService struct {
	participations failedParticipantStore
	loc            *time.Location
	now            func() time.Time
}

func NewChallengeFailureService(participations failedParticipantStore, loc *time.Location) *ChallengeFailureService {
	return &ChallengeFailureService{participations: participations, loc: loc, now: time.Now}
}

// FindNewlyFailed returns FAIL participants whose completion time falls on
// today's local date.
func (s *ChallengeFailureService) FindNewlyFailed(ctx context.Context) ([]challenge.FailedParticipant, error) {
	return s.FindFailedOn(ctx, s.now().In(s.loc))
}

func (s *ChallengeFailureService) FindFailedOn(ctx context.Context, day time.Time) ([]challenge.FailedParticipant, error) {
	since := StartOfDay(day.In(s.loc))
	return s.participations.FindNewlyFailedParticipants(ctx, since, since.AddDate(0, 0, 1))
}

// FindFailedForCheckpoint returns the failures a run at boundary should
// announce: those of the boundary's day and, at midnight, also those of the
// day that just ended. Callers dedup per failure, so overlap is harmless.
func (s *ChallengeFailureService) FindFailedForCheckpoint(ctx context.Context, boundary time.Time) ([]challenge.FailedParticipant, error) {
	boundary = boundary.In(s.loc)
	days := []time.Time{boundary}
	if boundary.Equal(StartOfDay(boundary)) {
		days = append([]time.Time{boundary.AddDate(0, 0, -1)}, days...)
	}

	var out []challenge.FailedParticipant
	seen := map[int64]bool{}
	for _, day := range days {
		failed, err := s.FindFailedOn(ctx, day)
		if err != nil {
			return nil, err
		}
		for _, f := range failed {
			if seen[f.ParticipationID] {
				continue
			}
			seen[f.ParticipationID] = true
			out = append(out, f)
		}
	}
	return out, nil
}
