package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"savitAPI/internal/types/challenge"
	"savitAPI/internal/types/notification"
)

type reminderChallenges interface {
	FindChallengesStartingOnDate(ctx context.Context, day time.Time) ([]challenge.Challenge, error)
	FindChallengesEndingOnDate(ctx context.Context, day time.Time) ([]challenge.Challenge, error)
}

type reminderStore interface {
	FindParticipatingUsersByChallengeID(ctx context.Context, challengeID int64) ([]challenge.Participation, error)
}

// ReminderNotifier queues start and end reminders.
type ReminderNotifier interface {
	NotifyChallengeReminders(ctx context.Context, c *challenge.Challenge, kind notification.Kind, participants []challenge.Participation) int
}

// ChallengeReminderService tells participants the evening before a challenge
// starts or ends.
type ChallengeReminderService struct {
	challenges     reminderChallenges
	participations reminderStore
	notifier       ReminderNotifier
	loc            *time.Location
}

func NewChallengeReminderService(challenges reminderChallenges, participations reminderStore, notifier ReminderNotifier, loc *time.Location) *ChallengeReminderService {
	return &ChallengeReminderService{
		challenges:     challenges,
		participations: participations,
		notifier:       notifier,
		loc:            loc,
	}
}

// SendReminders queues reminders for challenges starting or ending the day
// after now and returns how many were queued. A challenge whose participants
// cannot be loaded is logged and skipped.
func (s *ChallengeReminderService) SendReminders(ctx context.Context, now time.Time) (int, error) {
	tomorrow := StartOfDay(now.In(s.loc)).AddDate(0, 0, 1)

	starting, err := s.challenges.FindChallengesStartingOnDate(ctx, tomorrow)
	if err != nil {
		return 0, fmt.Errorf("failed to load challenges starting %s: %w", tomorrow.Format("2006-01-02"), err)
	}
	ending, err := s.challenges.FindChallengesEndingOnDate(ctx, tomorrow)
	if err != nil {
		return 0, fmt.Errorf("failed to load challenges ending %s: %w", tomorrow.Format("2006-01-02"), err)
	}

	queued := s.remind(ctx, starting, notification.KindChallengeStart)
	queued += s.remind(ctx, ending, notification.KindChallengeEnd)

	log.Printf("reminders: %d starting and %d ending on %s, %d queued",
		len(starting), len(ending), tomorrow.Format("2006-01-02"), queued)
	return queued, nil
}

func (s *ChallengeReminderService) remind(ctx context.Context, challenges []challenge.Challenge, kind notification.Kind) int {
	queued := 0
	for i := range challenges {
		c := &challenges[i]
		participants, err := s.participations.FindParticipatingUsersByChallengeID(ctx, c.ID)
		if err != nil {
			log.Printf("reminders: challenge %d: %v", c.ID, err)
			continue
		}
		if len(participants) == 0 {
			continue
		}
		queued += s.notifier.NotifyChallengeReminders(ctx, c, kind, participants)
	}
	return queued
}
