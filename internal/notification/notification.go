package notification

import (
	"fmt"

	"savitAPI/internal/types/challenge"
	"savitAPI/internal/types/notification"
)

// ChallengeFailed builds the push sent when a participant goes over the limit.
func ChallengeFailed(p challenge.FailedParticipant) notification.ChallengeNotification {
	return notification.ChallengeNotification{
		UserID:         p.UserID,
		ChallengeID:    p.ChallengeID,
		ChallengeTitle: p.ChallengeTitle,
		Kind:           notification.KindChallengeFail,
		Title:          "😢 Challenge failed",
		Body:           fmt.Sprintf("You went over the limit for '%s'. Better luck next time!", p.ChallengeTitle),
		Data: map[string]any{
			"type":         "challenge_fail",
			"challenge_id": p.ChallengeID,
		},
	}
}

// ChallengeSucceeded builds the push sent when a challenge ends with the
// participant still under the limit.
func ChallengeSucceeded(c *challenge.Challenge, p *challenge.Participation) notification.ChallengeNotification {
	return notification.ChallengeNotification{
		UserID:         p.UserID,
		ChallengeID:    c.ID,
		ChallengeTitle: c.Title,
		Kind:           notification.KindChallengeSuccess,
		Title:          "🎉 Challenge complete!",
		Body:           fmt.Sprintf("You finished '%s' within the limit.", c.Title),
		Data: map[string]any{
			"type":         "challenge_success",
			"challenge_id": c.ID,
		},
	}
}

// ChallengeStartsTomorrow reminds an enrolled user the night before day one.
func ChallengeStartsTomorrow(c *challenge.Challenge, p *challenge.Participation) notification.ChallengeNotification {
	return notification.ChallengeNotification{
		UserID:         p.UserID,
		ChallengeID:    c.ID,
		ChallengeTitle: c.Title,
		Kind:           notification.KindChallengeStart,
		Title:          fmt.Sprintf("🔥 [%s] starts tomorrow!", c.Title),
		Body:           "Ready? Your new challenge begins tomorrow 💪",
		Data: map[string]any{
			"type":         "challenge_start",
			"challenge_id": c.ID,
		},
	}
}

// ChallengeEndsTomorrow reminds a participant still in the running that
// tomorrow is the last day.
func ChallengeEndsTomorrow(c *challenge.Challenge, p *challenge.Participation) notification.ChallengeNotification {
	return notification.ChallengeNotification{
		UserID:         p.UserID,
		ChallengeID:    c.ID,
		ChallengeTitle: c.Title,
		Kind:           notification.KindChallengeEnd,
		Title:          fmt.Sprintf("⏰ [%s] ends tomorrow!", c.Title),
		Body:           "Tomorrow is the last day. Stay under the limit 🏁",
		Data: map[string]any{
			"type":         "challenge_end",
			"challenge_id": c.ID,
		},
	}
}
