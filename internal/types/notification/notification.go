package notification

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindChallengeSuccess Kind = "SUCCESS"
	KindChallengeFail    Kind = "FAIL"
	KindChallengeStart   Kind = "START_REMINDER"
	KindChallengeEnd     Kind = "END_REMINDER"
)

type DeviceToken struct {
	Token    string `json:"token" db:"token"`
	Platform string `json:"platform" db:"platform"`
}

// ChallengeNotification is one push queued for a participant.
type ChallengeNotification struct {
	UserID         uuid.UUID      `json:"user_id"`
	ChallengeID    int64          `json:"challenge_id"`
	ChallengeTitle string         `json:"challenge_title"`
	Kind           Kind           `json:"kind"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Data           map[string]any `json:"data,omitempty"`
	// TargetDate (YYYYMMDD) is the day the push is about. Empty means the
	// local date it is sent on.
	TargetDate string `json:"target_date,omitempty"`
}

// History records a sent challenge notification. TargetDate (YYYYMMDD) is
// the dedup key together with user, challenge and kind.
type History struct {
	ID             int64     `json:"id" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	ChallengeID    int64     `json:"challenge_id" db:"challenge_id"`
	Kind           Kind      `json:"kind" db:"notification_type"`
	ChallengeTitle string    `json:"challenge_title" db:"challenge_title"`
	TargetDate     string    `json:"target_date" db:"target_date"`
	SentAt         time.Time `json:"sent_at" db:"sent_at"`
}

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}
