package challenge

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeCount  Type = "COUNT"
	TypeAmount Type = "AMOUNT"
)

type Status string

const (
	StatusParticipating Status = "PARTICIPATING"
	StatusSuccess       Status = "SUCCESS"
	StatusFail          Status = "FAIL"
)

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFail
}

var ErrUnknownType = errors.New("unknown challenge type")

type Challenge struct {
	ID            int64           `json:"id" db:"id"`
	Title         string          `json:"title" db:"title"`
	Description   string          `json:"description" db:"description"`
	StartDate     time.Time       `json:"start_date" db:"start_date"`
	EndDate       time.Time       `json:"end_date" db:"end_date"`
	EntryFee      decimal.Decimal `json:"entry_fee" db:"entry_fee"`
	Type          Type            `json:"type" db:"type"`
	TargetCount   int64           `json:"target_count" db:"target_count"`
	TargetAmount  decimal.Decimal `json:"target_amount" db:"target_amount"`
	DurationWeeks int             `json:"duration_weeks" db:"duration_weeks"`
	CategoryID    int64           `json:"category_id" db:"category_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Goal builds the typed goal from the challenge's target columns.
func (c *Challenge) Goal() (Goal, error) {
	return NewGoal(c.Type, c.TargetCount, c.TargetAmount)
}

// Progress is a participant's running total. Only the half matching the
// goal type moves.
type Progress struct {
	Count  int64           `json:"current_count"`
	Amount decimal.Decimal `json:"current_amount"`
}

type Participation struct {
	ID          int64      `json:"id" db:"id"`
	ChallengeID int64      `json:"challenge_id" db:"challenge_id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	CategoryID  int64      `json:"category_id" db:"category_id"`
	Status      Status     `json:"status" db:"status"`
	StartDate   time.Time  `json:"start_date" db:"start_date"`
	EndDate     time.Time  `json:"end_date" db:"end_date"`
	Goal        Goal       `json:"-"`
	Progress    Progress   `json:"progress"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

func (p *Participation) Type() Type {
	if p.Goal == nil {
		return ""
	}
	return p.Goal.Type()
}

// Covers reports whether day falls inside the participation's inclusive
// [StartDate, EndDate] calendar range. Only the date fields are compared.
func (p *Participation) Covers(day time.Time) bool {
	d := civilDate(day)
	return d >= civilDate(p.StartDate) && d <= civilDate(p.EndDate)
}

func civilDate(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// TransactionEvent is a categorized card transaction as handed over by the
// ingestion side.
type TransactionEvent struct {
	ID         int64     `json:"id" db:"id"`
	CardID     int64     `json:"card_id" db:"card_id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	CategoryID *int64    `json:"category_id,omitempty" db:"category_id"`
	UsedAmount string    `json:"used_amount" db:"used_amount"`
	UsedDate   string    `json:"used_date" db:"used_date"` // YYYYMMDD
	UsedTime   string    `json:"used_time" db:"used_time"` // HHMMSS
	Cancelled  bool      `json:"cancelled" db:"cancelled"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// UsedOn parses UsedDate as a calendar day.
func (t *TransactionEvent) UsedOn() (time.Time, error) {
	d, err := time.Parse("20060102", t.UsedDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid used date %q: %w", t.UsedDate, err)
	}
	return d, nil
}

// SortKey orders transactions by when they were made, falling back to id.
func (t *TransactionEvent) SortKey() string {
	return t.UsedDate + t.UsedTime
}

type FailedParticipant struct {
	ParticipationID int64     `json:"participation_id"`
	UserID          uuid.UUID `json:"user_id"`
	ChallengeID     int64     `json:"challenge_id"`
	ChallengeTitle  string    `json:"challenge_title"`
	Status          Status    `json:"status"`
	FailReason      string    `json:"fail_reason"`
	CompletedAt     time.Time `json:"completed_at"`
}
