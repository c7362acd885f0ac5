package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"savitAPI/internal/types/challenge"
)

var (
	ErrAlreadyParticipating = errors.New("user already participates in this challenge")
	ErrNotEligible          = errors.New("user is not eligible for this challenge")
	ErrChallengeClosed      = errors.New("challenge has already ended")
)

// baselineMultiplier is how many times the target a user must have spent
// in the baseline window. Users already under the limit gain nothing by joining.
var baselineMultiplier = decimal.NewFromInt(3)

type spendingHistory interface {
	FindCardIDsByUser(ctx context.Context, userID uuid.UUID) ([]int64, error)
	CountCategoryTransactions(ctx context.Context, cardIDs []int64, categoryID int64, from, to time.Time) (int64, error)
	SumCategoryAmount(ctx context.Context, cardIDs []int64, categoryID int64, from, to time.Time) (decimal.Decimal, error)
}

type ChallengeEligibilityService struct {
	history spendingHistory
	loc     *time.Location
	now     func() time.Time
}

func NewChallengeEligibilityService(history spendingHistory, loc *time.Location) *ChallengeEligibilityService {
	return &ChallengeEligibilityService{
		history: history,
		loc:     loc,
		now:     time.Now,
	}
}

// BaselineWindow returns the [from, to) days of history looked at for c,
// ending the day before enrollment.
func (s *ChallengeEligibilityService) BaselineWindow(c *challenge.Challenge) (time.Time, time.Time) {
	to := StartOfDay(s.now().In(s.loc))
	from := to.AddDate(0, 0, -7*challenge.BaselineWeeks(c.DurationWeeks))
	return from, to
}

// CheckEligibility reports whether the user's recent history in the
// challenge's category is strictly above three times the target.
func (s *ChallengeEligibilityService) CheckEligibility(ctx context.Context, c *challenge.Challenge, userID uuid.UUID) (bool, error) {
	cardIDs, err := s.history.FindCardIDsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(cardIDs) == 0 {
		return false, nil
	}

	from, to := s.BaselineWindow(c)

	switch c.Type {
	case challenge.TypeAmount:
		total, err := s.history.SumCategoryAmount(ctx, cardIDs, c.CategoryID, from, to)
		if err != nil {
			return false, err
		}
		return total.GreaterThan(c.TargetAmount.Mul(baselineMultiplier)), nil
	case challenge.TypeCount:
		total, err := s.history.CountCategoryTransactions(ctx, cardIDs, c.CategoryID, from, to)
		if err != nil {
			return false, err
		}
		return total > c.TargetCount*3, nil
	default:
		return false, fmt.Errorf("challenge %d: %w", c.ID, challenge.ErrUnknownType)
	}
}

type enrollmentChallenges interface {
	FindByID(ctx context.Context, id int64) (*challenge.Challenge, error)
	FindOpenChallenges(ctx context.Context, day time.Time) ([]challenge.Challenge, error)
	CategoryName(ctx context.Context, categoryID int64) (string, error)
}

type enrollmentStore interface {
	ExistsParticipation(ctx context.Context, challengeID int64, userID uuid.UUID) (bool, error)
	CreateParticipation(ctx context.Context, p *challenge.Participation) error
}

type eligibilityChecker interface {
	CheckEligibility(ctx context.Context, c *challenge.Challenge, userID uuid.UUID) (bool, error)
}

// ChallengeDetail is a challenge as shown to one user.
type ChallengeDetail struct {
	Challenge    *challenge.Challenge `json:"challenge"`
	CategoryName string               `json:"category_name"`
	Eligible     bool                 `json:"eligible"`
	Joined       bool                 `json:"joined"`
}

// ChallengeEnrollmentService gates and records joining a challenge.
type ChallengeEnrollmentService struct {
	challenges     enrollmentChallenges
	participations enrollmentStore
	eligibility    eligibilityChecker
	loc            *time.Location
	now            func() time.Time
}

func NewChallengeEnrollmentService(challenges enrollmentChallenges, participations enrollmentStore, eligibility eligibilityChecker, loc *time.Location) *ChallengeEnrollmentService {
	return &ChallengeEnrollmentService{
		challenges:     challenges,
		participations: participations,
		eligibility:    eligibility,
		loc:            loc,
		now:            time.Now,
	}
}

// ListOpenChallenges returns the challenges that can still be joined today.
func (s *ChallengeEnrollmentService) ListOpenChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	return s.challenges.FindOpenChallenges(ctx, StartOfDay(s.now().In(s.loc)))
}

// CheckEligibility looks the challenge up and runs the baseline check.
func (s *ChallengeEnrollmentService) CheckEligibility(ctx context.Context, challengeID int64, userID uuid.UUID) (bool, error) {
	c, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, ErrChallengeNotFound
	}
	return s.eligibility.CheckEligibility(ctx, c, userID)
}

func (s *ChallengeEnrollmentService) GetChallengeDetail(ctx context.Context, challengeID int64, userID uuid.UUID) (*ChallengeDetail, error) {
	c, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrChallengeNotFound
	}

	name, err := s.challenges.CategoryName(ctx, c.CategoryID)
	if err != nil {
		return nil, err
	}
	joined, err := s.participations.ExistsParticipation(ctx, c.ID, userID)
	if err != nil {
		return nil, err
	}
	eligible, err := s.eligibility.CheckEligibility(ctx, c, userID)
	if err != nil {
		return nil, err
	}

	return &ChallengeDetail{Challenge: c, CategoryName: name, Eligible: eligible, Joined: joined}, nil
}

// Enroll creates a PARTICIPATING row for the user with zero progress.
func (s *ChallengeEnrollmentService) Enroll(ctx context.Context, challengeID int64, userID uuid.UUID) (*challenge.Participation, error) {
	c, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrChallengeNotFound
	}

	today := StartOfDay(s.now().In(s.loc))
	if civilAfter(today, c.EndDate) {
		return nil, ErrChallengeClosed
	}

	exists, err := s.participations.ExistsParticipation(ctx, c.ID, userID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyParticipating
	}

	eligible, err := s.eligibility.CheckEligibility(ctx, c, userID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrNotEligible
	}

	goal, err := c.Goal()
	if err != nil {
		return nil, err
	}

	p := &challenge.Participation{
		ChallengeID: c.ID,
		UserID:      userID,
		CategoryID:  c.CategoryID,
		Status:      challenge.StatusParticipating,
		StartDate:   c.StartDate,
		EndDate:     c.EndDate,
		Goal:        goal,
		Progress:    challenge.Progress{Amount: decimal.Zero},
	}
	if err := s.participations.CreateParticipation(ctx, p); err != nil {
		return nil, err
	}

	log.Printf("enrollment: user %s joined challenge %d (participation %d)", userID, c.ID, p.ID)
	return p, nil
}

// civilAfter compares calendar dates only.
func civilAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
