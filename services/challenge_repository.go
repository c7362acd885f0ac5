package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"savitAPI/internal/types/challenge"
)

type ChallengeRepository struct {
	db *pgxpool.Pool
}

func NewChallengeRepository(db *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

const challengeColumns = `
	id, title, description, start_date, end_date, entry_fee::text, type,
	target_count, target_amount::text, duration_weeks, category_id, created_at
`

func scanChallenge(row pgx.Row) (*challenge.Challenge, error) {
	var (
		c                          challenge.Challenge
		typ, entryFee, targetAmount string
	)
	err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.StartDate, &c.EndDate, &entryFee, &typ,
		&c.TargetCount, &targetAmount, &c.DurationWeeks, &c.CategoryID, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Type = challenge.Type(typ)
	if c.EntryFee, err = decimal.NewFromString(entryFee); err != nil {
		return nil, fmt.Errorf("challenge %d entry fee: %w", c.ID, err)
	}
	if c.TargetAmount, err = decimal.NewFromString(targetAmount); err != nil {
		return nil, fmt.Errorf("challenge %d target amount: %w", c.ID, err)
	}
	return &c, nil
}

// FindByID returns nil, nil when the challenge does not exist.
func (r *ChallengeRepository) FindByID(ctx context.Context, id int64) (*challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`

	c, err := scanChallenge(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge %d: %w", id, err)
	}
	return c, nil
}

func (r *ChallengeRepository) FindChallengesEndingOnDate(ctx context.Context, day time.Time) ([]challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE end_date = $1::date ORDER BY id`
	return r.queryChallenges(ctx, query, day.Format("2006-01-02"))
}

func (r *ChallengeRepository) FindChallengesStartingOnDate(ctx context.Context, day time.Time) ([]challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE start_date = $1::date ORDER BY id`
	return r.queryChallenges(ctx, query, day.Format("2006-01-02"))
}

// FindOpenChallenges lists challenges that have not ended before day.
func (r *ChallengeRepository) FindOpenChallenges(ctx context.Context, day time.Time) ([]challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE end_date >= $1::date ORDER BY start_date, id`
	return r.queryChallenges(ctx, query, day.Format("2006-01-02"))
}

func (r *ChallengeRepository) queryChallenges(ctx context.Context, query string, args ...any) ([]challenge.Challenge, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query challenges: %w", err)
	}
	defer rows.Close()

	var out []challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CategoryName returns "" when the category is unknown.
func (r *ChallengeRepository) CategoryName(ctx context.Context, categoryID int64) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, `SELECT name FROM categories WHERE id = $1`, categoryID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get category %d: %w", categoryID, err)
	}
	return name, nil
}
