package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"savitAPI/internal/types/challenge"
)

// ProgressUpdate is the write produced by applying one transaction to one
// participation.
type ProgressUpdate struct {
	ParticipationID int64
	TransactionID   int64

	// Previous is the state Progress was computed from. The write only lands
	// if the row still holds it.
	Previous challenge.Progress

	Progress    challenge.Progress
	Status      challenge.Status
	CompletedAt time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type ParticipationRepository struct {
	db *pgxpool.Pool
}

func NewParticipationRepository(db *pgxpool.Pool) *ParticipationRepository {
	return &ParticipationRepository{db: db}
}

const participationColumns = `
	p.id, p.challenge_id, p.user_id, p.category_id, p.type, p.status,
	p.start_date, p.end_date, p.target_count, p.target_amount::text,
	p.current_count, p.current_amount::text, p.completed_at
`

func scanParticipation(row pgx.Row) (*challenge.Participation, error) {
	var (
		p                           challenge.Participation
		typ, status                 string
		targetCount                 int64
		targetAmount, currentAmount string
	)
	err := row.Scan(
		&p.ID, &p.ChallengeID, &p.UserID, &p.CategoryID, &typ, &status,
		&p.StartDate, &p.EndDate, &targetCount, &targetAmount,
		&p.Progress.Count, &currentAmount, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = challenge.Status(status)
	target, err := decimal.NewFromString(targetAmount)
	if err != nil {
		return nil, fmt.Errorf("participation %d target amount: %w", p.ID, err)
	}
	if p.Progress.Amount, err = decimal.NewFromString(currentAmount); err != nil {
		return nil, fmt.Errorf("participation %d current amount: %w", p.ID, err)
	}
	if p.Goal, err = challenge.NewGoal(challenge.Type(typ), targetCount, target); err != nil {
		return nil, fmt.Errorf("participation %d: %w", p.ID, err)
	}
	return &p, nil
}

func collectParticipations(rows pgx.Rows) ([]challenge.Participation, error) {
	defer rows.Close()

	var out []challenge.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// FindActiveParticipantsByCategory returns the user's PARTICIPATING rows in
// the category. Date coverage is checked by the caller.
func (r *ParticipationRepository) FindActiveParticipantsByCategory(ctx context.Context, categoryID int64, userID uuid.UUID) ([]challenge.Participation, error) {
	query := `SELECT ` + participationColumns + `
		FROM challenge_participation p
		WHERE p.category_id = $1
		  AND p.user_id = $2
		  AND p.status = 'PARTICIPATING'
		ORDER BY p.id
	`

	rows, err := r.db.Query(ctx, query, categoryID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active participants for category %d: %w", categoryID, err)
	}
	return collectParticipations(rows)
}

func (r *ParticipationRepository) FindParticipatingUsersByChallengeID(ctx context.Context, challengeID int64) ([]challenge.Participation, error) {
	query := `SELECT ` + participationColumns + `
		FROM challenge_participation p
		WHERE p.challenge_id = $1
		  AND p.status = 'PARTICIPATING'
		ORDER BY p.id
	`

	rows, err := r.db.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants of challenge %d: %w", challengeID, err)
	}
	return collectParticipations(rows)
}

func (r *ParticipationRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]challenge.Participation, error) {
	query := `SELECT ` + participationColumns + `
		FROM challenge_participation p
		WHERE p.user_id = $1
		ORDER BY p.start_date DESC, p.id DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participations for user %s: %w", userID, err)
	}
	return collectParticipations(rows)
}

func (r *ParticipationRepository) UpdateProgress(ctx context.Context, id int64, progress challenge.Progress) error {
	return updateProgress(ctx, r.db, id, progress, nil)
}

func (r *ParticipationRepository) UpdateStatusToFail(ctx context.Context, id int64, progress challenge.Progress, completedAt time.Time) error {
	return updateStatusToFail(ctx, r.db, id, progress, completedAt, nil)
}

// progressGuard returns the extra WHERE clause and args that pin the row to
// the counters prev was read with. A nil prev writes unconditionally.
func progressGuard(prev *challenge.Progress, next int) (string, []any) {
	if prev == nil {
		return "", nil
	}
	clause := fmt.Sprintf(" AND current_count = $%d AND current_amount = $%d::numeric", next, next+1)
	return clause, []any{prev.Count, prev.Amount.String()}
}

func updateProgress(ctx context.Context, q execer, id int64, progress challenge.Progress, prev *challenge.Progress) error {
	guard, guardArgs := progressGuard(prev, 4)
	query := `
		UPDATE challenge_participation
		SET current_count = $2, current_amount = $3::numeric
		WHERE id = $1 AND status = 'PARTICIPATING'` + guard

	args := append([]any{id, progress.Count, progress.Amount.String()}, guardArgs...)
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update progress of participation %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipationNotActive
	}
	return nil
}

func updateStatusToFail(ctx context.Context, q execer, id int64, progress challenge.Progress, completedAt time.Time, prev *challenge.Progress) error {
	guard, guardArgs := progressGuard(prev, 5)
	query := `
		UPDATE challenge_participation
		SET status = 'FAIL', current_count = $2, current_amount = $3::numeric, completed_at = $4
		WHERE id = $1 AND status = 'PARTICIPATING'` + guard

	args := append([]any{id, progress.Count, progress.Amount.String(), completedAt}, guardArgs...)
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark participation %d as failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipationNotActive
	}
	return nil
}

// ApplyProgress records that the transaction was applied and writes the new
// state in one database transaction. It reports false when the transaction
// had already been applied to this participation, and ErrProgressConflict
// when another writer moved the counters after u.Previous was read.
func (r *ParticipationRepository) ApplyProgress(ctx context.Context, u ProgressUpdate) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO challenge_progress_applied (participation_id, transaction_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, u.ParticipationID, u.TransactionID)
	if err != nil {
		return false, fmt.Errorf("failed to record applied transaction %d: %w", u.TransactionID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if u.Status == challenge.StatusFail {
		err = updateStatusToFail(ctx, tx, u.ParticipationID, u.Progress, u.CompletedAt, &u.Previous)
	} else {
		err = updateProgress(ctx, tx, u.ParticipationID, u.Progress, &u.Previous)
	}
	if errors.Is(err, ErrParticipationNotActive) {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM challenge_participation WHERE id = $1`, u.ParticipationID).Scan(&status); err != nil {
			return false, fmt.Errorf("failed to reload participation %d: %w", u.ParticipationID, err)
		}
		if challenge.Status(status) == challenge.StatusParticipating {
			return false, ErrProgressConflict
		}
		return false, ErrParticipationNotActive
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit progress for participation %d: %w", u.ParticipationID, err)
	}
	return true, nil
}

// UpdateStatusToSuccess promotes the given rows that are still
// PARTICIPATING and returns the ids that changed.
func (r *ParticipationRepository) UpdateStatusToSuccess(ctx context.Context, ids []int64, completedAt time.Time) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		UPDATE challenge_participation
		SET status = 'SUCCESS', completed_at = $2
		WHERE id = ANY($1) AND status = 'PARTICIPATING'
		RETURNING id
	`

	rows, err := r.db.Query(ctx, query, ids, completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to promote %d participations: %w", len(ids), err)
	}
	defer rows.Close()

	var promoted []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan promoted id: %w", err)
		}
		promoted = append(promoted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to promote %d participations: %w", len(ids), err)
	}
	return promoted, nil
}

// FindNewlyFailedParticipants lists FAIL rows completed in [since, until).
func (r *ParticipationRepository) FindNewlyFailedParticipants(ctx context.Context, since, until time.Time) ([]challenge.FailedParticipant, error) {
	query := `
		SELECT p.id, p.user_id, p.challenge_id, c.title, p.type, p.completed_at
		FROM challenge_participation p
		JOIN challenges c ON c.id = p.challenge_id
		WHERE p.status = 'FAIL'
		  AND p.completed_at >= $1
		  AND p.completed_at < $2
		ORDER BY p.completed_at, p.id
	`

	rows, err := r.db.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed participants: %w", err)
	}
	defer rows.Close()

	var out []challenge.FailedParticipant
	for rows.Next() {
		var f challenge.FailedParticipant
		var typ string
		if err := rows.Scan(&f.ParticipationID, &f.UserID, &f.ChallengeID, &f.ChallengeTitle, &typ, &f.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failed participant: %w", err)
		}
		f.Status = challenge.StatusFail
		f.FailReason = failReason(challenge.Type(typ))
		out = append(out, f)
	}
	return out, rows.Err()
}

func failReason(t challenge.Type) string {
	switch t {
	case challenge.TypeCount:
		return "transaction count limit reached"
	case challenge.TypeAmount:
		return "spending limit reached"
	default:
		return "limit reached"
	}
}

func (r *ParticipationRepository) ExistsParticipation(ctx context.Context, challengeID int64, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM challenge_participation WHERE challenge_id = $1 AND user_id = $2
		)
	`, challengeID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check participation: %w", err)
	}
	return exists, nil
}

// CreateParticipation inserts p and fills in its id. A second enrollment in
// the same challenge returns ErrAlreadyParticipating.
func (r *ParticipationRepository) CreateParticipation(ctx context.Context, p *challenge.Participation) error {
	var targetCount int64
	targetAmount := decimal.Zero
	switch g := p.Goal.(type) {
	case challenge.CountGoal:
		targetCount = g.Target
	case challenge.AmountGoal:
		targetAmount = g.Target
	default:
		return fmt.Errorf("participation has no goal: %w", challenge.ErrUnknownType)
	}

	query := `
		INSERT INTO challenge_participation (
			challenge_id, user_id, category_id, type, status, start_date, end_date,
			target_count, target_amount, current_count, current_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, 0, 0)
		ON CONFLICT (challenge_id, user_id) DO NOTHING
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		p.ChallengeID, p.UserID, p.CategoryID, string(p.Type()), string(p.Status),
		p.StartDate, p.EndDate, targetCount, targetAmount.String(),
	).Scan(&p.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlreadyParticipating
	}
	if err != nil {
		return fmt.Errorf("failed to create participation: %w", err)
	}
	return nil
}
