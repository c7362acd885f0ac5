package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"savitAPI/internal/types/notification"
)

type ChallengeNotificationRepository struct {
	db *pgxpool.Pool
}

func NewChallengeNotificationRepository(db *pgxpool.Pool) *ChallengeNotificationRepository {
	return &ChallengeNotificationRepository{db: db}
}

func (r *ChallengeNotificationRepository) FindDeviceTokens(ctx context.Context, userID uuid.UUID) ([]notification.DeviceToken, error) {
	rows, err := r.db.Query(ctx, `SELECT token, platform FROM user_fcm_tokens WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens for user %s: %w", userID, err)
	}
	defer rows.Close()

	var tokens []notification.DeviceToken
	for rows.Next() {
		var t notification.DeviceToken
		if err := rows.Scan(&t.Token, &t.Platform); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// RegisterDeviceToken stores the token for the user, moving it over if
// another account had it.
func (r *ChallengeNotificationRepository) RegisterDeviceToken(ctx context.Context, userID uuid.UUID, token, platform string) error {
	query := `
		INSERT INTO user_fcm_tokens (user_id, token, platform, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, userID, token, platform); err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

func (r *ChallengeNotificationRepository) HistoryExists(ctx context.Context, userID uuid.UUID, challengeID int64, kind notification.Kind, targetDate string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM challenge_notification_history
			WHERE user_id = $1 AND challenge_id = $2 AND notification_type = $3 AND target_date = $4
		)
	`, userID, challengeID, string(kind), targetDate).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check notification history: %w", err)
	}
	return exists, nil
}

// RecordHistory claims the (user, challenge, kind, date) slot. It reports
// false when the slot was already taken.
func (r *ChallengeNotificationRepository) RecordHistory(ctx context.Context, h *notification.History) (bool, error) {
	query := `
		INSERT INTO challenge_notification_history (user_id, challenge_id, notification_type, challenge_title, target_date, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, challenge_id, notification_type, target_date) DO NOTHING
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query, h.UserID, h.ChallengeID, string(h.Kind), h.ChallengeTitle, h.TargetDate, h.SentAt).Scan(&h.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record notification history: %w", err)
	}
	return true, nil
}

func (r *ChallengeNotificationRepository) DeleteHistory(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM challenge_notification_history WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete notification history %d: %w", id, err)
	}
	return nil
}

func (r *ChallengeNotificationRepository) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM challenge_notification_history WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up notification history: %w", err)
	}
	return tag.RowsAffected(), nil
}
