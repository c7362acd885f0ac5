package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"savitAPI/internal/types/challenge"
)

// CardTransactionRepository reads the ingested card transactions. It is the
// transaction feed for progress runs and the history source for eligibility.
type CardTransactionRepository struct {
	db *pgxpool.Pool
}

func NewCardTransactionRepository(db *pgxpool.Pool) *CardTransactionRepository {
	return &CardTransactionRepository{db: db}
}

// FindTransactionsBetween returns transactions created in (start, end].
func (r *CardTransactionRepository) FindTransactionsBetween(ctx context.Context, start, end time.Time) ([]challenge.TransactionEvent, error) {
	query := `
		SELECT t.id, t.card_id, c.user_id, t.category_id, t.res_used_amount,
		       t.res_used_date, t.res_used_time, t.res_cancel_yn = 'Y', t.created_at
		FROM card_transactions t
		JOIN cards c ON c.id = t.card_id
		WHERE t.created_at > $1 AND t.created_at <= $2
		ORDER BY t.res_used_date, t.res_used_time, t.id
	`

	rows, err := r.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions between %s and %s: %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []challenge.TransactionEvent
	for rows.Next() {
		var t challenge.TransactionEvent
		if err := rows.Scan(
			&t.ID, &t.CardID, &t.UserID, &t.CategoryID, &t.UsedAmount,
			&t.UsedDate, &t.UsedTime, &t.Cancelled, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *CardTransactionRepository) FindCardIDsByUser(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM cards WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards for user %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountCategoryTransactions counts non-cancelled transactions used on days in [from, to).
func (r *CardTransactionRepository) CountCategoryTransactions(ctx context.Context, cardIDs []int64, categoryID int64, from, to time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM card_transactions
		WHERE card_id = ANY($1)
		  AND category_id = $2
		  AND res_used_date >= $3 AND res_used_date < $4
		  AND res_cancel_yn <> 'Y'
	`

	var n int64
	err := r.db.QueryRow(ctx, query, cardIDs, categoryID, from.Format("20060102"), to.Format("20060102")).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count category %d transactions: %w", categoryID, err)
	}
	return n, nil
}

// SumCategoryAmount sums non-cancelled spend used on days in [from, to).
// Amounts that are not plain numbers are left out, as progress runs count them as zero.
func (r *CardTransactionRepository) SumCategoryAmount(ctx context.Context, cardIDs []int64, categoryID int64, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(
			CASE WHEN btrim(res_used_amount) ~ '^[0-9]+(\.[0-9]+)?$'
			     THEN btrim(res_used_amount)::numeric
			     ELSE 0 END
		), 0)::text
		FROM card_transactions
		WHERE card_id = ANY($1)
		  AND category_id = $2
		  AND res_used_date >= $3 AND res_used_date < $4
		  AND res_cancel_yn <> 'Y'
	`

	var raw string
	err := r.db.QueryRow(ctx, query, cardIDs, categoryID, from.Format("20060102"), to.Format("20060102")).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum category %d spend: %w", categoryID, err)
	}
	return decimal.NewFromString(raw)
}
