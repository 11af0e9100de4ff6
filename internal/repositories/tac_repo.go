package repositories

import (
	"context"
	"time"

	"github.com/fundsafe/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TacRepo struct {
	pool *pgxpool.Pool
}

func NewTacRepo(pool *pgxpool.Pool) *TacRepo {
	return &TacRepo{pool: pool}
}

func (r *TacRepo) Create(ctx context.Context, t *models.TacCode) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tac_codes (user_id, code, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, t.UserID, t.Code, t.Purpose, t.ExpiresAt, t.CreatedAt).Scan(&t.ID)
	return mapErr(err)
}

// CodeInUse reports whether an unused, unexpired row already holds code.
func (r *TacRepo) CodeInUse(ctx context.Context, userID, purpose, code string, now time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM tac_codes
			WHERE user_id = $1 AND purpose = $2 AND code = $3
			  AND NOT is_used AND expires_at >= $4
		)
	`, userID, purpose, code, now).Scan(&exists)
	return exists, err
}

// Find returns the unused row for code if there is one, otherwise the most
// recent used one.
func (r *TacRepo) Find(ctx context.Context, userID, purpose, code string) (*models.TacCode, error) {
	var t models.TacCode
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, code, purpose, is_used, expires_at, created_at
		FROM tac_codes
		WHERE user_id = $1 AND purpose = $2 AND code = $3
		ORDER BY is_used, created_at DESC
		LIMIT 1
	`, userID, purpose, code).Scan(&t.ID, &t.UserID, &t.Code, &t.Purpose, &t.IsUsed, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *TacRepo) HasActive(ctx context.Context, userID, purpose string, now time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM tac_codes
			WHERE user_id = $1 AND purpose = $2 AND NOT is_used AND expires_at >= $3
		)
	`, userID, purpose, now).Scan(&exists)
	return exists, err
}

// MarkUsed consumes the code. The conditional update is the single point of
// truth under concurrency: only one caller sees true.
func (r *TacRepo) MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tac_codes
		SET is_used = true, used_at = $2
		WHERE id = $1 AND NOT is_used AND expires_at >= $2
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
