package repositories

import (
	"context"
	"fmt"

	"github.com/fundsafe/backend/internal/db"
	"github.com/fundsafe/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

const escrowColumns = `
	id, escrow_id, title, description, terms,
	sender_id, sender_name, receiver_id, receiver_name,
	amount::text, currency, fee::text, total_amount::text,
	status, is_released, release_approved_by_sender, release_approved_by_receiver,
	dispute_status, dispute_reason, dispute_opened_by, dispute_opened_at,
	requires_compliance_approval, compliance_reference,
	expected_release_date, created_at, funded_at, released_at, updated_at, version`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var (
		e                  models.Escrow
		amount, fee, total string
	)
	err := row.Scan(&e.ID, &e.EscrowID, &e.Title, &e.Description, &e.Terms,
		&e.SenderID, &e.SenderName, &e.ReceiverID, &e.ReceiverName,
		&amount, &e.Currency, &fee, &total,
		&e.Status, &e.IsReleased, &e.ReleaseApprovedBySender, &e.ReleaseApprovedByReceiver,
		&e.DisputeStatus, &e.DisputeReason, &e.DisputeOpenedBy, &e.DisputeOpenedAt,
		&e.RequiresComplianceApproval, &e.ComplianceReference,
		&e.ExpectedReleaseDate, &e.CreatedAt, &e.FundedAt, &e.ReleasedAt, &e.UpdatedAt, &e.Version)
	if err != nil {
		return nil, mapErr(err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("escrow %s amount: %w", e.EscrowID, err)
	}
	if e.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("escrow %s fee: %w", e.EscrowID, err)
	}
	if e.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("escrow %s total: %w", e.EscrowID, err)
	}
	return &e, nil
}

// Create inserts the escrow and its initial log entries in one transaction.
// A duplicate escrow_id yields ErrConflict.
func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow, logs []models.EscrowLog) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO escrows (
				escrow_id, title, description, terms,
				sender_id, sender_name, receiver_id, receiver_name,
				amount, currency, fee, total_amount,
				status, dispute_status, requires_compliance_approval, compliance_reference,
				expected_release_date, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8,
				$9::numeric, $10, $11::numeric, $12::numeric,
				$13, $14, $15, $16,
				$17, $18, $18
			)
			RETURNING id, version
		`, e.EscrowID, e.Title, e.Description, e.Terms,
			e.SenderID, e.SenderName, e.ReceiverID, e.ReceiverName,
			e.Amount.StringFixed(2), e.Currency, e.Fee.StringFixed(2), e.TotalAmount.StringFixed(2),
			e.Status, e.DisputeStatus, e.RequiresComplianceApproval, e.ComplianceReference,
			e.ExpectedReleaseDate, e.CreatedAt,
		).Scan(&e.ID, &e.Version)
		if err != nil {
			return mapErr(err)
		}
		return insertLogs(ctx, tx, logs)
	})
}

func (r *EscrowRepo) GetByEscrowID(ctx context.Context, escrowID string) (*models.Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE escrow_id = $1`, escrowID))
}

// ListByParty returns escrows where userID is sender or receiver, newest first.
func (r *EscrowRepo) ListByParty(ctx context.Context, userID string, limit, offset int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC, escrow_id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectEscrows(rows)
}

// ListUnderCompliance returns open escrows that carry a compliance reference,
// least recently updated first.
func (r *EscrowRepo) ListUnderCompliance(ctx context.Context, limit int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = maxListLimit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE compliance_reference <> ''
		  AND status NOT IN ('released', 'refunded', 'cancelled')
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectEscrows(rows)
}

func collectEscrows(rows pgx.Rows) ([]models.Escrow, error) {
	defer rows.Close()
	var out []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Mutate locks the escrow row, applies fn and persists the result together
// with the returned log entries. Nothing is written when fn fails.
func (r *EscrowRepo) Mutate(ctx context.Context, escrowID string, fn func(e *models.Escrow) ([]models.EscrowLog, error)) (*models.Escrow, error) {
	var out *models.Escrow
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		e, err := scanEscrow(tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE escrow_id = $1 FOR UPDATE`, escrowID))
		if err != nil {
			return err
		}

		logs, err := fn(e)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE escrows SET
				title = $1, description = $2, terms = $3,
				status = $4, is_released = $5,
				release_approved_by_sender = $6, release_approved_by_receiver = $7,
				dispute_status = $8, dispute_reason = $9, dispute_opened_by = $10, dispute_opened_at = $11,
				requires_compliance_approval = $12, compliance_reference = $13,
				expected_release_date = $14, funded_at = $15, released_at = $16,
				updated_at = $17, version = version + 1
			WHERE id = $18 AND version = $19
		`, e.Title, e.Description, e.Terms,
			e.Status, e.IsReleased,
			e.ReleaseApprovedBySender, e.ReleaseApprovedByReceiver,
			e.DisputeStatus, e.DisputeReason, e.DisputeOpenedBy, e.DisputeOpenedAt,
			e.RequiresComplianceApproval, e.ComplianceReference,
			e.ExpectedReleaseDate, e.FundedAt, e.ReleasedAt,
			e.UpdatedAt, e.ID, e.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStaleVersion
		}
		e.Version++

		if err := insertLogs(ctx, tx, logs); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *EscrowRepo) AppendLog(ctx context.Context, entry models.EscrowLog) error {
	return insertLogs(ctx, r.pool, []models.EscrowLog{entry})
}

func (r *EscrowRepo) ListLogs(ctx context.Context, escrowID string) ([]models.EscrowLog, error) {
	return listLogs(ctx, r.pool, escrowID)
}

func newLogID(l models.EscrowLog) uuid.UUID {
	if l.ID != uuid.Nil {
		return l.ID
	}
	return uuid.New()
}
