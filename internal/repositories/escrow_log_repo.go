package repositories

import (
	"context"
	"time"

	"github.com/fundsafe/backend/internal/db"
	"github.com/fundsafe/backend/internal/models"
	"github.com/jackc/pgx/v5"
)

// insertLogs appends entries in one round trip. Entries are never updated
// or deleted once written.
func insertLogs(ctx context.Context, q db.DBTX, logs []models.EscrowLog) error {
	if len(logs) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, l := range logs {
		createdAt := l.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		b.Queue(`
			INSERT INTO escrow_logs (id, escrow_id, user_id, user_name, action, details, ip_address, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, newLogID(l), l.EscrowID, l.UserID, l.UserName, l.Action, l.Details, l.IPAddress, createdAt)
	}

	br := q.SendBatch(ctx, b)
	for range logs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return mapErr(err)
		}
	}
	return br.Close()
}

// listLogs returns an escrow's entries in insertion order.
func listLogs(ctx context.Context, q db.DBTX, escrowID string) ([]models.EscrowLog, error) {
	rows, err := q.Query(ctx, `
		SELECT id, escrow_id, user_id, user_name, action, details, ip_address, created_at
		FROM escrow_logs WHERE escrow_id = $1
		ORDER BY seq
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.EscrowLog
	for rows.Next() {
		var l models.EscrowLog
		if err := rows.Scan(&l.ID, &l.EscrowID, &l.UserID, &l.UserName, &l.Action, &l.Details, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
