package services

import (
	"context"
	"time"

	"github.com/fundsafe/backend/internal/models"
	"github.com/google/uuid"
)

// EscrowStore persists escrows together with their audit trail.
//
// Mutate loads the escrow under a row lock, runs fn on it and, when fn
// succeeds, writes the escrow and appends the returned entries in the same
// transaction. When fn fails nothing is written and fn's error is returned.
type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow, logs []models.EscrowLog) error
	GetByEscrowID(ctx context.Context, escrowID string) (*models.Escrow, error)
	ListByParty(ctx context.Context, userID string, limit, offset int) ([]models.Escrow, error)
	ListUnderCompliance(ctx context.Context, limit int) ([]models.Escrow, error)
	Mutate(ctx context.Context, escrowID string, fn func(e *models.Escrow) ([]models.EscrowLog, error)) (*models.Escrow, error)
	AppendLog(ctx context.Context, entry models.EscrowLog) error
	ListLogs(ctx context.Context, escrowID string) ([]models.EscrowLog, error)
}

// TacStore persists TAC codes. MarkUsed reports false when the code was
// already consumed or expired by the time of the update.
type TacStore interface {
	Create(ctx context.Context, t *models.TacCode) error
	CodeInUse(ctx context.Context, userID, purpose, code string, now time.Time) (bool, error)
	Find(ctx context.Context, userID, purpose, code string) (*models.TacCode, error)
	HasActive(ctx context.Context, userID, purpose string, now time.Time) (bool, error)
	MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// ComplianceClient is the external compliance service.
type ComplianceClient interface {
	SubmitRequest(ctx context.Context, req ComplianceRequest) (*ComplianceSubmission, error)
	VerifyTAC(ctx context.Context, reference, code string) (*ComplianceTACResult, error)
	GetStatus(ctx context.Context, reference string) (string, error)
}

// StatusCache caches compliance statuses by reference.
type StatusCache interface {
	Get(ctx context.Context, reference string) (string, bool, error)
	Set(ctx context.Context, reference, status string, ttl time.Duration) error
}

// Notifier hands a message to the delivery service. It never fails the
// caller; the result only reports whether the message was handed off.
type Notifier interface {
	Send(ctx context.Context, to, template string, data map[string]any) bool
}
