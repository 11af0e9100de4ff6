package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundsafe/backend/internal/apperr"
	"github.com/fundsafe/backend/internal/clock"
	"github.com/fundsafe/backend/internal/escrowfsm"
	"github.com/fundsafe/backend/internal/events"
	"github.com/fundsafe/backend/internal/models"
	"github.com/fundsafe/backend/internal/rbac"
	"github.com/fundsafe/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const createMaxAttempts = 3

type EscrowService struct {
	store      EscrowStore
	compliance *ComplianceService
	policy     escrowfsm.Policy
	publisher  events.Publisher
	notifier   Notifier
	clock      clock.Clock
	log        *zap.Logger
}

func NewEscrowService(
	store EscrowStore,
	compliance *ComplianceService,
	policy escrowfsm.Policy,
	publisher events.Publisher,
	notifier Notifier,
	clk clock.Clock,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		store:      store,
		compliance: compliance,
		policy:     policy,
		publisher:  publisher,
		notifier:   notifier,
		clock:      clk,
		log:        log,
	}
}

type CreateEscrowInput struct {
	ReceiverID          string
	ReceiverName        string
	Amount              decimal.Decimal
	Currency            string
	Title               string
	Description         string
	Terms               string
	ExpectedReleaseDate *time.Time
}

// Create opens a pending escrow with the actor as sender. Amounts above the
// compliance threshold are flagged; no compliance call is made here.
func (s *EscrowService) Create(ctx context.Context, actor models.Actor, in CreateEscrowInput) (*models.Escrow, error) {
	params := escrowfsm.CreateParams{
		SenderID:            actor.ID,
		SenderName:          actor.DisplayName,
		ReceiverID:          in.ReceiverID,
		ReceiverName:        in.ReceiverName,
		Amount:              in.Amount,
		Currency:            in.Currency,
		Title:               in.Title,
		Description:         in.Description,
		Terms:               in.Terms,
		ExpectedReleaseDate: in.ExpectedReleaseDate,
	}

	for attempt := 0; attempt < createMaxAttempts; attempt++ {
		id, err := escrowfsm.NewEscrowID()
		if err != nil {
			return nil, err
		}
		params.EscrowID = id
		e, logs, err := s.policy.Create(params, actor, s.clock.Now())
		if err != nil {
			return nil, err
		}

		err = s.store.Create(ctx, e, logs)
		if errors.Is(err, repositories.ErrConflict) {
			s.log.Warn("escrow id collision, regenerating", zap.String("escrow_id", e.EscrowID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create escrow: %w", err)
		}

		s.log.Info("escrow created",
			zap.String("escrow_id", e.EscrowID),
			zap.String("amount", e.Amount.StringFixed(2)),
			zap.String("currency", e.Currency),
			zap.Bool("requires_compliance_approval", e.RequiresComplianceApproval),
		)
		publishEscrowEvent(ctx, s.publisher, s.log, e, "", actor, logActions(logs))
		s.notifyParties(ctx, e, actor, TemplateEscrowUpdate)
		if e.RequiresComplianceApproval && s.notifier != nil {
			s.notifier.Send(ctx, e.SenderID, TemplateComplianceHold, map[string]any{
				"escrow_id": e.EscrowID,
				"amount":    e.Amount.StringFixed(2),
				"currency":  e.Currency,
			})
		}
		return e, nil
	}
	return nil, apperr.New(apperr.KindInternal, "could not allocate a unique escrow id")
}

// Get returns the escrow and records the read in its audit log.
func (s *EscrowService) Get(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error) {
	e, err := s.store.GetByEscrowID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	entry, err := escrowfsm.Viewed(e, actor, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("append view log: %w", err)
	}
	return e, nil
}

func (s *EscrowService) List(ctx context.Context, actor models.Actor, limit, offset int) ([]models.Escrow, error) {
	return s.store.ListByParty(ctx, actor.ID, limit, offset)
}

func (s *EscrowService) Logs(ctx context.Context, escrowID string, actor models.Actor) ([]models.EscrowLog, error) {
	e, err := s.store.GetByEscrowID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(e, actor, rbac.PermView) {
		return nil, apperr.Unauthorized("escrow is not visible to this user")
	}
	return s.store.ListLogs(ctx, escrowID)
}

func (s *EscrowService) Fund(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error) {
	return s.apply(ctx, escrowID, actor, func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error) {
		return escrowfsm.Fund(e, actor, now)
	})
}

// RequestRelease records the actor's approval; the second approval releases.
func (s *EscrowService) RequestRelease(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error) {
	return s.apply(ctx, escrowID, actor, func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error) {
		return escrowfsm.RequestRelease(e, actor, now)
	})
}

func (s *EscrowService) Release(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error) {
	return s.apply(ctx, escrowID, actor, func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error) {
		if !rbac.Can(e, actor, rbac.PermView) {
			return nil, apperr.Unauthorized("escrow is not visible to this user")
		}
		return escrowfsm.Release(e, actor, now)
	})
}

// OpenDispute disputes the escrow. A dispute above the dispute threshold is
// escalated in the same transaction; if escalation fails the dispute is not
// opened either.
func (s *EscrowService) OpenDispute(ctx context.Context, escrowID string, actor models.Actor, reason string) (*models.Escrow, error) {
	return s.apply(ctx, escrowID, actor, func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error) {
		logs, err := s.policy.OpenDispute(e, actor, reason, now)
		if err != nil {
			return nil, err
		}
		if s.compliance == nil || !s.policy.DisputeNeedsEscalation(e) {
			return logs, nil
		}
		more, err := s.compliance.escalate(ctx, e, actor, ComplianceRequestDispute, reason)
		if err != nil {
			return nil, err
		}
		return append(logs, more...), nil
	})
}

func (s *EscrowService) ResolveDispute(ctx context.Context, escrowID string, actor models.Actor, outcome, note string) (*models.Escrow, error) {
	return s.apply(ctx, escrowID, actor, func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error) {
		return escrowfsm.ResolveDispute(e, actor, outcome, note, now)
	})
}

func (s *EscrowService) UpdateMetadata(ctx context.Context, escrowID string, actor models.Actor, m models.EscrowMetadata) (*models.Escrow, error) {
	return s.apply(ctx, escrowID, actor, func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error) {
		return escrowfsm.UpdateMetadata(e, actor, m, now)
	})
}

func (s *EscrowService) Cancel(ctx context.Context, escrowID string, actor models.Actor, reason string) (*models.Escrow, error) {
	return s.apply(ctx, escrowID, actor, func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error) {
		return escrowfsm.Cancel(e, actor, reason, now)
	})
}

func (s *EscrowService) Refund(ctx context.Context, escrowID string, actor models.Actor) (*models.Escrow, error) {
	return s.apply(ctx, escrowID, actor, func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error) {
		return escrowfsm.Refund(e, actor, now)
	})
}

// apply runs fn under the escrow row lock and publishes the outcome once the
// status and its audit entries are committed.
func (s *EscrowService) apply(ctx context.Context, escrowID string, actor models.Actor, fn func(e *models.Escrow, now time.Time) ([]models.EscrowLog, error)) (*models.Escrow, error) {
	var (
		before string
		logs   []models.EscrowLog
	)
	e, err := s.store.Mutate(ctx, escrowID, func(e *models.Escrow) ([]models.EscrowLog, error) {
		before = e.Status
		out, err := fn(e, s.clock.Now())
		logs = out
		return out, err
	})
	if err != nil {
		s.log.Debug("escrow mutation rejected",
			zap.String("escrow_id", escrowID),
			zap.String("actor_id", actor.ID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("escrow updated",
		zap.String("escrow_id", e.EscrowID),
		zap.String("from", before),
		zap.String("to", e.Status),
		zap.Strings("actions", logActions(logs)),
	)
	publishEscrowEvent(ctx, s.publisher, s.log, e, before, actor, logActions(logs))
	switch {
	case e.Status == models.EscrowStatusDisputed && before != e.Status:
		s.notifyParties(ctx, e, actor, TemplateDisputeOpened)
	case before != e.Status:
		s.notifyParties(ctx, e, actor, TemplateEscrowUpdate)
	}
	return e, nil
}

// notifyParties tells the other party (or both, for an admin action) about
// the escrow. Failures are logged by the notifier.
func (s *EscrowService) notifyParties(ctx context.Context, e *models.Escrow, actor models.Actor, template string) {
	if s.notifier == nil {
		return
	}
	data := map[string]any{
		"escrow_id":      e.EscrowID,
		"title":          e.Title,
		"status":         e.Status,
		"dispute_status": e.DisputeStatus,
		"amount":         e.Amount.StringFixed(2),
		"currency":       e.Currency,
	}
	for _, party := range []string{e.SenderID, e.ReceiverID} {
		if party == actor.ID {
			continue
		}
		s.notifier.Send(ctx, party, template, data)
	}
}
