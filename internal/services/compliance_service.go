package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fundsafe/backend/internal/apperr"
	"github.com/fundsafe/backend/internal/clock"
	"github.com/fundsafe/backend/internal/escrowfsm"
	"github.com/fundsafe/backend/internal/events"
	"github.com/fundsafe/backend/internal/models"
	"github.com/fundsafe/backend/internal/rbac"
	"go.uber.org/zap"
)

// Compliance request types
const (
	ComplianceRequestRelease = "release"
	ComplianceRequestDispute = "dispute"
	ComplianceRequestManual  = "manual"
)

const ComplianceStatusUnknown = "unknown"

type ComplianceStatus struct {
	EscrowID                   string `json:"escrow_id"`
	Reference                  string `json:"reference,omitempty"`
	Status                     string `json:"status"`
	RequiresComplianceApproval bool   `json:"requires_compliance_approval"`
	Cached                     bool   `json:"cached"`
}

type ComplianceService struct {
	store     EscrowStore
	client    ComplianceClient
	tacs      *TacService
	cache     StatusCache
	publisher events.Publisher
	clock     clock.Clock
	statusTTL time.Duration
	log       *zap.Logger

	mu         sync.Mutex
	lastSynced map[string]string // reference -> status seen by SyncStatuses
}

func NewComplianceService(
	store EscrowStore,
	client ComplianceClient,
	tacs *TacService,
	cache StatusCache,
	publisher events.Publisher,
	clk clock.Clock,
	statusTTL time.Duration,
	log *zap.Logger,
) *ComplianceService {
	if statusTTL <= 0 {
		statusTTL = 30 * time.Second
	}
	return &ComplianceService{
		store:      store,
		client:     client,
		tacs:       tacs,
		cache:      cache,
		publisher:  publisher,
		clock:      clk,
		statusTTL:  statusTTL,
		log:        log,
		lastSynced: make(map[string]string),
	}
}

// Escalate submits the escrow for compliance review and stores the returned
// reference. The submission happens under the escrow row lock; when it fails
// nothing is written and the error is EscalationFailed.
func (s *ComplianceService) Escalate(ctx context.Context, escrowID string, actor models.Actor, requestType, reason string) (string, error) {
	requestType = strings.TrimSpace(requestType)
	if requestType == "" {
		requestType = ComplianceRequestManual
	}
	switch requestType {
	case ComplianceRequestRelease, ComplianceRequestDispute, ComplianceRequestManual:
	default:
		return "", apperr.Validation("invalid request type %q", requestType)
	}

	var before string
	e, err := s.store.Mutate(ctx, escrowID, func(e *models.Escrow) ([]models.EscrowLog, error) {
		before = e.Status
		if err := escrowfsm.CanEscalate(e, actor); err != nil {
			return nil, err
		}
		return s.escalate(ctx, e, actor, requestType, reason)
	})
	if err != nil {
		return "", err
	}

	publishEscrowEvent(ctx, s.publisher, s.log, e, before, actor, []string{models.EscrowActionComplianceRequested})
	return e.ComplianceReference, nil
}

// escalate calls the compliance service for e, which must be locked by the
// caller, and records the reference on success.
func (s *ComplianceService) escalate(ctx context.Context, e *models.Escrow, actor models.Actor, requestType, reason string) ([]models.EscrowLog, error) {
	sub, err := s.client.SubmitRequest(ctx, ComplianceRequest{
		AppObjectRef: e.EscrowID,
		RequestType:  requestType,
		Metadata: map[string]any{
			"amount":         e.Amount.StringFixed(2),
			"currency":       e.Currency,
			"sender_id":      e.SenderID,
			"receiver_id":    e.ReceiverID,
			"status":         e.Status,
			"dispute_status": e.DisputeStatus,
			"reason":         reason,
			"requested_by":   actor.ID,
		},
	})
	if err != nil {
		s.log.Warn("compliance escalation failed",
			zap.String("escrow_id", e.EscrowID),
			zap.String("request_type", requestType),
			zap.Error(err),
		)
		return nil, apperr.Wrap(apperr.KindEscalationFailed, err, "compliance escalation failed for %s", e.EscrowID)
	}

	s.log.Info("compliance review requested",
		zap.String("escrow_id", e.EscrowID),
		zap.String("reference", sub.Reference),
		zap.Bool("requires_action", sub.RequiresAction),
	)
	return escrowfsm.RecordEscalation(e, actor, sub.Reference, requestType, s.clock.Now()), nil
}

// VerifyTACForRelease releases an escrow under compliance review once the
// compliance service confirms the code for the escrow's reference, bypassing
// the dual approval.
func (s *ComplianceService) VerifyTACForRelease(ctx context.Context, escrowID, code string, actor models.Actor) (*models.Escrow, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("code is required")
	}

	var before string
	e, err := s.store.Mutate(ctx, escrowID, func(e *models.Escrow) ([]models.EscrowLog, error) {
		before = e.Status
		if !rbac.Can(e, actor, rbac.PermComplianceTAC) {
			return nil, apperr.Unauthorized("only a party or an admin can release under compliance")
		}
		if e.ComplianceReference == "" {
			return nil, apperr.InvalidState("escrow has no compliance reference")
		}
		now := s.clock.Now()
		// Check the release guards on a copy so a code is not burned on an
		// escrow that cannot be released.
		if _, err := escrowfsm.ComplianceRelease(e.Clone(), actor, now); err != nil {
			return nil, err
		}
		if err := s.verifyCode(ctx, e, actor, code); err != nil {
			return nil, err
		}
		return escrowfsm.ComplianceRelease(e, actor, now)
	})
	if err != nil {
		return nil, err
	}

	publishEscrowEvent(ctx, s.publisher, s.log, e, before, actor,
		[]string{models.EscrowActionReleased, models.EscrowActionComplianceApproved})
	return e, nil
}

// verifyCode accepts only a code the compliance service approved for the
// escrow's reference. When the code was also delivered to the actor as a local
// transaction TAC it is consumed here so it cannot be replayed.
func (s *ComplianceService) verifyCode(ctx context.Context, e *models.Escrow, actor models.Actor, code string) error {
	res, err := s.client.VerifyTAC(ctx, e.ComplianceReference, code)
	if err != nil {
		return apperr.Wrap(apperr.KindEscalationFailed, err, "compliance tac check failed")
	}
	if !res.Success || !res.Valid {
		s.log.Warn("compliance release code rejected",
			zap.String("escrow_id", e.EscrowID),
			zap.String("reference", e.ComplianceReference),
			zap.String("actor_id", actor.ID),
		)
		return apperr.New(apperr.KindMismatch, "code does not match")
	}

	if s.tacs == nil {
		return nil
	}
	err = s.tacs.Verify(ctx, actor.ID, models.TacPurposeTransaction, code)
	if err == nil || errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrMismatch) {
		return nil
	}
	return err
}

// GetStatus returns the compliance service's view of the escrow. Lookup and
// cache failures degrade to "unknown".
func (s *ComplianceService) GetStatus(ctx context.Context, escrowID string, actor models.Actor) (*ComplianceStatus, error) {
	e, err := s.store.GetByEscrowID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(e, actor, rbac.PermView) {
		return nil, apperr.Unauthorized("escrow is not visible to this user")
	}

	st := &ComplianceStatus{
		EscrowID:                   e.EscrowID,
		Reference:                  e.ComplianceReference,
		Status:                     ComplianceStatusUnknown,
		RequiresComplianceApproval: e.RequiresComplianceApproval,
	}
	if e.ComplianceReference == "" {
		return st, nil
	}

	if cached, ok := s.cachedStatus(ctx, e.ComplianceReference); ok {
		st.Status = cached
		st.Cached = true
		return st, nil
	}

	status, err := s.fetchStatus(ctx, e.ComplianceReference)
	if err != nil {
		return st, nil
	}
	st.Status = status
	return st, nil
}

// SyncStatuses refreshes the cached status of every open escrow under review
// and publishes an event for each status that changed since the previous sync.
// The first sighting of a reference is recorded without an event. References
// that left the batch (terminal escrows among them) are forgotten.
func (s *ComplianceService) SyncStatuses(ctx context.Context, limit int) (int, error) {
	escrows, err := s.store.ListUnderCompliance(ctx, limit)
	if err != nil {
		return 0, err
	}
	s.forgetMissing(escrows)

	changed := 0
	for i := range escrows {
		e := &escrows[i]
		status, err := s.fetchStatus(ctx, e.ComplianceReference)
		if err != nil {
			continue
		}
		s.mu.Lock()
		prev, seen := s.lastSynced[e.ComplianceReference]
		s.lastSynced[e.ComplianceReference] = status
		s.mu.Unlock()
		if !seen || prev == status {
			continue
		}
		changed++
		s.log.Info("compliance status changed",
			zap.String("escrow_id", e.EscrowID),
			zap.String("reference", e.ComplianceReference),
			zap.String("from", prev),
			zap.String("to", status),
		)
		_ = s.publisher.Publish(ctx, events.ChannelEscrow, events.Event{
			Type: events.EventComplianceStatusChanged,
			Payload: map[string]any{
				"escrow_id":  e.EscrowID,
				"reference":  e.ComplianceReference,
				"old_status": prev,
				"new_status": status,
				"recipients": []string{e.SenderID, e.ReceiverID},
			},
		})
	}
	return changed, nil
}

func (s *ComplianceService) forgetMissing(escrows []models.Escrow) {
	current := make(map[string]struct{}, len(escrows))
	for i := range escrows {
		current[escrows[i].ComplianceReference] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref := range s.lastSynced {
		if _, ok := current[ref]; !ok {
			delete(s.lastSynced, ref)
		}
	}
}

func (s *ComplianceService) cachedStatus(ctx context.Context, reference string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	status, ok, err := s.cache.Get(ctx, reference)
	if err != nil {
		s.log.Warn("compliance status cache read failed", zap.String("reference", reference), zap.Error(err))
		return "", false
	}
	return status, ok
}

func (s *ComplianceService) fetchStatus(ctx context.Context, reference string) (string, error) {
	status, err := s.client.GetStatus(ctx, reference)
	if err != nil {
		s.log.Warn("compliance status fetch failed", zap.String("reference", reference), zap.Error(err))
		return "", err
	}
	if status == "" {
		status = ComplianceStatusUnknown
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, reference, status, s.statusTTL); err != nil {
			s.log.Warn("compliance status cache write failed", zap.String("reference", reference), zap.Error(err))
		}
	}
	return status, nil
}
