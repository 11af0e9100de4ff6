package escrowfsm

import (
	"fmt"
	"strings"
	"time"

	"github.com/fundsafe/backend/internal/apperr"
	"github.com/fundsafe/backend/internal/models"
	"github.com/fundsafe/backend/internal/rbac"
	"github.com/shopspring/decimal"
)

// Dispute resolution outcomes
const (
	OutcomeRelease = "release"
	OutcomeRefund  = "refund"
)

type CreateParams struct {
	EscrowID            string // generated when empty
	SenderID            string
	SenderName          string
	ReceiverID          string
	ReceiverName        string
	Amount              decimal.Decimal
	Currency            string
	Title               string
	Description         string
	Terms               string
	ExpectedReleaseDate *time.Time
}

// Create builds a pending escrow.
func (p Policy) Create(params CreateParams, actor models.Actor, now time.Time) (*models.Escrow, []models.EscrowLog, error) {
	if params.SenderID == "" || params.ReceiverID == "" {
		return nil, nil, apperr.Validation("sender and receiver are required")
	}
	if params.SenderID == params.ReceiverID {
		return nil, nil, apperr.Validation("sender and receiver must differ")
	}
	if !params.Amount.IsPositive() {
		return nil, nil, apperr.Validation("amount must be greater than zero")
	}
	if params.Amount.Exponent() < -2 && !params.Amount.Equal(params.Amount.Round(2)) {
		return nil, nil, apperr.Validation("amount must have at most 2 decimal places")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if !isCurrencyCode(currency) {
		return nil, nil, apperr.Validation("currency must be a 3-letter code, got %q", params.Currency)
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, nil, apperr.Validation("title is required")
	}

	amount := params.Amount.Round(2)
	fee := p.Fee(amount)
	if amount.Add(fee).GreaterThan(MaxTotal) {
		return nil, nil, apperr.Validation("amount plus fee must not exceed %s", MaxTotal.StringFixed(2))
	}

	escrowID := params.EscrowID
	if escrowID == "" {
		var err error
		if escrowID, err = NewEscrowID(); err != nil {
			return nil, nil, err
		}
	}
	e := &models.Escrow{
		EscrowID:            escrowID,
		Title:               title,
		Description:         params.Description,
		Terms:               params.Terms,
		SenderID:            params.SenderID,
		SenderName:          params.SenderName,
		ReceiverID:          params.ReceiverID,
		ReceiverName:        params.ReceiverName,
		Amount:              amount,
		Currency:            currency,
		Fee:                 fee,
		TotalAmount:         amount.Add(fee),
		Status:              models.EscrowStatusPending,
		DisputeStatus:       models.DisputeStatusNone,
		ExpectedReleaseDate: params.ExpectedReleaseDate,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if amount.GreaterThan(p.EscrowComplianceThreshold) {
		e.RequiresComplianceApproval = true
	}

	details := fmt.Sprintf("escrow created for %s %s (fee %s)", amount.StringFixed(2), currency, fee.StringFixed(2))
	return e, []models.EscrowLog{entry(e, actor, models.EscrowActionCreated, details, now)}, nil
}

// Fund moves a pending escrow to funded. Sender only.
func Fund(e *models.Escrow, actor models.Actor, now time.Time) ([]models.EscrowLog, error) {
	if actor.ID != e.SenderID {
		return nil, apperr.Unauthorized("only the sender can fund the escrow")
	}
	if e.Status != models.EscrowStatusPending {
		return nil, apperr.InvalidState("escrow must be pending to fund, is %s", e.Status)
	}
	if err := setStatus(e, models.EscrowStatusFunded, now); err != nil {
		return nil, err
	}
	e.FundedAt = &now
	return []models.EscrowLog{entry(e, actor, models.EscrowActionFunded,
		fmt.Sprintf("funded %s %s", e.TotalAmount.StringFixed(2), e.Currency), now)}, nil
}

// RequestRelease records the actor's approval. When both parties have
// approved, the release fires in the same mutation and the single entry
// returned is the released one.
func RequestRelease(e *models.Escrow, actor models.Actor, now time.Time) ([]models.EscrowLog, error) {
	if !e.IsParty(actor.ID) {
		return nil, apperr.Unauthorized("only the sender or receiver can request release")
	}
	if e.Status != models.EscrowStatusFunded {
		return nil, apperr.InvalidState("escrow must be funded to request release, is %s", e.Status)
	}
	if e.DisputeStatus == models.DisputeStatusOpened {
		return nil, apperr.InvalidState("escrow has an open dispute")
	}

	party := rbac.RoleReceiver
	if actor.ID == e.SenderID {
		party = rbac.RoleSender
		if e.ReleaseApprovedBySender {
			return nil, apperr.InvalidState("release already approved by sender")
		}
		e.ReleaseApprovedBySender = true
	} else {
		if e.ReleaseApprovedByReceiver {
			return nil, apperr.InvalidState("release already approved by receiver")
		}
		e.ReleaseApprovedByReceiver = true
	}
	e.UpdatedAt = now

	if !bothApproved(e) {
		return []models.EscrowLog{entry(e, actor, models.EscrowActionApprovedRelease,
			fmt.Sprintf("release approved by %s", party), now)}, nil
	}
	if err := applyRelease(e, now); err != nil {
		return nil, err
	}
	return []models.EscrowLog{entry(e, actor, models.EscrowActionReleased,
		fmt.Sprintf("release approved by %s; both parties approved", party), now)}, nil
}

// Release fires a release that is already fully authorized.
func Release(e *models.Escrow, actor models.Actor, now time.Time) ([]models.EscrowLog, error) {
	if e.IsReleased {
		return nil, apperr.ErrAlreadyReleased
	}
	if e.Status != models.EscrowStatusFunded {
		return nil, apperr.InvalidState("escrow must be funded to release, is %s", e.Status)
	}
	override := e.RequiresComplianceApproval && e.ComplianceVerified
	if !bothApproved(e) && !override {
		return nil, apperr.InvalidState("release requires approval from both parties or compliance")
	}
	if err := applyRelease(e, now); err != nil {
		return nil, err
	}
	details := "released after dual approval"
	if !bothApproved(e) {
		details = "released via compliance override"
	}
	return []models.EscrowLog{entry(e, actor, models.EscrowActionReleased, details, now)}, nil
}

// ComplianceRelease releases a funded escrow whose compliance TAC was verified
// by the caller, bypassing the dual approval.
func ComplianceRelease(e *models.Escrow, actor models.Actor, now time.Time) ([]models.EscrowLog, error) {
	if e.ComplianceReference == "" {
		return nil, apperr.InvalidState("escrow has no compliance reference")
	}
	e.ComplianceVerified = true
	logs, err := Release(e, actor, now)
	e.ComplianceVerified = false
	if err != nil {
		return nil, err
	}
	return append(logs, entry(e, actor, models.EscrowActionComplianceApproved,
		fmt.Sprintf("compliance approved release, reference %s", e.ComplianceReference), now)), nil
}

// OpenDispute moves a pending or funded escrow to disputed.
func (p Policy) OpenDispute(e *models.Escrow, actor models.Actor, reason string, now time.Time) ([]models.EscrowLog, error) {
	if !e.IsParty(actor.ID) {
		return nil, apperr.Unauthorized("only the sender or receiver can open a dispute")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("dispute reason is required")
	}
	if e.Status != models.EscrowStatusPending && e.Status != models.EscrowStatusFunded {
		return nil, apperr.InvalidState("escrow must be pending or funded to dispute, is %s", e.Status)
	}
	if e.DisputeStatus == models.DisputeStatusOpened {
		return nil, apperr.InvalidState("dispute already opened")
	}
	if err := setStatus(e, models.EscrowStatusDisputed, now); err != nil {
		return nil, err
	}
	e.DisputeStatus = models.DisputeStatusOpened
	e.DisputeReason = reason
	e.DisputeOpenedBy = actor.ID
	e.DisputeOpenedAt = &now
	if e.Amount.GreaterThan(p.DisputeComplianceThreshold) {
		e.RequiresComplianceApproval = true
	}
	return []models.EscrowLog{entry(e, actor, models.EscrowActionDisputed, reason, now)}, nil
}

// DisputeNeedsEscalation reports whether an opened dispute crossed the
// threshold and has not been sent to compliance yet.
func (p Policy) DisputeNeedsEscalation(e *models.Escrow) bool {
	return e.Status == models.EscrowStatusDisputed &&
		e.Amount.GreaterThan(p.DisputeComplianceThreshold) &&
		e.ComplianceReference == ""
}

// ResolveDispute closes a dispute by releasing or refunding. Admin only.
// A dispute opened before funding holds no money and can only be closed with
// Cancel.
func ResolveDispute(e *models.Escrow, actor models.Actor, outcome, note string, now time.Time) ([]models.EscrowLog, error) {
	if !rbac.Can(e, actor, rbac.PermResolveDispute) {
		return nil, apperr.Unauthorized("only an admin can resolve disputes")
	}
	if e.Status != models.EscrowStatusDisputed {
		return nil, apperr.InvalidState("escrow is not disputed, is %s", e.Status)
	}
	if outcome != OutcomeRelease && outcome != OutcomeRefund {
		return nil, apperr.Validation("outcome must be %q or %q", OutcomeRelease, OutcomeRefund)
	}
	if e.FundedAt == nil {
		return nil, apperr.InvalidState("escrow was never funded, cancel it instead")
	}

	details := "dispute resolved"
	if note = strings.TrimSpace(note); note != "" {
		details += ": " + note
	}

	switch outcome {
	case OutcomeRelease:
		if e.IsReleased {
			return nil, apperr.ErrAlreadyReleased
		}
		if err := applyRelease(e, now); err != nil {
			return nil, err
		}
		e.DisputeStatus = models.DisputeStatusResolved
		return []models.EscrowLog{entry(e, actor, models.EscrowActionReleased, details, now)}, nil
	case OutcomeRefund:
		if err := setStatus(e, models.EscrowStatusRefunded, now); err != nil {
			return nil, err
		}
		e.DisputeStatus = models.DisputeStatusResolved
		return []models.EscrowLog{entry(e, actor, models.EscrowActionRefunded, details, now)}, nil
	default:
		return nil, apperr.Validation("outcome must be %q or %q", OutcomeRelease, OutcomeRefund)
	}
}

// Cancel withdraws an escrow. The sender may cancel before funding; an admin
// may cancel any non-terminal escrow.
func Cancel(e *models.Escrow, actor models.Actor, reason string, now time.Time) ([]models.EscrowLog, error) {
	if !rbac.Can(e, actor, rbac.PermCancel) {
		return nil, apperr.Unauthorized("only the sender or an admin can cancel")
	}
	if models.IsTerminalStatus(e.Status) {
		return nil, apperr.InvalidState("escrow is %s", e.Status)
	}
	preFunding := e.Status == models.EscrowStatusPending || e.Status == models.EscrowStatusDraft
	if !preFunding && !actor.IsAdmin() {
		return nil, apperr.InvalidState("escrow can only be cancelled by the sender before funding")
	}
	wasDisputed := e.Status == models.EscrowStatusDisputed
	if err := setStatus(e, models.EscrowStatusCancelled, now); err != nil {
		return nil, err
	}
	if wasDisputed {
		e.DisputeStatus = models.DisputeStatusResolved
	}
	details := "escrow cancelled"
	if reason = strings.TrimSpace(reason); reason != "" {
		details += ": " + reason
	}
	return []models.EscrowLog{entry(e, actor, models.EscrowActionCancelled, details, now)}, nil
}

// Refund returns funds of a funded escrow to the sender. Receiver or admin.
func Refund(e *models.Escrow, actor models.Actor, now time.Time) ([]models.EscrowLog, error) {
	if !rbac.Can(e, actor, rbac.PermRefund) {
		return nil, apperr.Unauthorized("only the receiver or an admin can refund")
	}
	if e.Status != models.EscrowStatusFunded {
		return nil, apperr.InvalidState("escrow must be funded to refund, is %s", e.Status)
	}
	if err := setStatus(e, models.EscrowStatusRefunded, now); err != nil {
		return nil, err
	}
	return []models.EscrowLog{entry(e, actor, models.EscrowActionRefunded,
		fmt.Sprintf("refunded %s %s to sender", e.TotalAmount.StringFixed(2), e.Currency), now)}, nil
}

// UpdateMetadata edits non-financial fields before funding. Sender only.
func UpdateMetadata(e *models.Escrow, actor models.Actor, m models.EscrowMetadata, now time.Time) ([]models.EscrowLog, error) {
	if actor.ID != e.SenderID {
		return nil, apperr.Unauthorized("only the sender can update the escrow")
	}
	if e.Status != models.EscrowStatusPending && e.Status != models.EscrowStatusDraft {
		return nil, apperr.InvalidState("escrow can only be updated before funding, is %s", e.Status)
	}
	if m.IsEmpty() {
		return nil, apperr.Validation("no fields to update")
	}

	var changed []string
	if m.Title != nil {
		t := strings.TrimSpace(*m.Title)
		if t == "" {
			return nil, apperr.Validation("title cannot be empty")
		}
		e.Title = t
		changed = append(changed, "title")
	}
	if m.Description != nil {
		e.Description = *m.Description
		changed = append(changed, "description")
	}
	if m.Terms != nil {
		e.Terms = *m.Terms
		changed = append(changed, "terms")
	}
	if m.ExpectedReleaseDate != nil {
		d := *m.ExpectedReleaseDate
		e.ExpectedReleaseDate = &d
		changed = append(changed, "expected_release_date")
	}
	e.UpdatedAt = now
	return []models.EscrowLog{entry(e, actor, models.EscrowActionUpdated,
		"updated "+strings.Join(changed, ", "), now)}, nil
}

// CanEscalate checks that compliance review may be requested for the escrow.
func CanEscalate(e *models.Escrow, actor models.Actor) error {
	if !rbac.Can(e, actor, rbac.PermEscalate) {
		return apperr.Unauthorized("only a party or an admin can request compliance review")
	}
	if models.IsTerminalStatus(e.Status) {
		return apperr.InvalidState("escrow is %s", e.Status)
	}
	if e.ComplianceReference != "" {
		return apperr.InvalidState("compliance review already requested, reference %s", e.ComplianceReference)
	}
	return nil
}

// RecordEscalation stores the compliance reference after a successful
// submission and moves an opened dispute under review.
func RecordEscalation(e *models.Escrow, actor models.Actor, reference, requestType string, now time.Time) []models.EscrowLog {
	e.RequiresComplianceApproval = true
	e.ComplianceReference = reference
	if e.DisputeStatus == models.DisputeStatusOpened {
		e.DisputeStatus = models.DisputeStatusUnderReview
	}
	e.UpdatedAt = now
	return []models.EscrowLog{entry(e, actor, models.EscrowActionComplianceRequested,
		fmt.Sprintf("%s review requested, reference %s", requestType, reference), now)}
}

// Viewed returns the read-access entry for a party or admin.
func Viewed(e *models.Escrow, actor models.Actor, now time.Time) (models.EscrowLog, error) {
	if !rbac.Can(e, actor, rbac.PermView) {
		return models.EscrowLog{}, apperr.Unauthorized("escrow is not visible to this user")
	}
	return entry(e, actor, models.EscrowActionViewed, "escrow viewed", now), nil
}

// --- helpers ---

func setStatus(e *models.Escrow, to string, now time.Time) error {
	if !models.IsValidEscrowTransition(e.Status, to) {
		return apperr.InvalidState("invalid transition from %s to %s", e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

func applyRelease(e *models.Escrow, now time.Time) error {
	if e.IsReleased {
		return apperr.ErrAlreadyReleased
	}
	if err := setStatus(e, models.EscrowStatusReleased, now); err != nil {
		return err
	}
	e.IsReleased = true
	e.ReleasedAt = &now
	return nil
}

func bothApproved(e *models.Escrow) bool {
	return e.ReleaseApprovedBySender && e.ReleaseApprovedByReceiver
}

func entry(e *models.Escrow, actor models.Actor, action, details string, now time.Time) models.EscrowLog {
	name := actor.DisplayName
	if name == "" {
		switch actor.ID {
		case e.SenderID:
			name = e.SenderName
		case e.ReceiverID:
			name = e.ReceiverName
		}
	}
	return models.EscrowLog{
		EscrowID:  e.EscrowID,
		UserID:    actor.ID,
		UserName:  name,
		Action:    action,
		Details:   details,
		IPAddress: actor.IPPtr(),
		CreatedAt: now,
	}
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
