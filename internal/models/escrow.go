package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow statuses
const (
	EscrowStatusDraft     = "draft"
	EscrowStatusPending   = "pending"
	EscrowStatusFunded    = "funded"
	EscrowStatusReleased  = "released"
	EscrowStatusDisputed  = "disputed"
	EscrowStatusRefunded  = "refunded"
	EscrowStatusCancelled = "cancelled"
)

// Dispute sub-states
const (
	DisputeStatusNone        = "none"
	DisputeStatusOpened      = "opened"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusResolved    = "resolved"
)

// Valid status transitions: from -> []to
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusDraft:     {EscrowStatusPending, EscrowStatusCancelled},
	EscrowStatusPending:   {EscrowStatusFunded, EscrowStatusDisputed, EscrowStatusCancelled},
	EscrowStatusFunded:    {EscrowStatusReleased, EscrowStatusDisputed, EscrowStatusRefunded, EscrowStatusCancelled},
	EscrowStatusDisputed:  {EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusCancelled},
	EscrowStatusReleased:  {},
	EscrowStatusRefunded:  {},
	EscrowStatusCancelled: {},
}

func IsValidEscrowTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further status transition is allowed.
func IsTerminalStatus(status string) bool {
	allowed, ok := ValidEscrowTransitions[status]
	return ok && len(allowed) == 0
}

type Escrow struct {
	ID          uuid.UUID `json:"id"`
	EscrowID    string    `json:"escrow_id"` // ESCROW-XXXXXXXX
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Terms       string    `json:"terms,omitempty"`

	SenderID     string `json:"sender_id"`
	SenderName   string `json:"sender_name"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverName string `json:"receiver_name"`

	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Fee         decimal.Decimal `json:"fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`

	Status     string `json:"status"`
	IsReleased bool   `json:"is_released"`

	ReleaseApprovedBySender   bool `json:"release_approved_by_sender"`
	ReleaseApprovedByReceiver bool `json:"release_approved_by_receiver"`

	DisputeStatus   string     `json:"dispute_status"`
	DisputeReason   string     `json:"dispute_reason,omitempty"`
	DisputeOpenedBy string     `json:"dispute_opened_by,omitempty"`
	DisputeOpenedAt *time.Time `json:"dispute_opened_at,omitempty"`

	RequiresComplianceApproval bool   `json:"requires_compliance_approval"`
	ComplianceReference        string `json:"compliance_reference,omitempty"`
	// Set for the duration of a compliance-verified release; never persisted as true.
	ComplianceVerified bool `json:"-"`

	ExpectedReleaseDate *time.Time `json:"expected_release_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	FundedAt            *time.Time `json:"funded_at,omitempty"`
	ReleasedAt          *time.Time `json:"released_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`

	Version int64 `json:"-"`
}

// IsParty reports whether userID is the sender or the receiver.
func (e *Escrow) IsParty(userID string) bool {
	return userID != "" && (userID == e.SenderID || userID == e.ReceiverID)
}

// Clone returns a copy whose pointer fields do not alias e.
func (e *Escrow) Clone() *Escrow {
	c := *e
	c.DisputeOpenedAt = cloneTime(e.DisputeOpenedAt)
	c.ExpectedReleaseDate = cloneTime(e.ExpectedReleaseDate)
	c.FundedAt = cloneTime(e.FundedAt)
	c.ReleasedAt = cloneTime(e.ReleasedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// EscrowMetadata holds the non-financial fields a sender may edit before funding.
type EscrowMetadata struct {
	Title               *string    `json:"title,omitempty"`
	Description         *string    `json:"description,omitempty"`
	Terms               *string    `json:"terms,omitempty"`
	ExpectedReleaseDate *time.Time `json:"expected_release_date,omitempty"`
}

func (m EscrowMetadata) IsEmpty() bool {
	return m.Title == nil && m.Description == nil && m.Terms == nil && m.ExpectedReleaseDate == nil
}
