package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow log actions
const (
	EscrowActionCreated             = "created"
	EscrowActionViewed              = "viewed"
	EscrowActionUpdated             = "updated"
	EscrowActionFunded              = "funded"
	EscrowActionReleased            = "released"
	EscrowActionDisputed            = "disputed"
	EscrowActionApprovedRelease     = "approved_release"
	EscrowActionComplianceRequested = "compliance_requested"
	EscrowActionComplianceApproved  = "compliance_approved"
	EscrowActionRefunded            = "refunded"
	EscrowActionCancelled           = "cancelled"
)

// EscrowLog is an append-only audit entry owned by one escrow.
type EscrowLog struct {
	ID        uuid.UUID `json:"id"`
	EscrowID  string    `json:"escrow_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	IPAddress *string   `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
