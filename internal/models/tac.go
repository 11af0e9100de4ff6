package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TacPurposeVerification = "verification"
	TacPurposeWithdrawal   = "withdrawal"
	TacPurposeLogin        = "login"
	TacPurposeTransaction  = "transaction"
)

func IsValidTacPurpose(p string) bool {
	switch p {
	case TacPurposeVerification, TacPurposeWithdrawal, TacPurposeLogin, TacPurposeTransaction:
		return true
	}
	return false
}

type TacCode struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"-"`
	Purpose   string    `json:"purpose"`
	IsUsed    bool      `json:"is_used"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsValidAt reports whether the code can still be consumed at now.
func (t *TacCode) IsValidAt(now time.Time) bool {
	return !t.IsUsed && !now.After(t.ExpiresAt)
}
