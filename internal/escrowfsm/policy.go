// Package escrowfsm implements the escrow lifecycle as pure transitions over a
// models.Escrow record. Every successful mutation returns the audit entries it
// produced; persistence and locking are the caller's concern.
package escrowfsm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const EscrowIDPrefix = "ESCROW-"

// MaxTotal is the largest total (amount plus fee) a NUMERIC(18,2) column holds.
var MaxTotal = decimal.RequireFromString("9999999999999999.99")

// Policy holds the fee rate and the compliance thresholds.
type Policy struct {
	FeeRate                    decimal.Decimal
	EscrowComplianceThreshold  decimal.Decimal
	DisputeComplianceThreshold decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		FeeRate:                    decimal.RequireFromString("0.02"),
		EscrowComplianceThreshold:  decimal.NewFromInt(10000),
		DisputeComplianceThreshold: decimal.NewFromInt(5000),
	}
}

// Fee returns amount*rate rounded half-up to 2 decimal places.
func (p Policy) Fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(p.FeeRate).Round(2)
}

// NewEscrowID returns "ESCROW-" followed by 8 upper-case hex characters.
func NewEscrowID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate escrow id: %w", err)
	}
	return EscrowIDPrefix + strings.ToUpper(hex.EncodeToString(b)), nil
}
