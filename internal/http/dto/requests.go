package dto

import "time"

type CreateEscrowRequest struct {
	ReceiverID          string     `json:"receiver_id"`
	ReceiverName        string     `json:"receiver_name,omitempty"`
	Amount              string     `json:"amount"` // decimal string, e.g. "1500.00"
	Currency            string     `json:"currency"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Terms               string     `json:"terms,omitempty"`
	ExpectedReleaseDate *time.Time `json:"expected_release_date,omitempty"`
}

type UpdateEscrowRequest struct {
	Title               *string    `json:"title,omitempty"`
	Description         *string    `json:"description,omitempty"`
	Terms               *string    `json:"terms,omitempty"`
	ExpectedReleaseDate *time.Time `json:"expected_release_date,omitempty"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"` // release / refund
	Note    string `json:"note,omitempty"`
}

type CancelEscrowRequest struct {
	Reason string `json:"reason,omitempty"`
}

type EscalateRequest struct {
	RequestType string `json:"request_type,omitempty"` // release / dispute / manual
	Reason      string `json:"reason,omitempty"`
}

type ComplianceTACRequest struct {
	Code string `json:"code"`
}

type IssueTACRequest struct {
	Purpose    string `json:"purpose"`
	To         string `json:"to,omitempty"` // delivery address, defaults to the caller
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type VerifyTACRequest struct {
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}
