package models

import "time"

// VerificationStatusApproved is the provider status of a successful check.
const VerificationStatusApproved = "approved"

// VerificationReceipt is what the provider returns after sending a code.
type VerificationReceipt struct {
	SID       string    `json:"sid"`
	To        string    `json:"to"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"`
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"date_created"`
}

// VerificationResult is what the provider returns after checking a code.
type VerificationResult struct {
	SID       string    `json:"sid"`
	To        string    `json:"to"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"`
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"date_created"`
}

// Approved reports whether the provider accepted the code.
func (r *VerificationResult) Approved() bool {
	return r.Status == VerificationStatusApproved
}
