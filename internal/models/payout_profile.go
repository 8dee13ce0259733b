package models

import "time"

// PayoutProfile is owned by the external onboarding flow; the settlement
// core only reads it to decide whether a recipient can receive funds.
type PayoutProfile struct {
	UserID             string    `json:"user_id"`
	ExternalAccountRef *string   `json:"external_account_ref,omitempty"`
	PayoutsEnabled     bool      `json:"payouts_enabled"`
	ChargesEnabled     bool      `json:"charges_enabled"`
	UpdatedAt          time.Time `json:"updated_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// Eligible reports whether the recipient has a usable payout destination.
func (p *PayoutProfile) Eligible() bool {
	return p.ExternalAccountRef != nil && *p.ExternalAccountRef != "" && p.PayoutsEnabled
}
