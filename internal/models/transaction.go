package models

import "time"

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferReady     TransferStatus = "ready"
	TransferHeld      TransferStatus = "held"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// Transaction is a ledger entry for one paid purchase: its revenue split
// (computed at checkout, never re-derived here) and payout progress.
type Transaction struct {
	ID                   string         `json:"id"`
	PayerID              string         `json:"payer_id"`
	RecipientAuthorID    string         `json:"recipient_author_id"`
	RecipientAffiliateID *string        `json:"recipient_affiliate_id,omitempty"`
	GrossAmount          int64          `json:"gross_amount"`
	PlatformFee          int64          `json:"platform_fee"`
	AuthorAmount         int64          `json:"author_amount"`
	AffiliateAmount      int64          `json:"affiliate_amount"`
	PaymentStatus        PaymentStatus  `json:"payment_status"`
	TransferStatus       TransferStatus `json:"transfer_status"`
	AuthorTransferRef    *string        `json:"author_transfer_ref,omitempty"`
	AffiliateTransferRef *string        `json:"affiliate_transfer_ref,omitempty"`
	TransferError        *string        `json:"transfer_error,omitempty"`
	RefundedAt           *time.Time     `json:"refunded_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// SplitValid reports whether the revenue split sums to the gross amount.
func (t *Transaction) SplitValid() bool {
	if t.GrossAmount <= 0 || t.PlatformFee < 0 || t.AuthorAmount < 0 || t.AffiliateAmount < 0 {
		return false
	}
	return t.AuthorAmount+t.AffiliateAmount+t.PlatformFee == t.GrossAmount
}
