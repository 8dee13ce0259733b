package models

import "time"

type WithdrawalStatus string

const (
	WithdrawalRequested  WithdrawalStatus = "requested"
	WithdrawalQueued     WithdrawalStatus = "queued"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalPaid       WithdrawalStatus = "paid"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalCanceled   WithdrawalStatus = "canceled"
)

// WithdrawalRequest is a user's claim against their withdrawable balance.
// Status moves strictly forward except requested/queued -> canceled.
type WithdrawalRequest struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"user_id"`
	Amount              int64            `json:"amount"`
	Status              WithdrawalStatus `json:"status"`
	RequestedAt         time.Time        `json:"requested_at"`
	QueuedAt            *time.Time       `json:"queued_at,omitempty"`
	ProcessingStartedAt *time.Time       `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time       `json:"processed_at,omitempty"`
	CanceledAt          *time.Time       `json:"canceled_at,omitempty"`
	ExternalPayoutRef   *string          `json:"external_payout_ref,omitempty"`
	FailureReason       *string          `json:"failure_reason,omitempty"`
}

// Cancelable reports whether the request may still be canceled.
func (w *WithdrawalRequest) Cancelable() bool {
	return w.Status == WithdrawalRequested || w.Status == WithdrawalQueued
}
