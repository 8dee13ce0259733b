package models

// Balance is the computed view of what a user may withdraw. It is never
// stored; the ledger and withdrawal_requests are the source of truth.
type Balance struct {
	UserID                  string `json:"user_id"`
	AuthorAmount            int64  `json:"author_amount"`
	AffiliateAmount         int64  `json:"affiliate_amount"`
	TotalAmount             int64  `json:"total_amount"`
	PendingWithdrawalAmount int64  `json:"pending_withdrawal_amount"`
	WithdrawableAmount      int64  `json:"withdrawable_amount"`
}
