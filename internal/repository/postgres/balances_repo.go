package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
)

type balancesRepo struct{ pool *pgxpool.Pool }

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// balanceQuery reads lifetime settlement credits and withdrawal totals in one
// statement, so the result is a single snapshot: a concurrent withdrawal
// cannot land between the ledger read and the pending-amount read.
const balanceQuery = `
SELECT
	COALESCE((SELECT SUM(author_amount) FROM transactions
	           WHERE recipient_author_id=$1 AND transfer_status='completed'), 0),
	COALESCE((SELECT SUM(affiliate_amount) FROM transactions
	           WHERE recipient_affiliate_id=$1 AND transfer_status='completed'), 0),
	COALESCE((SELECT SUM(amount) FROM withdrawal_requests
	           WHERE user_id=$1 AND status='paid'), 0),
	COALESCE((SELECT SUM(amount) FROM withdrawal_requests
	           WHERE user_id=$1 AND status IN ('requested','queued','processing')), 0)`

// balanceFor runs against either the pool or an open pgx.Tx, so withdrawal
// creation can reuse the identical computation inside its own transaction.
func balanceFor(ctx context.Context, q rowQuerier, userID string) (models.Balance, error) {
	var authorEarned, affiliateEarned, paidOut, pending int64
	err := q.QueryRow(ctx, balanceQuery, userID).
		Scan(&authorEarned, &affiliateEarned, &paidOut, &pending)
	if err != nil {
		return models.Balance{}, err
	}

	// Paid withdrawals draw down the author share first, then the affiliate
	// share. Shares never go negative.
	author := authorEarned - paidOut
	affiliate := affiliateEarned
	if author < 0 {
		affiliate += author // remainder of the payout comes out of affiliate
		author = 0
	}
	if affiliate < 0 {
		affiliate = 0
	}

	total := author + affiliate
	withdrawable := total - pending
	if withdrawable < 0 {
		withdrawable = 0
	}
	return models.Balance{
		UserID:                  userID,
		AuthorAmount:            author,
		AffiliateAmount:         affiliate,
		TotalAmount:             total,
		PendingWithdrawalAmount: pending,
		WithdrawableAmount:      withdrawable,
	}, nil
}

func (r *balancesRepo) Get(ctx context.Context, userID string) (models.Balance, error) {
	return balanceFor(ctx, r.pool, userID)
}
