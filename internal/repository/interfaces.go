package repository

import (
	"context"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
)

type Transactions interface {
	// Ingest inserts a checkout-completed ledger entry. The revenue split is
	// validated against the gross amount and rejected with ErrInvalidSplit;
	// it is never corrected here.
	Ingest(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	ListByRecipient(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error)

	// MarkReady admits a paid entry into the dispatch queue (pending -> ready).
	MarkReady(ctx context.Context, id string) error
	MarkRefunded(ctx context.Context, id string, partial bool) error

	// Dispatch bookkeeping. All status mutations are compare-and-set against
	// the expected current status and report whether this caller won the
	// transition, so concurrent dispatchers never double-apply.
	ListReady(ctx context.Context, limit int) ([]models.Transaction, error)
	ListHeld(ctx context.Context, limit int) ([]models.Transaction, error)
	SetHeld(ctx context.Context, id string) (bool, error)
	SetFailed(ctx context.Context, id, reason string) (bool, error)
	SetCompleted(ctx context.Context, id string) (bool, error)
	ReadmitHeld(ctx context.Context, id string) (bool, error)

	// Transfer refs are written at most once for the lifetime of the row.
	SetAuthorTransferRef(ctx context.Context, id, ref string) error
	SetAffiliateTransferRef(ctx context.Context, id, ref string) error
}

type PayoutProfiles interface {
	Get(ctx context.Context, userID string) (models.PayoutProfile, error)
	Upsert(ctx context.Context, p models.PayoutProfile) (models.PayoutProfile, error)
}

type Balances interface {
	// Get computes the withdrawable view from the ledger and open withdrawal
	// requests in a single statement (one read snapshot).
	Get(ctx context.Context, userID string) (models.Balance, error)
}

type Withdrawals interface {
	// Create inserts a new request at status=requested after re-computing the
	// withdrawable balance inside the same DB transaction, serialized per
	// user. Returns ErrInsufficientBalance when amount exceeds it.
	Create(ctx context.Context, userID string, amount int64) (models.WithdrawalRequest, error)
	Cancel(ctx context.Context, userID, id string) (models.WithdrawalRequest, error)
	GetByID(ctx context.Context, id string) (models.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.WithdrawalRequest, error)

	Queue(ctx context.Context, id string) error
	// ClaimQueued atomically moves up to limit queued requests to processing
	// and returns them; each request is claimed by exactly one caller.
	ClaimQueued(ctx context.Context, limit int) ([]models.WithdrawalRequest, error)
	MarkPaid(ctx context.Context, id, externalRef string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type Users interface {
	Create(ctx context.Context, username, email, passwordHash, role string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}
