package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

type withdrawalsRepo struct{ pool *pgxpool.Pool }

const wdColumns = `id, user_id, amount, status, requested_at, queued_at,
	processing_started_at, processed_at, canceled_at, external_payout_ref, failure_reason`

func scanWithdrawal(row pgx.Row) (models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(
		&w.ID, &w.UserID, &w.Amount, &w.Status, &w.RequestedAt, &w.QueuedAt,
		&w.ProcessingStartedAt, &w.ProcessedAt, &w.CanceledAt, &w.ExternalPayoutRef, &w.FailureReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WithdrawalRequest{}, repo.ErrNotFound
	}
	return w, err
}

// Create serializes withdrawal creation per user with a transaction-scoped
// advisory lock, then recomputes the withdrawable balance and inserts the
// request inside the same DB transaction. Two concurrent requests whose sum
// exceeds the balance therefore resolve to one success and one
// ErrInsufficientBalance.
func (r *withdrawalsRepo) Create(ctx context.Context, userID string, amount int64) (models.WithdrawalRequest, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
		return models.WithdrawalRequest{}, err
	}

	bal, err := balanceFor(ctx, tx, userID)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	if amount > bal.WithdrawableAmount {
		return models.WithdrawalRequest{}, repo.ErrInsufficientBalance
	}

	w, err := scanWithdrawal(tx.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (id, user_id, amount, status)
		VALUES ($1,$2,$3,'requested')
		RETURNING `+wdColumns,
		uuid.NewString(), userID, amount))
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	return w, tx.Commit(ctx)
}

func (r *withdrawalsRepo) Cancel(ctx context.Context, userID, id string) (models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, `
		UPDATE withdrawal_requests
		   SET status='canceled', canceled_at=now()
		 WHERE id=$1 AND user_id=$2 AND status IN ('requested','queued')
		RETURNING `+wdColumns,
		id, userID))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return models.WithdrawalRequest{}, err
	}
	// Distinguish a missing request from one past the cancelable window.
	if _, gerr := r.getOwned(ctx, userID, id); gerr != nil {
		return models.WithdrawalRequest{}, gerr
	}
	return models.WithdrawalRequest{}, repo.ErrNotCancelable
}

func (r *withdrawalsRepo) getOwned(ctx context.Context, userID, id string) (models.WithdrawalRequest, error) {
	return scanWithdrawal(r.pool.QueryRow(ctx,
		`SELECT `+wdColumns+` FROM withdrawal_requests WHERE id=$1 AND user_id=$2`, id, userID))
}

func (r *withdrawalsRepo) GetByID(ctx context.Context, id string) (models.WithdrawalRequest, error) {
	return scanWithdrawal(r.pool.QueryRow(ctx,
		`SELECT `+wdColumns+` FROM withdrawal_requests WHERE id=$1`, id))
}

func (r *withdrawalsRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+wdColumns+`
		  FROM withdrawal_requests
		 WHERE user_id=$1
		 ORDER BY requested_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *withdrawalsRepo) Queue(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE withdrawal_requests
		   SET status='queued', queued_at=now()
		 WHERE id=$1 AND status='requested'`,
		id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return repo.ErrInvalidStatus
	}
	return nil
}

func (r *withdrawalsRepo) ClaimQueued(ctx context.Context, limit int) ([]models.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE withdrawal_requests
		   SET status='processing', processing_started_at=now()
		 WHERE id IN (
			SELECT id FROM withdrawal_requests
			 WHERE status='queued'
			 ORDER BY queued_at ASC
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED
		 )
		RETURNING `+wdColumns,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *withdrawalsRepo) MarkPaid(ctx context.Context, id, externalRef string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE withdrawal_requests
		   SET status='paid', processed_at=now(), external_payout_ref=$2
		 WHERE id=$1 AND status='processing'`,
		id, externalRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrInvalidStatus
	}
	return nil
}

func (r *withdrawalsRepo) MarkFailed(ctx context.Context, id, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE withdrawal_requests
		   SET status='failed', processed_at=now(), failure_reason=$2
		 WHERE id=$1 AND status='processing'`,
		id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrInvalidStatus
	}
	return nil
}
