package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txColumns = `id, payer_id, recipient_author_id, recipient_affiliate_id,
	gross_amount, platform_fee, author_amount, affiliate_amount,
	payment_status, transfer_status, author_transfer_ref, affiliate_transfer_ref,
	transfer_error, refunded_at, created_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.PayerID, &t.RecipientAuthorID, &t.RecipientAffiliateID,
		&t.GrossAmount, &t.PlatformFee, &t.AuthorAmount, &t.AffiliateAmount,
		&t.PaymentStatus, &t.TransferStatus, &t.AuthorTransferRef, &t.AffiliateTransferRef,
		&t.TransferError, &t.RefundedAt, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return t, err
}

func (r *transactionsRepo) Ingest(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if !t.SplitValid() {
		return models.Transaction{}, repo.ErrInvalidSplit
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.PaymentStatus == "" {
		t.PaymentStatus = models.PaymentPaid
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			id, payer_id, recipient_author_id, recipient_affiliate_id,
			gross_amount, platform_fee, author_amount, affiliate_amount,
			payment_status, transfer_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending')
		RETURNING `+txColumns,
		t.ID, t.PayerID, t.RecipientAuthorID, t.RecipientAffiliateID,
		t.GrossAmount, t.PlatformFee, t.AuthorAmount, t.AffiliateAmount,
		t.PaymentStatus,
	)
	out, err := scanTransaction(row)
	if err != nil && isUniqueViolation(err) {
		return models.Transaction{}, repo.ErrDuplicate
	}
	return out, err
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id=$1`, id))
}

func (r *transactionsRepo) ListByRecipient(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		  FROM transactions
		 WHERE recipient_author_id=$1 OR recipient_affiliate_id=$1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// MarkReady admits a pending entry into the dispatch queue. The split is
// re-checked at the gate so a malformed row can never reach ready, and a
// non-paid entry is never promoted.
func (r *transactionsRepo) MarkReady(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		   SET transfer_status='ready'
		 WHERE id=$1
		   AND transfer_status='pending'
		   AND payment_status='paid'
		   AND author_amount + affiliate_amount + platform_fee = gross_amount`,
		id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return repo.ErrNotPromotable
	}
	return nil
}

func (r *transactionsRepo) MarkRefunded(ctx context.Context, id string, partial bool) error {
	status := models.PaymentRefunded
	if partial {
		status = models.PaymentPartiallyRefunded
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		   SET payment_status=$2, refunded_at=now()
		 WHERE id=$1 AND payment_status='paid' AND refunded_at IS NULL`,
		id, status)
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

func (r *transactionsRepo) ListReady(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		  FROM transactions
		 WHERE payment_status='paid' AND transfer_status='ready'
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionsRepo) ListHeld(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		  FROM transactions
		 WHERE transfer_status='held'
		 ORDER BY created_at ASC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionsRepo) SetHeld(ctx context.Context, id string) (bool, error) {
	return r.cas(ctx, `UPDATE transactions SET transfer_status='held'
		WHERE id=$1 AND transfer_status='ready'`, id)
}

func (r *transactionsRepo) SetFailed(ctx context.Context, id, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET transfer_status='failed', transfer_error=$2
		 WHERE id=$1 AND transfer_status='ready'`,
		id, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *transactionsRepo) SetCompleted(ctx context.Context, id string) (bool, error) {
	// payment_status is part of the predicate: a refund that lands between
	// dispatch selection and completion keeps the row out of completed.
	return r.cas(ctx, `UPDATE transactions SET transfer_status='completed'
		WHERE id=$1 AND transfer_status='ready' AND payment_status='paid'`, id)
}

func (r *transactionsRepo) ReadmitHeld(ctx context.Context, id string) (bool, error) {
	return r.cas(ctx, `UPDATE transactions SET transfer_status='ready'
		WHERE id=$1 AND transfer_status='held' AND payment_status='paid'`, id)
}

func (r *transactionsRepo) SetAuthorTransferRef(ctx context.Context, id, ref string) error {
	return r.setRefOnce(ctx, "author_transfer_ref", id, ref)
}

func (r *transactionsRepo) SetAffiliateTransferRef(ctx context.Context, id, ref string) error {
	return r.setRefOnce(ctx, "affiliate_transfer_ref", id, ref)
}

// setRefOnce writes a transfer ref only when none is recorded; a ref is
// never overwritten for the lifetime of the row. Writing the same ref again
// (crash-and-retry with a deterministic idempotency key) is a no-op.
func (r *transactionsRepo) setRefOnce(ctx context.Context, column, id, ref string) error {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE transactions SET %s=$2
		 WHERE id=$1 AND %s IS NULL`, column, column),
		id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var existing *string
	err = r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM transactions WHERE id=$1`, column), id,
	).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	if err != nil {
		return err
	}
	if existing != nil && *existing == ref {
		return nil
	}
	return repo.ErrInvalidStatus
}

func (r *transactionsRepo) cas(ctx context.Context, q, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
