package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

type profilesRepo struct{ pool *pgxpool.Pool }

func (r *profilesRepo) Get(ctx context.Context, userID string) (models.PayoutProfile, error) {
	var p models.PayoutProfile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, external_account_ref, payouts_enabled, charges_enabled, updated_at, created_at
		  FROM payout_profiles
		 WHERE user_id=$1`,
		userID,
	).Scan(&p.UserID, &p.ExternalAccountRef, &p.PayoutsEnabled, &p.ChargesEnabled, &p.UpdatedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PayoutProfile{}, repo.ErrNotFound
	}
	return p, err
}

func (r *profilesRepo) Upsert(ctx context.Context, p models.PayoutProfile) (models.PayoutProfile, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payout_profiles (user_id, external_account_ref, payouts_enabled, charges_enabled)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE
		   SET external_account_ref=EXCLUDED.external_account_ref,
		       payouts_enabled=EXCLUDED.payouts_enabled,
		       charges_enabled=EXCLUDED.charges_enabled,
		       updated_at=now()
		RETURNING user_id, external_account_ref, payouts_enabled, charges_enabled, updated_at, created_at`,
		p.UserID, p.ExternalAccountRef, p.PayoutsEnabled, p.ChargesEnabled,
	).Scan(&p.UserID, &p.ExternalAccountRef, &p.PayoutsEnabled, &p.ChargesEnabled, &p.UpdatedAt, &p.CreatedAt)
	return p, err
}
