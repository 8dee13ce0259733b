package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/metrics"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/payrail"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

var ErrBelowMinimum = errors.New("amount below minimum withdrawal")

type WithdrawalService struct {
	wd       repo.Withdrawals
	profiles repo.PayoutProfiles
	log      repo.AuditLogs
	rail     payrail.Rail
	min      int64
}

func NewWithdrawalService(wd repo.Withdrawals, p repo.PayoutProfiles, l repo.AuditLogs, rail payrail.Rail, minAmount int64) *WithdrawalService {
	return &WithdrawalService{wd: wd, profiles: p, log: l, rail: rail, min: minAmount}
}

func (s *WithdrawalService) audit(entityID, action, details string) {
	var det map[string]any
	if details != "" {
		det = map[string]any{"message": details}
	}
	_ = s.log.Create(context.Background(), models.AuditLog{
		EntityType: "withdrawal",
		EntityID:   &entityID,
		Action:     action,
		Details:    det,
	})
}

// Create validates the amount, then defers to the repository, which
// serializes creation per user and re-checks the withdrawable balance in
// the same DB transaction.
func (s *WithdrawalService) Create(ctx context.Context, userID string, amount int64) (models.WithdrawalRequest, error) {
	if amount < s.min {
		return models.WithdrawalRequest{}, ErrBelowMinimum
	}
	w, err := s.wd.Create(ctx, userID, amount)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	metrics.WithdrawalsTotal.WithLabelValues("created").Inc()
	s.audit(w.ID, "created", "")
	return w, nil
}

func (s *WithdrawalService) Cancel(ctx context.Context, userID, id string) (models.WithdrawalRequest, error) {
	w, err := s.wd.Cancel(ctx, userID, id)
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	metrics.WithdrawalsTotal.WithLabelValues("canceled").Inc()
	s.audit(w.ID, "canceled", "")
	return w, nil
}

// Queue promotes a requested withdrawal into the payout queue (operator or
// scheduler driven).
func (s *WithdrawalService) Queue(ctx context.Context, id string) error {
	if err := s.wd.Queue(ctx, id); err != nil {
		return err
	}
	metrics.WithdrawalsTotal.WithLabelValues("queued").Inc()
	s.audit(id, "queued", "")
	return nil
}

// ProcessQueued drains queued withdrawals with the same discipline as the
// transfer dispatcher: each request is claimed by exactly one caller, the
// rail call carries a deterministic idempotency key, and failures are
// terminal per request without touching the rest of the batch.
func (s *WithdrawalService) ProcessQueued(ctx context.Context, limit int) (paid, failed int, err error) {
	claimed, err := s.wd.ClaimQueued(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, w := range claimed {
		if ferr := s.payOut(ctx, w); ferr != nil {
			failed++
		} else {
			paid++
		}
	}
	return paid, failed, nil
}

func (s *WithdrawalService) payOut(ctx context.Context, w models.WithdrawalRequest) error {
	profile, err := s.profiles.Get(ctx, w.UserID)
	if err != nil || !profile.Eligible() {
		reason := "recipient not eligible for payout"
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			reason = fmt.Sprintf("payout profile lookup: %v", err)
		}
		return s.failPayout(ctx, w.ID, reason)
	}

	ref, err := s.rail.CreateTransfer(ctx, payrail.CreateTransferReq{
		Amount:             w.Amount,
		DestinationAccount: *profile.ExternalAccountRef,
		IdempotencyKey:     "withdrawal:" + w.ID,
		Metadata:           map[string]string{"withdrawal_id": w.ID, "user_id": w.UserID},
	})
	if err != nil {
		return s.failPayout(ctx, w.ID, fmt.Sprintf("payout transfer: %v", err))
	}
	if err := s.wd.MarkPaid(ctx, w.ID, ref.Ref); err != nil {
		return err
	}
	metrics.WithdrawalsTotal.WithLabelValues("paid").Inc()
	s.audit(w.ID, "paid", "")
	return nil
}

func (s *WithdrawalService) failPayout(ctx context.Context, id, reason string) error {
	if err := s.wd.MarkFailed(ctx, id, reason); err != nil {
		return err
	}
	metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
	s.audit(id, "failed", reason)
	return errors.New(reason)
}

func (s *WithdrawalService) GetByID(ctx context.Context, id string) (models.WithdrawalRequest, error) {
	return s.wd.GetByID(ctx, id)
}

func (s *WithdrawalService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.WithdrawalRequest, error) {
	return s.wd.ListByUser(ctx, userID, limit, offset)
}
