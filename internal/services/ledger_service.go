package services

import (
	"context"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

// LedgerService is the ingestion edge of the settlement core: checkout
// completion posts paid entries here, the promotion step admits them to the
// dispatch queue, and the onboarding flow mirrors payout profiles in.
type LedgerService struct {
	trx      repo.Transactions
	profiles repo.PayoutProfiles
	log      repo.AuditLogs
}

func NewLedgerService(t repo.Transactions, p repo.PayoutProfiles, l repo.AuditLogs) *LedgerService {
	return &LedgerService{trx: t, profiles: p, log: l}
}

func (s *LedgerService) audit(entityID, action string) {
	_ = s.log.Create(context.Background(), models.AuditLog{
		EntityType: "transaction",
		EntityID:   &entityID,
		Action:     action,
	})
}

// Ingest records a checkout-completed purchase. A malformed split is
// rejected outright (repository.ErrInvalidSplit); it is never corrected.
func (s *LedgerService) Ingest(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	out, err := s.trx.Ingest(ctx, t)
	if err != nil {
		return models.Transaction{}, err
	}
	s.audit(out.ID, "ingested")
	return out, nil
}

// MarkReady admits a paid entry into the dispatch queue.
func (s *LedgerService) MarkReady(ctx context.Context, id string) error {
	if err := s.trx.MarkReady(ctx, id); err != nil {
		return err
	}
	s.audit(id, "marked_ready")
	return nil
}

func (s *LedgerService) MarkRefunded(ctx context.Context, id string, partial bool) error {
	if err := s.trx.MarkRefunded(ctx, id, partial); err != nil {
		return err
	}
	s.audit(id, "refunded")
	return nil
}

func (s *LedgerService) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return s.trx.GetByID(ctx, id)
}

func (s *LedgerService) ListByRecipient(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	return s.trx.ListByRecipient(ctx, userID, limit, offset)
}

func (s *LedgerService) UpsertPayoutProfile(ctx context.Context, p models.PayoutProfile) (models.PayoutProfile, error) {
	return s.profiles.Upsert(ctx, p)
}

func (s *LedgerService) GetPayoutProfile(ctx context.Context, userID string) (models.PayoutProfile, error) {
	return s.profiles.Get(ctx, userID)
}
