package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/metrics"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/payrail"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/worker"
)

const sweepBatchSize = 500

// DispatchResult reports one dispatch cycle. Per-transaction failures are
// isolated: they land in Errors and never abort the rest of the batch.
type DispatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

type SettlementService struct {
	trx      repo.Transactions
	profiles repo.PayoutProfiles
	log      repo.AuditLogs
	rail     payrail.Rail
	wp       *worker.Pool
}

func NewSettlementService(t repo.Transactions, p repo.PayoutProfiles, l repo.AuditLogs, rail payrail.Rail, wp *worker.Pool) *SettlementService {
	return &SettlementService{trx: t, profiles: p, log: l, rail: rail, wp: wp}
}

func (s *SettlementService) audit(entityID, action, details string) {
	var det map[string]any
	if details != "" {
		det = map[string]any{"message": details}
	}
	_ = s.log.Create(context.Background(), models.AuditLog{
		EntityType: "transaction",
		EntityID:   &entityID,
		Action:     action,
		Details:    det,
	})
}

// recipientProfile fetches the payout profile fresh; eligibility is never
// cached across cycles since onboarding can change it between runs.
func (s *SettlementService) recipientProfile(ctx context.Context, userID string) (models.PayoutProfile, bool, error) {
	p, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return models.PayoutProfile{}, false, nil
	}
	if err != nil {
		return models.PayoutProfile{}, false, err
	}
	return p, p.Eligible(), nil
}

// DispatchReady runs one dispatch cycle: select up to batchSize ready
// entries oldest first and settle each independently on the worker pool.
func (s *SettlementService) DispatchReady(ctx context.Context, batchSize int) (DispatchResult, error) {
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	txs, err := s.trx.ListReady(ctx, batchSize)
	if err != nil {
		return DispatchResult{}, err
	}

	var (
		mu  sync.Mutex
		res DispatchResult
		wg  sync.WaitGroup
	)
	for _, t := range txs {
		t := t
		wg.Add(1)
		s.wp.Submit(func() {
			defer wg.Done()
			outcome, err := s.settle(ctx, t)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case models.TransferCompleted:
				res.Processed++
			case models.TransferFailed:
				res.Failed++
			case models.TransferHeld:
				res.Skipped++
			}
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t.ID, err))
			}
		})
	}
	wg.Wait()
	return res, nil
}

// settle moves one ready entry to completed, held, or failed. Every status
// mutation is a compare-and-set, so a concurrent dispatcher on the same row
// changes nothing here beyond a lost race; the deterministic idempotency
// keys make the rail side safe either way.
func (s *SettlementService) settle(ctx context.Context, t models.Transaction) (models.TransferStatus, error) {
	authorProfile, authorOK, err := s.recipientProfile(ctx, t.RecipientAuthorID)
	if err != nil {
		return "", err
	}
	if !authorOK {
		return s.hold(ctx, t.ID, "author not eligible")
	}

	var affiliateProfile models.PayoutProfile
	payAffiliate := t.AffiliateAmount > 0 && t.RecipientAffiliateID != nil
	if payAffiliate {
		// The affiliate leg blocks the whole entry: the author is never paid
		// in isolation while the affiliate cannot receive their share.
		p, ok, err := s.recipientProfile(ctx, *t.RecipientAffiliateID)
		if err != nil {
			return "", err
		}
		if !ok {
			return s.hold(ctx, t.ID, "affiliate not eligible")
		}
		affiliateProfile = p
	}

	if t.AuthorAmount > 0 && t.AuthorTransferRef == nil {
		ref, err := s.rail.CreateTransfer(ctx, payrail.CreateTransferReq{
			Amount:             t.AuthorAmount,
			DestinationAccount: *authorProfile.ExternalAccountRef,
			IdempotencyKey:     transferKey(t.ID, "author"),
			Metadata:           map[string]string{"transaction_id": t.ID, "leg": "author"},
		})
		if err != nil {
			return s.fail(ctx, t.ID, fmt.Errorf("author transfer: %w", err))
		}
		if err := s.trx.SetAuthorTransferRef(ctx, t.ID, ref.Ref); err != nil {
			return "", err
		}
	}

	if payAffiliate && t.AffiliateTransferRef == nil {
		ref, err := s.rail.CreateTransfer(ctx, payrail.CreateTransferReq{
			Amount:             t.AffiliateAmount,
			DestinationAccount: *affiliateProfile.ExternalAccountRef,
			IdempotencyKey:     transferKey(t.ID, "affiliate"),
			Metadata:           map[string]string{"transaction_id": t.ID, "leg": "affiliate"},
		})
		if err != nil {
			return s.fail(ctx, t.ID, fmt.Errorf("affiliate transfer: %w", err))
		}
		if err := s.trx.SetAffiliateTransferRef(ctx, t.ID, ref.Ref); err != nil {
			return "", err
		}
	}

	// A zero-amount entry ends up here directly: nothing to transfer, but
	// settlement is finished.
	won, err := s.trx.SetCompleted(ctx, t.ID)
	if err != nil {
		return "", err
	}
	if !won {
		return "", nil
	}
	metrics.TransfersTotal.WithLabelValues("completed").Inc()
	s.audit(t.ID, "transfer_completed", "")
	return models.TransferCompleted, nil
}

func (s *SettlementService) hold(ctx context.Context, id, reason string) (models.TransferStatus, error) {
	won, err := s.trx.SetHeld(ctx, id)
	if err != nil {
		return "", err
	}
	if !won {
		return "", nil
	}
	metrics.TransfersTotal.WithLabelValues("held").Inc()
	s.audit(id, "transfer_held", reason)
	return models.TransferHeld, nil
}

// fail records a rail error and parks the entry at failed. No in-cycle
// retry: an ambiguous partial success must not be replayed until the next
// cycle, where the idempotency key returns the original result.
func (s *SettlementService) fail(ctx context.Context, id string, cause error) (models.TransferStatus, error) {
	won, err := s.trx.SetFailed(ctx, id, cause.Error())
	if err != nil {
		return "", err
	}
	if !won {
		return "", cause
	}
	metrics.TransfersTotal.WithLabelValues("failed").Inc()
	s.audit(id, "transfer_failed", cause.Error())
	return models.TransferFailed, cause
}

// SweepHeld re-evaluates held entries against current eligibility and
// re-admits the ones that now pass. Entries that remain ineligible stay held
// indefinitely; holding is a wait state, not an error.
func (s *SettlementService) SweepHeld(ctx context.Context) (int, error) {
	held, err := s.trx.ListHeld(ctx, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range held {
		_, authorOK, err := s.recipientProfile(ctx, t.RecipientAuthorID)
		if err != nil {
			return count, err
		}
		if !authorOK {
			continue
		}
		if t.AffiliateAmount > 0 && t.RecipientAffiliateID != nil {
			_, affOK, err := s.recipientProfile(ctx, *t.RecipientAffiliateID)
			if err != nil {
				return count, err
			}
			if !affOK {
				continue
			}
		}
		won, err := s.trx.ReadmitHeld(ctx, t.ID)
		if err != nil {
			return count, err
		}
		if won {
			count++
			metrics.SweepReadmittedTotal.Inc()
			s.audit(t.ID, "transfer_readmitted", "eligibility restored")
		}
	}
	return count, nil
}

func transferKey(txID, leg string) string { return txID + ":" + leg }
