package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

// fakeWithdrawals mirrors the postgres contract: creation re-checks the
// withdrawable balance atomically, status moves are compare-and-set.
type fakeWithdrawals struct {
	mu       sync.Mutex
	credits  map[string]int64 // lifetime completed-settlement credit per user
	requests map[string]*models.WithdrawalRequest
}

func newFakeWithdrawals() *fakeWithdrawals {
	return &fakeWithdrawals{credits: map[string]int64{}, requests: map[string]*models.WithdrawalRequest{}}
}

func (f *fakeWithdrawals) withdrawableLocked(userID string) int64 {
	total := f.credits[userID]
	for _, w := range f.requests {
		if w.UserID != userID {
			continue
		}
		switch w.Status {
		case models.WithdrawalRequested, models.WithdrawalQueued, models.WithdrawalProcessing, models.WithdrawalPaid:
			total -= w.Amount
		}
	}
	if total < 0 {
		total = 0
	}
	return total
}

func (f *fakeWithdrawals) Create(ctx context.Context, userID string, amount int64) (models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if amount > f.withdrawableLocked(userID) {
		return models.WithdrawalRequest{}, repo.ErrInsufficientBalance
	}
	w := &models.WithdrawalRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Status:      models.WithdrawalRequested,
		RequestedAt: time.Now(),
	}
	f.requests[w.ID] = w
	return *w, nil
}

func (f *fakeWithdrawals) Cancel(ctx context.Context, userID, id string) (models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.requests[id]
	if !ok || w.UserID != userID {
		return models.WithdrawalRequest{}, repo.ErrNotFound
	}
	if !w.Cancelable() {
		return models.WithdrawalRequest{}, repo.ErrNotCancelable
	}
	now := time.Now()
	w.Status = models.WithdrawalCanceled
	w.CanceledAt = &now
	return *w, nil
}

func (f *fakeWithdrawals) GetByID(ctx context.Context, id string) (models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.requests[id]
	if !ok {
		return models.WithdrawalRequest{}, repo.ErrNotFound
	}
	return *w, nil
}

func (f *fakeWithdrawals) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.WithdrawalRequest, error) {
	return nil, nil
}

func (f *fakeWithdrawals) Queue(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.requests[id]
	if !ok {
		return repo.ErrNotFound
	}
	if w.Status != models.WithdrawalRequested {
		return repo.ErrInvalidStatus
	}
	now := time.Now()
	w.Status = models.WithdrawalQueued
	w.QueuedAt = &now
	return nil
}

func (f *fakeWithdrawals) ClaimQueued(ctx context.Context, limit int) ([]models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WithdrawalRequest
	now := time.Now()
	for _, w := range f.requests {
		if w.Status == models.WithdrawalQueued && len(out) < limit {
			w.Status = models.WithdrawalProcessing
			w.ProcessingStartedAt = &now
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeWithdrawals) MarkPaid(ctx context.Context, id, externalRef string) error {
	return f.finish(id, models.WithdrawalPaid, &externalRef, nil)
}

func (f *fakeWithdrawals) MarkFailed(ctx context.Context, id, reason string) error {
	return f.finish(id, models.WithdrawalFailed, nil, &reason)
}

func (f *fakeWithdrawals) finish(id string, status models.WithdrawalStatus, ref, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.requests[id]
	if !ok {
		return repo.ErrNotFound
	}
	if w.Status != models.WithdrawalProcessing {
		return repo.ErrInvalidStatus
	}
	now := time.Now()
	w.Status = status
	w.ProcessedAt = &now
	w.ExternalPayoutRef = ref
	w.FailureReason = reason
	return nil
}

func newWithdrawalEnv(t *testing.T, minAmount int64) (*WithdrawalService, *fakeWithdrawals, *fakeProfiles, *fakeRail) {
	t.Helper()
	wd := newFakeWithdrawals()
	profiles := newFakeProfiles()
	rail := newFakeRail()
	svc := NewWithdrawalService(wd, profiles, nopAudit{}, rail, minAmount)
	return svc, wd, profiles, rail
}

func TestCreateBelowMinimum(t *testing.T) {
	svc, wd, _, _ := newWithdrawalEnv(t, 3000)
	wd.credits["user-1"] = 5000

	_, err := svc.Create(context.Background(), "user-1", 2999)
	require.ErrorIs(t, err, ErrBelowMinimum)
}

func TestCreateConsumesWithdrawableBalance(t *testing.T) {
	svc, wd, _, _ := newWithdrawalEnv(t, 3000)
	wd.credits["user-1"] = 5000

	first, err := svc.Create(context.Background(), "user-1", 4000)
	require.NoError(t, err)
	require.Equal(t, models.WithdrawalRequested, first.Status)

	// 5000 earned minus 4000 pending leaves 1000 < 3000 minimum, but the
	// minimum check fires first; ask for 3000 to hit the balance check.
	_, err = svc.Create(context.Background(), "user-1", 3000)
	require.ErrorIs(t, err, repo.ErrInsufficientBalance)

	// canceling the first request releases its amount
	_, err = svc.Cancel(context.Background(), "user-1", first.ID)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "user-1", 4000)
	require.NoError(t, err)
}

func TestCancelOnlyWhileRequestedOrQueued(t *testing.T) {
	svc, wd, _, _ := newWithdrawalEnv(t, 1000)
	wd.credits["user-1"] = 10000

	w, err := svc.Create(context.Background(), "user-1", 2000)
	require.NoError(t, err)

	require.NoError(t, svc.Queue(context.Background(), w.ID))
	// queued is still cancelable
	got, err := svc.Cancel(context.Background(), "user-1", w.ID)
	require.NoError(t, err)
	require.Equal(t, models.WithdrawalCanceled, got.Status)
	require.NotNil(t, got.CanceledAt)

	w2, err := svc.Create(context.Background(), "user-1", 2000)
	require.NoError(t, err)
	require.NoError(t, svc.Queue(context.Background(), w2.ID))
	_, _, err = svc.ProcessQueued(context.Background(), 10)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), "user-1", w2.ID)
	require.Error(t, err)
}

func TestProcessQueuedPaysViaRail(t *testing.T) {
	svc, wd, profiles, rail := newWithdrawalEnv(t, 1000)
	wd.credits["user-1"] = 10000
	profiles.enable("user-1", "acct_user1")

	w, err := svc.Create(context.Background(), "user-1", 5000)
	require.NoError(t, err)
	require.NoError(t, svc.Queue(context.Background(), w.ID))

	paid, failed, err := svc.ProcessQueued(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, paid)
	require.Zero(t, failed)

	got, err := svc.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	require.Equal(t, models.WithdrawalPaid, got.Status)
	require.NotNil(t, got.ExternalPayoutRef)
	require.NotNil(t, got.ProcessedAt)

	require.Len(t, rail.calls, 1)
	require.Equal(t, "withdrawal:"+w.ID, rail.calls[0].IdempotencyKey)
	require.Equal(t, int64(5000), rail.calls[0].Amount)
}

func TestProcessQueuedFailsWhenIneligible(t *testing.T) {
	svc, wd, _, _ := newWithdrawalEnv(t, 1000)
	wd.credits["user-1"] = 10000

	w, err := svc.Create(context.Background(), "user-1", 5000)
	require.NoError(t, err)
	require.NoError(t, svc.Queue(context.Background(), w.ID))

	paid, failed, err := svc.ProcessQueued(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, paid)
	require.Equal(t, 1, failed)

	got, _ := svc.GetByID(context.Background(), w.ID)
	require.Equal(t, models.WithdrawalFailed, got.Status)
	require.NotNil(t, got.FailureReason)
}

func TestProcessQueuedRailErrorIsTerminalPerRequest(t *testing.T) {
	svc, wd, profiles, rail := newWithdrawalEnv(t, 1000)
	wd.credits["user-1"] = 10000
	profiles.enable("user-1", "acct_user1")
	rail.failFor["acct_user1"] = errors.New("rail down")

	w, err := svc.Create(context.Background(), "user-1", 5000)
	require.NoError(t, err)
	require.NoError(t, svc.Queue(context.Background(), w.ID))

	paid, failed, err := svc.ProcessQueued(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, paid)
	require.Equal(t, 1, failed)

	got, _ := svc.GetByID(context.Background(), w.ID)
	require.Equal(t, models.WithdrawalFailed, got.Status)
}
