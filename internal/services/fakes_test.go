package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/payrail"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

// fakeLedger is an in-memory repo.Transactions with the same
// compare-and-set semantics as the postgres implementation.
type fakeLedger struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txs: map[string]*models.Transaction{}}
}

func (f *fakeLedger) add(t models.Transaction) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.PaymentStatus == "" {
		t.PaymentStatus = models.PaymentPaid
	}
	if t.TransferStatus == "" {
		t.TransferStatus = models.TransferReady
	}
	cp := t
	f.txs[t.ID] = &cp
	return t.ID
}

func (f *fakeLedger) Ingest(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if !t.SplitValid() {
		return models.Transaction{}, repo.ErrInvalidSplit
	}
	t.TransferStatus = models.TransferPending
	id := f.add(t)
	return *f.txs[id], nil
}

func (f *fakeLedger) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return *t, nil
}

func (f *fakeLedger) ListByRecipient(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	return nil, nil
}

func (f *fakeLedger) MarkReady(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if t.TransferStatus != models.TransferPending || t.PaymentStatus != models.PaymentPaid || !t.SplitValid() {
		return repo.ErrNotPromotable
	}
	t.TransferStatus = models.TransferReady
	return nil
}

func (f *fakeLedger) MarkRefunded(ctx context.Context, id string, partial bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if partial {
		t.PaymentStatus = models.PaymentPartiallyRefunded
	} else {
		t.PaymentStatus = models.PaymentRefunded
	}
	return nil
}

func (f *fakeLedger) listByStatus(status models.TransferStatus, limit int) []models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, t := range f.txs {
		if t.TransferStatus == status && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out
}

func (f *fakeLedger) ListReady(ctx context.Context, limit int) ([]models.Transaction, error) {
	return f.listByStatus(models.TransferReady, limit), nil
}

func (f *fakeLedger) ListHeld(ctx context.Context, limit int) ([]models.Transaction, error) {
	return f.listByStatus(models.TransferHeld, limit), nil
}

func (f *fakeLedger) cas(id string, from, to models.TransferStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[id]
	if !ok || t.TransferStatus != from {
		return false, nil
	}
	if to == models.TransferCompleted && t.PaymentStatus != models.PaymentPaid {
		return false, nil
	}
	t.TransferStatus = to
	return true, nil
}

func (f *fakeLedger) SetHeld(ctx context.Context, id string) (bool, error) {
	return f.cas(id, models.TransferReady, models.TransferHeld)
}

func (f *fakeLedger) SetFailed(ctx context.Context, id, reason string) (bool, error) {
	won, err := f.cas(id, models.TransferReady, models.TransferFailed)
	if won {
		f.mu.Lock()
		f.txs[id].TransferError = &reason
		f.mu.Unlock()
	}
	return won, err
}

func (f *fakeLedger) SetCompleted(ctx context.Context, id string) (bool, error) {
	return f.cas(id, models.TransferReady, models.TransferCompleted)
}

func (f *fakeLedger) ReadmitHeld(ctx context.Context, id string) (bool, error) {
	return f.cas(id, models.TransferHeld, models.TransferReady)
}

func (f *fakeLedger) SetAuthorTransferRef(ctx context.Context, id, ref string) error {
	return f.setRef(id, ref, func(t *models.Transaction) **string { return &t.AuthorTransferRef })
}

func (f *fakeLedger) SetAffiliateTransferRef(ctx context.Context, id, ref string) error {
	return f.setRef(id, ref, func(t *models.Transaction) **string { return &t.AffiliateTransferRef })
}

func (f *fakeLedger) setRef(id, ref string, field func(*models.Transaction) **string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txs[id]
	if !ok {
		return repo.ErrNotFound
	}
	slot := field(t)
	if *slot == nil {
		*slot = &ref
		return nil
	}
	if **slot == ref {
		return nil
	}
	return repo.ErrInvalidStatus
}

// fakeProfiles is an in-memory repo.PayoutProfiles.
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]models.PayoutProfile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]models.PayoutProfile{}}
}

func (f *fakeProfiles) enable(userID, accountRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[userID] = models.PayoutProfile{
		UserID:             userID,
		ExternalAccountRef: &accountRef,
		PayoutsEnabled:     true,
		ChargesEnabled:     true,
	}
}

func (f *fakeProfiles) disable(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	p.UserID = userID
	p.PayoutsEnabled = false
	f.profiles[userID] = p
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (models.PayoutProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return models.PayoutProfile{}, repo.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) Upsert(ctx context.Context, p models.PayoutProfile) (models.PayoutProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.UserID] = p
	return p, nil
}

// fakeRail records transfers and dedups by idempotency key, returning the
// original ref on replay like the real rail.
type fakeRail struct {
	mu      sync.Mutex
	byKey   map[string]string
	calls   []payrail.CreateTransferReq
	failFor map[string]error // destination account -> error
}

func newFakeRail() *fakeRail {
	return &fakeRail{byKey: map[string]string{}, failFor: map[string]error{}}
}

func (f *fakeRail) CreateTransfer(ctx context.Context, req payrail.CreateTransferReq) (*payrail.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[req.DestinationAccount]; ok {
		return nil, err
	}
	f.calls = append(f.calls, req)
	if ref, ok := f.byKey[req.IdempotencyKey]; ok {
		return &payrail.Transfer{Ref: ref}, nil
	}
	ref := fmt.Sprintf("tr_%d", len(f.byKey)+1)
	f.byKey[req.IdempotencyKey] = ref
	return &payrail.Transfer{Ref: ref}, nil
}

func (f *fakeRail) distinctRefs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]struct{}{}
	for _, ref := range f.byKey {
		seen[ref] = struct{}{}
	}
	return len(seen)
}

type nopAudit struct{}

func (nopAudit) Create(ctx context.Context, l models.AuditLog) error { return nil }
