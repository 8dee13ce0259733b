package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/worker"
)

func newSettlementEnv(t *testing.T) (*SettlementService, *fakeLedger, *fakeProfiles, *fakeRail) {
	t.Helper()
	ledger := newFakeLedger()
	profiles := newFakeProfiles()
	rail := newFakeRail()
	wp := worker.NewPool(2)
	t.Cleanup(wp.Stop)
	svc := NewSettlementService(ledger, profiles, nopAudit{}, rail, wp)
	return svc, ledger, profiles, rail
}

func splitTx(author, affiliate string) models.Transaction {
	var affID *string
	if affiliate != "" {
		affID = &affiliate
	}
	return models.Transaction{
		PayerID:              "buyer-1",
		RecipientAuthorID:    author,
		RecipientAffiliateID: affID,
		GrossAmount:          10000,
		PlatformFee:          1500,
		AuthorAmount:         8000,
		AffiliateAmount:      500,
	}
}

func TestDispatchCompletesSplitTransaction(t *testing.T) {
	svc, ledger, profiles, rail := newSettlementEnv(t)
	profiles.enable("author-1", "acct_author")
	profiles.enable("aff-1", "acct_aff")
	id := ledger.add(splitTx("author-1", "aff-1"))

	res, err := svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Zero(t, res.Failed)
	require.Zero(t, res.Skipped)
	require.Empty(t, res.Errors)

	got, err := ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.TransferCompleted, got.TransferStatus)
	require.NotNil(t, got.AuthorTransferRef)
	require.NotNil(t, got.AffiliateTransferRef)
	require.NotEqual(t, *got.AuthorTransferRef, *got.AffiliateTransferRef)
	require.Len(t, rail.calls, 2)
}

func TestDispatchHoldsWhenAffiliateIneligible(t *testing.T) {
	svc, ledger, profiles, rail := newSettlementEnv(t)
	profiles.enable("author-1", "acct_author")
	// affiliate never onboarded
	id := ledger.add(splitTx("author-1", "aff-1"))

	res, err := svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Zero(t, res.Processed)

	got, err := ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.TransferHeld, got.TransferStatus)
	// the author is never paid in isolation
	require.Nil(t, got.AuthorTransferRef)
	require.Nil(t, got.AffiliateTransferRef)
	require.Empty(t, rail.calls)
}

func TestDispatchHoldsWhenAuthorIneligible(t *testing.T) {
	svc, ledger, profiles, rail := newSettlementEnv(t)
	profiles.enable("author-1", "acct_author")
	profiles.disable("author-1")
	id := ledger.add(splitTx("author-1", ""))

	res, err := svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)

	got, _ := ledger.GetByID(context.Background(), id)
	require.Equal(t, models.TransferHeld, got.TransferStatus)
	require.Empty(t, rail.calls)
}

func TestDispatchCompletesZeroAmountTransaction(t *testing.T) {
	svc, ledger, profiles, rail := newSettlementEnv(t)
	profiles.enable("author-1", "acct_author")
	id := ledger.add(models.Transaction{
		PayerID:           "buyer-1",
		RecipientAuthorID: "author-1",
		GrossAmount:       1500,
		PlatformFee:       1500,
	})

	res, err := svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	got, _ := ledger.GetByID(context.Background(), id)
	require.Equal(t, models.TransferCompleted, got.TransferStatus)
	require.Empty(t, rail.calls)
}

func TestDispatchRailErrorMarksFailed(t *testing.T) {
	svc, ledger, profiles, rail := newSettlementEnv(t)
	profiles.enable("author-1", "acct_author")
	profiles.enable("aff-1", "acct_aff")
	rail.failFor["acct_author"] = errors.New("rate limited")
	id := ledger.add(splitTx("author-1", "aff-1"))

	res, err := svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)

	got, _ := ledger.GetByID(context.Background(), id)
	require.Equal(t, models.TransferFailed, got.TransferStatus)
	require.NotNil(t, got.TransferError)
	// affiliate leg never attempted after the author leg failed
	require.Empty(t, rail.calls)
}

func TestDispatchIsolatesPerTransactionFailures(t *testing.T) {
	svc, ledger, profiles, rail := newSettlementEnv(t)
	profiles.enable("author-ok", "acct_ok")
	profiles.enable("author-bad", "acct_bad")
	rail.failFor["acct_bad"] = errors.New("network down")
	okID := ledger.add(models.Transaction{
		PayerID: "b", RecipientAuthorID: "author-ok",
		GrossAmount: 1000, PlatformFee: 200, AuthorAmount: 800,
	})
	badID := ledger.add(models.Transaction{
		PayerID: "b", RecipientAuthorID: "author-bad",
		GrossAmount: 1000, PlatformFee: 200, AuthorAmount: 800,
	})

	res, err := svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Failed)

	ok, _ := ledger.GetByID(context.Background(), okID)
	bad, _ := ledger.GetByID(context.Background(), badID)
	require.Equal(t, models.TransferCompleted, ok.TransferStatus)
	require.Equal(t, models.TransferFailed, bad.TransferStatus)
}

// Crash-and-retry: the author leg succeeds, the affiliate leg fails, and a
// later re-dispatch must not issue a second distinct author transfer.
func TestDispatchIdempotentAcrossRetry(t *testing.T) {
	svc, ledger, profiles, rail := newSettlementEnv(t)
	profiles.enable("author-1", "acct_author")
	profiles.enable("aff-1", "acct_aff")
	rail.failFor["acct_aff"] = errors.New("timeout")
	id := ledger.add(splitTx("author-1", "aff-1"))

	res, err := svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	got, _ := ledger.GetByID(context.Background(), id)
	require.Equal(t, models.TransferFailed, got.TransferStatus)
	require.NotNil(t, got.AuthorTransferRef)
	firstRef := *got.AuthorTransferRef

	// operator re-queues the failed entry and the rail recovers
	delete(rail.failFor, "acct_aff")
	_, err = ledger.cas(id, models.TransferFailed, models.TransferReady)
	require.NoError(t, err)

	res, err = svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	got, _ = ledger.GetByID(context.Background(), id)
	require.Equal(t, models.TransferCompleted, got.TransferStatus)
	require.Equal(t, firstRef, *got.AuthorTransferRef)
	// one distinct ref per leg for the lifetime of the row
	require.Equal(t, 2, rail.distinctRefs())
}

func TestSweepReadmitsOnceEligible(t *testing.T) {
	svc, ledger, profiles, _ := newSettlementEnv(t)
	id := ledger.add(splitTx("author-1", "aff-1"))

	// first cycle holds: nobody is onboarded yet
	res, err := svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)

	// still ineligible: sweep is a no-op, holding is a wait state
	n, err := svc.SweepHeld(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	profiles.enable("author-1", "acct_author")
	profiles.enable("aff-1", "acct_aff")

	n, err = svc.SweepHeld(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err = svc.DispatchReady(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	got, _ := ledger.GetByID(context.Background(), id)
	require.Equal(t, models.TransferCompleted, got.TransferStatus)
}

func TestSweepIsIdempotent(t *testing.T) {
	svc, ledger, profiles, _ := newSettlementEnv(t)
	ledger.add(models.Transaction{
		PayerID: "b", RecipientAuthorID: "author-1",
		GrossAmount: 1000, PlatformFee: 200, AuthorAmount: 800,
		TransferStatus: models.TransferHeld,
	})
	profiles.enable("author-1", "acct_author")

	n, err := svc.SweepHeld(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = svc.SweepHeld(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}
