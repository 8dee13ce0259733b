package payrail

import "context"

// CreateTransferReq describes one fund movement to one recipient account.
// IdempotencyKey must be deterministic for the movement it represents; the
// rail returns the original transfer when a key is replayed.
type CreateTransferReq struct {
	Amount             int64
	DestinationAccount string
	IdempotencyKey     string
	Metadata           map[string]string
}

type Transfer struct {
	Ref string
}

type Rail interface {
	CreateTransfer(ctx context.Context, req CreateTransferReq) (*Transfer, error)
}
