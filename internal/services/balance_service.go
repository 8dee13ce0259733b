package services

import (
	"context"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

type BalanceService struct{ r repo.Balances }

func NewBalanceService(r repo.Balances) *BalanceService { return &BalanceService{r: r} }

func (s *BalanceService) Current(ctx context.Context, userID string) (models.Balance, error) {
	return s.r.Get(ctx, userID)
}
