package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
)

type Repositories struct {
	Transactions repo.Transactions
	Profiles     repo.PayoutProfiles
	Balances     repo.Balances
	Withdrawals  repo.Withdrawals
	Users        repo.Users
	AuditLogs    repo.AuditLogs
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions: &transactionsRepo{pool},
		Profiles:     &profilesRepo{pool},
		Balances:     &balancesRepo{pool},
		Withdrawals:  &withdrawalsRepo{pool},
		Users:        &usersRepo{pool},
		AuditLogs:    &auditLogsRepo{pool},
	}
}
