package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/config"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/db"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/logger"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/metrics"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/payrail"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/repository/postgres"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/services"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/worker"
)

// settler runs the batch side of the settlement core: the transfer
// dispatcher, the held-transfer sweeper, and the queued-withdrawal payout
// executor, each on its own ticker. Every pass is bounded; entries not
// reached in a cycle wait for the next one.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(cfg.DispatchWorkers)
	defer wp.Stop()

	rail := payrail.NewHTTP(cfg.RailBaseURL, cfg.RailAPIKey)
	metrics.Init()

	settlementSvc := services.NewSettlementService(repos.Transactions, repos.Profiles, repos.AuditLogs, rail, wp)
	withdrawalSvc := services.NewWithdrawalService(repos.Withdrawals, repos.Profiles, repos.AuditLogs, rail, cfg.WithdrawalMinAmount)

	dispatchT := time.NewTicker(cfg.DispatchInterval)
	sweepT := time.NewTicker(cfg.SweepInterval)
	payoutT := time.NewTicker(cfg.PayoutInterval)
	defer dispatchT.Stop()
	defer sweepT.Stop()
	defer payoutT.Stop()

	log.Info("settler starting",
		"dispatch_interval", cfg.DispatchInterval,
		"sweep_interval", cfg.SweepInterval,
		"payout_interval", cfg.PayoutInterval,
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("settler shutting down")
			return
		case <-dispatchT.C:
			cycleCtx, cancel := context.WithTimeout(context.Background(), cfg.DispatchInterval)
			res, err := settlementSvc.DispatchReady(cycleCtx, cfg.DispatchBatchSize)
			cancel()
			if err != nil {
				log.Error("dispatch cycle", "err", err)
				continue
			}
			if res.Processed+res.Failed+res.Skipped > 0 {
				log.Info("dispatch cycle",
					"processed", res.Processed, "failed", res.Failed,
					"held", res.Skipped, "errors", len(res.Errors))
			}
			for _, e := range res.Errors {
				log.Warn("dispatch error", "detail", e)
			}
		case <-sweepT.C:
			cycleCtx, cancel := context.WithTimeout(context.Background(), cfg.SweepInterval)
			n, err := settlementSvc.SweepHeld(cycleCtx)
			cancel()
			if err != nil {
				log.Error("sweep cycle", "err", err)
				continue
			}
			if n > 0 {
				log.Info("sweep cycle", "readmitted", n)
			}
		case <-payoutT.C:
			cycleCtx, cancel := context.WithTimeout(context.Background(), cfg.PayoutInterval)
			paid, failed, err := withdrawalSvc.ProcessQueued(cycleCtx, cfg.DispatchBatchSize)
			cancel()
			if err != nil {
				log.Error("payout cycle", "err", err)
				continue
			}
			if paid+failed > 0 {
				log.Info("payout cycle", "paid", paid, "failed", failed)
			}
		}
	}
}
