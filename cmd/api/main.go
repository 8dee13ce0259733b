package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/api"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/auth"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/config"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/db"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/logger"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/metrics"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/payrail"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/repository/postgres"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/services"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/worker"
)

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

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(cfg.DispatchWorkers)
	defer wp.Stop()

	rail := payrail.NewHTTP(cfg.RailBaseURL, cfg.RailAPIKey)
	tm := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)

	metrics.Init()
	r := api.NewRouter(api.RouterDeps{
		Cfg:           cfg,
		TM:            tm,
		UserSvc:       services.NewUserService(repos.Users),
		LedgerSvc:     services.NewLedgerService(repos.Transactions, repos.Profiles, repos.AuditLogs),
		SettlementSvc: services.NewSettlementService(repos.Transactions, repos.Profiles, repos.AuditLogs, rail, wp),
		BalanceSvc:    services.NewBalanceService(repos.Balances),
		WithdrawalSvc: services.NewWithdrawalService(repos.Withdrawals, repos.Profiles, repos.AuditLogs, rail, cfg.WithdrawalMinAmount),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
