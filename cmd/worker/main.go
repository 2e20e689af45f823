package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/db"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/ledger"
	"github.com/tonplace/backend/internal/postcheck"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/secrets"
	"github.com/tonplace/backend/internal/services"
	"github.com/tonplace/backend/internal/ton"
)

// Worker process: payout execution and deal settlement.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	tonClient, err := ton.Connect(ctx, ton.ConnectOptions{
		Network:        cfg.TONNetwork,
		LiteServerHost: cfg.LiteServerHost,
		LiteServerPort: cfg.LiteServerPort,
		LiteServerKey:  cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to TON", zap.Error(err))
	}

	var cipher *secrets.Cipher
	if cfg.WalletMasterKeyHex != "" {
		cipher, err = secrets.NewCipher(cfg.WalletMasterKeyHex)
		if err != nil {
			log.Fatal("invalid wallet master key", zap.Error(err))
		}
	}

	// Repos
	userRepo := repositories.NewUserRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	transferRepo := repositories.NewTransferRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	dealRepo := repositories.NewDealRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	notifRepo := repositories.NewNotificationRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	botClient := services.NewBotClient(cfg.BotInternalURL, log)
	notifier := services.NewBotNotifier(botClient, userRepo)
	alerts := services.NewAlertService(notifier, notifRepo, cfg, log)
	ldg := ledger.New(pool, txRepo, log)
	liquidity := services.NewLiquidityService(tonClient, txRepo, alerts, cfg, log)
	sweep := services.NewSweepService(pool, tonClient, walletRepo, transferRepo, cipher, alerts, cfg, log)
	checker := postcheck.NewChecker(cfg.TMEFetchTimeoutMS, cfg.TMEFetchMaxRetries, log)

	payoutWorker := services.NewPayoutWorker(
		pool, txRepo, transferRepo, escrowRepo, dealRepo,
		liquidity, sweep, alerts, notifier, notifRepo, tonClient, publisher, cfg, log,
	)
	settlement := services.NewSettlementService(
		pool, ldg, txRepo, escrowRepo, dealRepo, walletRepo, auditRepo,
		checker, alerts, notifier, publisher, cfg, log,
	)

	go payoutWorker.Run(ctx)
	go settlement.Run(ctx)

	log.Info("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down worker")
	cancel()
}
