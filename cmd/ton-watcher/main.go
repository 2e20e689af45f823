package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/db"
	"github.com/tonplace/backend/internal/events"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/services"
	"github.com/tonplace/backend/internal/ton"
	"github.com/tonplace/backend/internal/watcher"
)

// TON watcher process: credits deposits and confirms broadcasted payouts
// against chain history.
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

	userRepo := repositories.NewUserRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	transferRepo := repositories.NewTransferRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	dealRepo := repositories.NewDealRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	eventRepo := repositories.NewDepositEventRepo(pool)
	notifRepo := repositories.NewNotificationRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)
	botClient := services.NewBotClient(cfg.BotInternalURL, log)
	notifier := services.NewBotNotifier(botClient, userRepo)

	w := watcher.New(
		pool, rdb, tonClient,
		txRepo, transferRepo, escrowRepo, dealRepo, walletRepo, eventRepo, notifRepo,
		notifier, publisher, cfg, log,
	)

	go w.Run(ctx, 15*time.Second)

	log.Info("ton-watcher started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down ton-watcher")
	cancel()
}
