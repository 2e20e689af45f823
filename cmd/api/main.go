package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tonplace/backend/internal/config"
	"github.com/tonplace/backend/internal/db"
	"github.com/tonplace/backend/internal/events"
	apphttp "github.com/tonplace/backend/internal/http"
	"github.com/tonplace/backend/internal/http/handlers"
	"github.com/tonplace/backend/internal/ledger"
	"github.com/tonplace/backend/internal/repositories"
	"github.com/tonplace/backend/internal/secrets"
	"github.com/tonplace/backend/internal/services"
	"github.com/tonplace/backend/internal/ton"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// TON
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

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	dealRepo := repositories.NewDealRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	notifRepo := repositories.NewNotificationRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	botClient := services.NewBotClient(cfg.BotInternalURL, log)
	notifier := services.NewBotNotifier(botClient, userRepo)
	alerts := services.NewAlertService(notifier, notifRepo, cfg, log)
	ldg := ledger.New(pool, txRepo, log)
	liquidity := services.NewLiquidityService(tonClient, txRepo, alerts, cfg, log)
	walletService := services.NewWalletService(walletRepo, auditRepo, cfg, log)
	withdrawService := services.NewWithdrawService(ldg, txRepo, walletRepo, auditRepo, liquidity, alerts, publisher, cfg, log)
	dealService := services.NewDealService(dealRepo, escrowRepo, walletRepo, txRepo, auditRepo, tonClient, cipher, notifier, publisher, pool, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, cfg, log)
	userHandler := handlers.NewUserHandler(userRepo, log)
	walletHandler := handlers.NewWalletHandler(walletService, log)
	dealHandler := handlers.NewDealHandler(dealService, log)
	financeHandler := handlers.NewFinanceHandler(ldg, withdrawService, txRepo, log)
	adminHandler := handlers.NewAdminHandler(liquidity, txRepo, pool, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, walletHandler, dealHandler, financeHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
