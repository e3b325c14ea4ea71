package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"VPN-Subscription-bot/config"
	"VPN-Subscription-bot/internal/admin"
	"VPN-Subscription-bot/internal/bot"
	"VPN-Subscription-bot/internal/db"
	"VPN-Subscription-bot/internal/lock"
	"VPN-Subscription-bot/internal/logger"
	"VPN-Subscription-bot/internal/metrics"
	"VPN-Subscription-bot/internal/payments"
	"VPN-Subscription-bot/internal/servers"
	"VPN-Subscription-bot/internal/services"
	"VPN-Subscription-bot/internal/xray"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()
	metrics.MustRegister()

	ledger, err := db.Open(cfg.DatabaseURL, zl)
	if err != nil {
		zl.Fatal("open database", zap.Error(err))
	}
	defer ledger.Close()

	registry, err := servers.NewRegistry(cfg)
	if err != nil {
		zl.Fatal("load servers", zap.Error(err))
	}
	gateway := xray.NewManager(registry, zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoGenerateKeys() {
		gateway.EnsureAllKeys(ctx)
	}

	var locker lock.Locker = lock.NewMemory()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zl.Fatal("connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		locker = lock.NewRedis(rdb, zl)
		zl.Info("payment locks in redis", zap.String("addr", cfg.RedisAddr))
	}

	botapi, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		zl.Fatal("create bot", zap.Error(err))
	}
	if cfg.Bot.Username == "" {
		cfg.Bot.Username = botapi.Self.UserName
	}
	alert := logger.NewAdminNotifier(botapi, cfg.AdminTelegramID, zl)
	notifier := bot.NewNotifier(botapi, zl)

	providers := payments.NewManager(cfg.Payments, payments.Options{BotUsername: cfg.Bot.Username}, zl)
	provisioner := services.NewProvisioner(ledger, gateway, zl)
	reconciler := services.NewReconciler(ledger, providers, provisioner, locker, notifier, services.ReconcilerConfig{
		Interval: cfg.Reconcile.Interval,
		FirstMin: cfg.Reconcile.FirstDelay,
		FirstMax: cfg.Reconcile.FirstMax,
		Grace:    cfg.Reconcile.Grace,
	}, zl)
	reconciler.Run()
	if _, err := reconciler.Resume(ctx); err != nil {
		zl.Error("resume pending payments", zap.Error(err))
	}

	svc := services.NewVPNService(ledger, registry, gateway, providers, reconciler, provisioner, services.VPNOptions{
		Plans: cfg.Plans,
		Trial: cfg.Trial,
	}, zl)
	maintenance := services.NewMaintenance(ledger, provisioner, notifier, alert, zl)
	statusChecker := servers.NewStatusChecker(registry, alert, zl)
	backups := admin.NewBackups(cfg.DatabaseURL, "backups", alert, zl)
	adminHandler := admin.NewHandler(admin.Deps{
		Sender:   botapi,
		AdminID:  cfg.AdminTelegramID,
		Store:    ledger,
		Registry: registry,
		Gateway:  gateway,
		Statuses: statusChecker,
		Tasks:    reconciler,
		Backups:  backups,
		Log:      zl,
	})

	c := cron.New(cron.WithLogger(logger.Cron(zl)), cron.WithChain(cron.Recover(logger.Cron(zl))))
	// Статус серверов
	c.AddFunc("@every 1m", func() { statusChecker.Update(ctx) })
	// Бэкап БД раз в сутки
	c.AddFunc("0 3 * * *", func() { backups.Auto(ctx) })
	// Отключение просроченных подписок
	c.AddFunc("30 3 * * *", func() {
		if _, err := maintenance.DeactivateExpired(ctx); err != nil {
			zl.Error("deactivate expired subscriptions", zap.Error(err))
		}
	})
	// Уведомления о скором окончании подписки
	c.AddFunc("0 10 * * *", func() {
		if _, err := maintenance.NotifyExpiring(ctx, 72*time.Hour); err != nil {
			zl.Error("notify expiring subscriptions", zap.Error(err))
		}
	})
	c.Start()
	go statusChecker.Update(ctx)

	var webhook http.Handler
	if secret := cfg.Payments.YooKassa.SecretKey; secret != "" {
		webhook = services.NewWebhookHandler(secret, reconciler, alert, zl)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           services.NewRouter(webhook, metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zl.Info("http server started", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("http server", zap.Error(err))
			stop()
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := botapi.GetUpdatesChan(u)
	zl.Info("bot started", zap.String("username", botapi.Self.UserName), zap.Strings("providers", providers.Names()))
	bot.New(botapi, svc, adminHandler, alert, zl).Run(ctx, updates)

	zl.Info("shutting down")
	botapi.StopReceivingUpdates()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	<-c.Stop().Done()
	reconciler.Stop()
}
