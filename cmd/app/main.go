// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-subscription-payments/internal/config"
	"ai-subscription-payments/internal/domain/model"
	"ai-subscription-payments/internal/domain/ports/adapter"
	"ai-subscription-payments/internal/domain/ports/repository"
	"ai-subscription-payments/internal/infra/adapters/notify"
	pg "ai-subscription-payments/internal/infra/db/postgres"
	"ai-subscription-payments/internal/infra/gateway"
	"ai-subscription-payments/internal/infra/logging"
	"ai-subscription-payments/internal/infra/metrics"
	red "ai-subscription-payments/internal/infra/redis"
	"ai-subscription-payments/internal/infra/sched"
	"ai-subscription-payments/internal/infra/web"
	"ai-subscription-payments/internal/usecase"
)

// Populated at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().
		Str("version", version).
		Str("database", logging.Redact(cfg.Database.URL, cfg.Runtime.Dev)).
		Msg("configuration loaded")

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				st := pool.Stat()
				metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
			}
		}
	}()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &red.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	guard := red.NewReplayGuard(redisClient, cfg.Redis.ReplayTTL, logger)

	// ---- Repositories ----
	payRepo := pg.NewPaymentRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	txm := pg.NewTxManager(pool)

	// ---- Notifier ----
	var notifier adapter.PaymentNotifier = notify.NoopNotifier{}
	if cfg.Notify.TelegramToken != "" && len(cfg.Notify.AdminChatIDs) > 0 {
		tg, err := notify.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.AdminChatIDs, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier unavailable; using noop")
		} else {
			notifier = tg
		}
	}

	// ---- Providers + manager ----
	manager := gateway.NewManager(logger)
	uc := usecase.NewPaymentUseCase(payRepo, planRepo, subRepo, txm, manager, notifier, logger)
	onSuccess := func(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error {
		return uc.ActivateSubscription(ctx, tx, rec)
	}

	manager.Register(gateway.NewStripe(gateway.StripeConfig{
		Enabled:       cfg.Payment.Stripe.Enabled,
		TestMode:      cfg.Payment.Stripe.TestMode,
		APIKey:        cfg.Payment.Stripe.APIKey,
		WebhookSecret: cfg.Payment.Stripe.WebhookSecret,
		APIBase:       cfg.Payment.Stripe.APIBase,
	}, payRepo, txm, onSuccess, logger))

	manager.Register(gateway.NewEpay(gateway.EpayConfig{
		Enabled:     cfg.Payment.Epay.Enabled,
		TestMode:    cfg.Payment.Epay.TestMode,
		MerchantID:  cfg.Payment.Epay.MerchantID,
		MerchantKey: cfg.Payment.Epay.Key,
		APIBase:     cfg.Payment.Epay.APIBase,
		SignType:    cfg.Payment.Epay.SignType,
		Channel:     cfg.Payment.Epay.Channel,
		NotifyURL:   cfg.Payment.Epay.NotifyURL,
		ReturnURL:   cfg.Payment.Epay.ReturnURL,
	}, payRepo, txm, onSuccess, logger))

	alipay, err := gateway.NewAlipay(gateway.AlipayConfig{
		Enabled:         cfg.Payment.Alipay.Enabled,
		TestMode:        cfg.Payment.Alipay.TestMode,
		AppID:           cfg.Payment.Alipay.AppID,
		PrivateKey:      cfg.Payment.Alipay.PrivateKey,
		AlipayPublicKey: cfg.Payment.Alipay.AlipayPublicKey,
		GatewayURL:      cfg.Payment.Alipay.GatewayURL,
		NotifyURL:       cfg.Payment.Alipay.NotifyURL,
		ReturnURL:       cfg.Payment.Alipay.ReturnURL,
	}, payRepo, txm, onSuccess, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("alipay gateway")
	}
	manager.Register(alipay)

	wechat, err := gateway.NewWeChatPay(gateway.WeChatPayConfig{
		Enabled:           cfg.Payment.WeChatPay.Enabled,
		TestMode:          cfg.Payment.WeChatPay.TestMode,
		MchID:             cfg.Payment.WeChatPay.MchID,
		AppID:             cfg.Payment.WeChatPay.AppID,
		SerialNo:          cfg.Payment.WeChatPay.SerialNo,
		PrivateKey:        cfg.Payment.WeChatPay.PrivateKey,
		APIv3Key:          cfg.Payment.WeChatPay.APIv3Key,
		PlatformPublicKey: cfg.Payment.WeChatPay.PlatformPublicKey,
		APIBase:           cfg.Payment.WeChatPay.APIBase,
		NotifyURL:         cfg.Payment.WeChatPay.NotifyURL,
	}, payRepo, txm, onSuccess, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("wechatpay gateway")
	}
	manager.Register(wechat)

	if cfg.Payment.DefaultProvider != "" {
		if err := manager.SetDefault(cfg.Payment.DefaultProvider); err != nil {
			logger.Fatal().Err(err).Msg("default provider")
		}
	}
	if !manager.HasAvailableProviders() {
		logger.Warn().Msg("no payment provider enabled; payment creation will fail")
	}

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Web.JWTSecret, cfg.Web.SecureCookie, cfg.Web.CookieDomain, cfg.Web.SessionTTL)
	srv := web.NewServer(uc, manager, guard, auth, cfg.Web.AdminKey, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Payment reconciler ----
	reconciler := sched.NewPaymentReconciler(manager, payRepo, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.StaleAfter, logger)
	go reconciler.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
