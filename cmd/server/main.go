package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/license-hub/license-hub/internal/api/http"
	"github.com/license-hub/license-hub/internal/application/device"
	"github.com/license-hub/license-hub/internal/application/ledger"
	"github.com/license-hub/license-hub/internal/application/processor"
	"github.com/license-hub/license-hub/internal/application/validation"
	"github.com/license-hub/license-hub/internal/config"
	domainAudit "github.com/license-hub/license-hub/internal/domain/audit"
	"github.com/license-hub/license-hub/internal/domain/billing"
	"github.com/license-hub/license-hub/internal/domain/devicesession"
	"github.com/license-hub/license-hub/internal/domain/license"
	"github.com/license-hub/license-hub/internal/infrastructure/cache"
	"github.com/license-hub/license-hub/internal/infrastructure/mailer"
	"github.com/license-hub/license-hub/internal/infrastructure/memory"
	"github.com/license-hub/license-hub/internal/infrastructure/postgres"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	// repositories
	var (
		ledgerRepo   billing.Repository
		customerRepo license.Repository
		sessionRepo  devicesession.Repository
		auditRepo    domainAudit.Repository
	)
	switch cfg.StoreBackend {
	case "memory":
		ledgerRepo = memory.NewLedgerRepository()
		customerRepo = memory.NewCustomerRepository()
		sessionRepo = memory.NewSessionRepository()
		auditRepo = memory.NewAuditRepository()
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		ledgerRepo = postgres.NewLedgerRepository(pool)
		customerRepo = postgres.NewCustomerRepository(pool)
		sessionRepo = postgres.NewSessionRepository(pool)
		auditRepo = postgres.NewAuditRepository(pool)
	}

	var validationCache cache.ValidationCache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr)
		if err := redisCache.Ping(ctx); err != nil {
			log.Fatalf("redis error: %v", err)
		}
		validationCache = redisCache
	} else {
		validationCache = cache.NewMemoryCache()
	}

	mail := mailer.NewLogMailer(logger)

	clk := license.Clock{
		TrialPeriod: cfg.TrialPeriod,
		TrialGrace:  cfg.TrialGrace,
		OfflineCap:  cfg.OfflineCap,
	}

	// services
	ledgerSvc := ledger.NewService(ledgerRepo, cfg.LedgerLease, cfg.LedgerMaxAttempts, logger)
	processorSvc := processor.NewService(customerRepo, sessionRepo, auditRepo, mail, processor.Config{
		PaymentGrace:     cfg.PaymentGrace,
		CanceledGrace:    cfg.CanceledGrace,
		TrialPeriod:      cfg.TrialPeriod,
		TrialGrace:       cfg.TrialGrace,
		GraceWarningLead: cfg.GraceWarningLead,
	}, logger)
	deviceSvc := device.NewService(sessionRepo, cfg.HeartbeatInterval, logger)
	validationSvc := validation.NewService(customerRepo, validationCache, clk, logger)

	// API server
	apiServer := httpapi.NewServer(ledgerSvc, processorSvc, deviceSvc, validationSvc, []byte(cfg.WebhookSecret), cfg.SignatureTolerance, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	go func() {
		ticker := time.NewTicker(cfg.LapseSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			n, err := processorSvc.ExpireLapsed(context.Background(), time.Now().UTC())
			if err != nil {
				logger.Error().Err(err).Msg("lapse sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("expired", n).Msg("lapse sweep")
			}
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
