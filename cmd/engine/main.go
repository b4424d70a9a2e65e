package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/guardline/abusegate/pkg/audit"
	"github.com/guardline/abusegate/pkg/cache"
	"github.com/guardline/abusegate/pkg/common"
	"github.com/guardline/abusegate/pkg/config"
	"github.com/guardline/abusegate/pkg/enforce"
	handlers "github.com/guardline/abusegate/pkg/handlers/http"
	"github.com/guardline/abusegate/pkg/infra/database"
	infraLogger "github.com/guardline/abusegate/pkg/infra/logger"
	"github.com/guardline/abusegate/pkg/infra/repository"
	"github.com/guardline/abusegate/pkg/middleware"
	"github.com/guardline/abusegate/pkg/notify"
	"github.com/guardline/abusegate/pkg/ratelimit"
	"github.com/guardline/abusegate/pkg/reputation"
	"github.com/guardline/abusegate/pkg/risk"
	"github.com/guardline/abusegate/pkg/server"
	"github.com/guardline/abusegate/pkg/server/router"
	"github.com/guardline/abusegate/pkg/waf"
	"github.com/guardline/abusegate/pkg/worker"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.NewLogger()

	if err := config.Load("./config"); err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	cfg := config.GetConfig()

	db, err := database.NewDB(logger, cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	store := cache.NewRedisStore(cfg.Redis, common.StoreCallTimeout)

	eventRepo := repository.NewEventRepository(db.DB)
	interventionRepo := repository.NewInterventionRepository(db.DB)

	sink := audit.NewSink(logger, eventRepo, cfg.Audit, nil)

	var notifier notify.Notifier
	if cfg.Notifications.Enabled {
		kafkaNotifier, err := notify.NewKafkaNotifier(cfg.Notifications, logger)
		if err != nil {
			logger.Fatalf("failed to initialize kafka notifier: %v", err)
		}
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	customSignatures, err := waf.SignaturesFromSettings(cfg.Security.CustomSignatures)
	if err != nil {
		logger.Fatalf("failed to decode custom signatures: %v", err)
	}
	inspector, err := waf.NewInspector(logger, customSignatures)
	if err != nil {
		logger.Fatalf("failed to compile inspection signatures: %v", err)
	}

	ledger := reputation.NewLedger(store, sink, logger, cfg.Blocking, nil)
	limiter := ratelimit.NewLimiter(store, sink, logger, cfg.RateLimits)
	profiles := risk.NewProfileBuilder(eventRepo, logger, nil)
	scorer := risk.NewScorer(profiles, logger, cfg.Risk, nil)
	enforcer := enforce.NewEnforcer(store, interventionRepo, sink, notifier, logger, cfg.Risk, nil)
	assessor := worker.NewAssessor(scorer, enforcer, profiles, sink, logger,
		time.Duration(cfg.Risk.AssessInterval)*time.Second)

	// Detectors and the assessor ride the audit stream.
	sink.Subscribe(ledger.ObserveEvent)
	sink.Subscribe(assessor.ObserveEvent)

	securityMiddleware := middleware.NewSecurityMiddleware(enforcer, ledger, limiter, inspector, sink, logger)

	handlerTransport := handlers.HandlerTransport{
		ListEventsHandler:    handlers.NewListEventsHandler(logger, sink),
		ReportEventHandler:   handlers.NewReportEventHandler(logger, sink),
		CreateBlockHandler:   handlers.NewCreateBlockHandler(logger, ledger),
		RecentThreatsHandler: handlers.NewRecentThreatsHandler(logger, sink),
	}

	srv := server.NewBaseServer(cfg, logger).
		WithRouters(router.NewSecurityRouter(securityMiddleware, handlerTransport))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := profiles.RebuildAll(ctx); err != nil {
		logger.WithError(err).Warn("initial profile rebuild failed, starting with cold profiles")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		sink.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		assessor.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		profiles.Run(groupCtx, time.Duration(cfg.Risk.RebuildInterval)*time.Second)
		return nil
	})
	group.Go(func() error {
		return srv.Run()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return srv.Shutdown()
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("engine stopped with error")
	}
	sink.Wait()
	logger.Info("engine gracefully stopped")
}
