package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/SynergyHub/internal/admin"
	"github.com/digkill/SynergyHub/internal/alert"
	"github.com/digkill/SynergyHub/internal/api"
	"github.com/digkill/SynergyHub/internal/config"
	"github.com/digkill/SynergyHub/internal/database"
	"github.com/digkill/SynergyHub/internal/pricing"
	"github.com/digkill/SynergyHub/internal/provider"
	"github.com/digkill/SynergyHub/internal/provider/freepik"
	"github.com/digkill/SynergyHub/internal/provider/gemini"
	"github.com/digkill/SynergyHub/internal/provider/runware"
	"github.com/digkill/SynergyHub/internal/repository"
	"github.com/digkill/SynergyHub/internal/service"
	"github.com/digkill/SynergyHub/internal/storage"
	"github.com/digkill/SynergyHub/internal/tasks"
	"github.com/digkill/SynergyHub/pkg/logger"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the public API, the admin panel and the task poller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply the schema on startup")
}

func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logr := logger.New(cfg.LogLevel)

	signupCredits, err := decimal.NewFromString(cfg.SignupCredits)
	if err != nil {
		return fmt.Errorf("config: SIGNUP_CREDITS: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer db.Close()

	if !skipMigrate {
		if err := database.Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
			return fmt.Errorf("database migrate: %w", err)
		}
	}

	catalog, err := pricing.LoadCatalog(cfg.ModelCatalogPath)
	if err != nil {
		return fmt.Errorf("model catalog: %w", err)
	}

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		return fmt.Errorf("storage uploader: %w", err)
	}
	fetcher := storage.NewFetcher(&http.Client{Timeout: cfg.RequestTimeout}, cfg.DownloadAttempts, cfg.DownloadBackoff, logr)

	adapters := []provider.Adapter{runware.NewClient(cfg, logr)}
	if cfg.FreepikAPIKey != "" {
		adapters = append(adapters, freepik.NewClient(cfg, logr))
	} else {
		logr.Warn("freepik is not configured, skin enhancement is unavailable")
	}
	if cfg.GeminiAPIKey != "" {
		geminiClient, err := gemini.NewClient(ctx, cfg, logr)
		if err != nil {
			return err
		}
		adapters = append(adapters, geminiClient)
	} else {
		logr.Warn("gemini is not configured, inpainting is unavailable")
	}
	registry := provider.NewRegistry(adapters...)

	var store tasks.Store
	if cfg.RedisURL != "" {
		redisStore, err := tasks.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.TaskTTL)
		if err != nil {
			return fmt.Errorf("task store: %w", err)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		logr.Info("REDIS_URL not set, tasks are kept in memory")
		store = tasks.NewMemoryStore(cfg.TaskTTL)
	}

	var alerts service.Alerter = alert.Noop{}
	if cfg.AlertBotToken != "" {
		telegramAlerts, err := alert.NewTelegram(cfg.AlertBotToken, cfg.AlertChatID, "", logr)
		if err != nil {
			return err
		}
		alerts = telegramAlerts
	}

	ledgerService := service.NewLedgerService(repository.NewAccountRepository(db), repository.NewUsageRepository(db), logr)
	voucherService := service.NewVoucherService(repository.NewVoucherRepository(db))
	artifactService := service.NewArtifactService(repository.NewArtifactRepository(db), uploader, fetcher, logr)
	poller := service.NewTaskPoller(service.PollerConfig{
		Interval:    cfg.PollInterval,
		MaxInterval: cfg.PollMaxInterval,
		MaxAttempts: cfg.PollMaxAttempts,
	}, store, registry, artifactService, ledgerService, alerts, logr)
	generationService := service.NewGenerationService(catalog, ledgerService, registry, artifactService, poller, alerts, cfg.BackgroundConcurrency, logr)
	defer generationService.Drain()

	apiServer := api.NewServer(api.Config{
		Addr:           cfg.APIListenAddr,
		JWTSecret:      cfg.JWTSecret,
		SignupCredits:  signupCredits,
		RequestTimeout: cfg.RequestTimeout,
	}, logr, generationService, poller, ledgerService, artifactService, voucherService)
	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, ledgerService, voucherService)

	g, gctx := errgroup.WithContext(ctx)
	// Bind polling loops to shutdown before the API can accept a generation.
	poller.Start(gctx)
	g.Go(func() error {
		<-gctx.Done()
		poller.Wait()
		return nil
	})
	g.Go(func() error { return apiServer.Run(gctx) })
	g.Go(func() error { return adminServer.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("synergyhub stopped", "err", err)
		return err
	}
	logr.Info("synergyhub stopped")
	return nil
}
