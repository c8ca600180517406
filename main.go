package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/opentracing/opentracing-go"
	"github.com/urfave/cli/v2"

	"github.com/mailcove/mailcove/config"
	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/auth"
	"github.com/mailcove/mailcove/internal/crypto"
	"github.com/mailcove/mailcove/internal/database"
	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/repository"
	"github.com/mailcove/mailcove/internal/tracing"
	"github.com/mailcove/mailcove/services/imap"
	"github.com/mailcove/mailcove/services/smtp"
	"github.com/mailcove/mailcove/services/storage"
	mailsync "github.com/mailcove/mailcove/services/sync"
)

func main() {
	app := &cli.App{
		Name:  "mailcove",
		Usage: "offline-first mail synchronization engine",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "run cache database migrations",
				Action: runMigrate,
			},
			{
				Name:  "sync",
				Usage: "start the sync engine",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "once",
						Usage: "run a single sync pass and exit",
					},
				},
				Action: runSync,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}

	db, err := database.NewConnection(&database.DatabaseConfig{
		Path:          cfg.CacheConfig.DatabasePath,
		LogLevel:      cfg.CacheConfig.LogLevel,
		BusyTimeoutMs: cfg.CacheConfig.BusyTimeoutMs,
	})
	if err != nil {
		return err
	}

	if err := repository.Migrate(db); err != nil {
		return err
	}
	log.Println("cache migration completed")
	return nil
}

func runSync(c *cli.Context) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Warnf("could not initialize jaeger tracer: %v", err)
	} else {
		defer closer.Close()
		opentracing.SetGlobalTracer(tracer)
	}

	db, err := database.NewConnection(&database.DatabaseConfig{
		Path:          cfg.CacheConfig.DatabasePath,
		LogLevel:      cfg.CacheConfig.LogLevel,
		BusyTimeoutMs: cfg.CacheConfig.BusyTimeoutMs,
	})
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}

	cipher, err := crypto.LoadKey(cfg.CacheConfig.KeyPath)
	if err != nil {
		return err
	}
	defer cipher.Zero()

	attachmentStore, err := storage.NewLocalStorage(cfg.CacheConfig.AttachmentDir, cipher)
	if err != nil {
		return err
	}

	repositories := repository.InitRepositories(db, cipher, attachmentStore)

	oauthProvider := auth.NewOAuthProvider(cfg.OAuthConfig)
	tokenManager := auth.NewTokenManager(repositories.TokenRepository, oauthProvider, appLogger)

	engine := mailsync.NewEngine(
		repositories,
		cfg.SyncConfig,
		interfaces.NoopNotifier{},
		appLogger,
		func(account *models.Account) interfaces.IMAPClient {
			return imap.NewClient(account, repositories.AccountRepository, tokenManager, appLogger)
		},
		func(account *models.Account) interfaces.SMTPClient {
			return smtp.NewClient(account, repositories.AccountRepository, tokenManager, appLogger)
		},
	)

	if c.Bool("once") {
		defer engine.Close()
		return engine.SyncAll(context.Background())
	}

	scheduler := mailsync.NewScheduler(engine, repositories.SettingRepository, cfg.SyncConfig, appLogger)
	if err := scheduler.Start(context.Background()); err != nil {
		return err
	}

	appLogger.Info("mailcove sync engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down")
	scheduler.Stop()
	return nil
}
