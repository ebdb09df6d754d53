// Package app wires repositories, services and transports from config.
// cmd/server, cmd/worker and cmd/newsletterctl share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/controller"
	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/handler"
	"github.com/unclebandit/newsletter-service/internal/lock"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/postmark"
	"github.com/unclebandit/newsletter-service/internal/repository"
	"github.com/unclebandit/newsletter-service/internal/server"
	"github.com/unclebandit/newsletter-service/internal/service"
)

type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	Tables db.Tables

	Recipients     *repository.RecipientRepository
	Bounces        *repository.BounceRepository
	DeliveryLog    *repository.DeliveryLogRepository
	NewsletterRepo *repository.NewsletterRepository
	SettingsRepo   *repository.SettingsRepository

	Settings    *service.SettingsService
	Ledger      *service.BounceLedger
	Webhook     *service.WebhookService
	Dispatcher  *service.Dispatcher
	Stats       *service.StatsService
	Newsletters *service.NewsletterService
}

// Open connects to PostgreSQL and, when configured, Redis, then wires the app.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	conn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, err
	}

	rdb, err := ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		conn.Close()
		return nil, err
	}

	a, err := New(cfg, conn, rdb)
	if err != nil {
		conn.Close()
		if rdb != nil {
			rdb.Close()
		}
		return nil, err
	}
	return a, nil
}

// ConnectRedis returns nil when no URL is configured.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.L().Info("connected to redis", zap.String("addr", opts.Addr))
	return client, nil
}

// New wires every component on top of an open connection. rdb may be nil,
// in which case the dispatch guard uses a PostgreSQL advisory lock.
func New(cfg *config.Config, conn *sql.DB, rdb *redis.Client) (*App, error) {
	tables, err := db.NewTables(cfg.Database.TablePrefix)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:         cfg,
		DB:             conn,
		Redis:          rdb,
		Tables:         tables,
		Recipients:     &repository.RecipientRepository{DB: conn, Tables: tables},
		Bounces:        &repository.BounceRepository{DB: conn, Tables: tables},
		DeliveryLog:    &repository.DeliveryLogRepository{DB: conn, Tables: tables},
		NewsletterRepo: &repository.NewsletterRepository{DB: conn, Tables: tables},
		SettingsRepo:   &repository.SettingsRepository{DB: conn, Tables: tables},
	}

	a.Settings = &service.SettingsService{Repo: a.SettingsRepo, Defaults: cfg.Postmark}
	a.Ledger = service.NewBounceLedger(a.Bounces, cfg.Dispatch.LockShardCount)
	a.Webhook = &service.WebhookService{
		Ledger:      a.Ledger,
		DeliveryLog: a.DeliveryLog,
		Settings:    a.Settings,
	}
	a.Dispatcher = &service.Dispatcher{
		Recipients:  a.Recipients,
		Bounces:     a.Bounces,
		DeliveryLog: a.DeliveryLog,
		Newsletters: a.NewsletterRepo,
		Settings:    a.Settings,
		NewMailer:   a.MailerFactory(),
		NewLock:     lock.NewFactory(rdb, conn, cfg.Dispatch.LockKey, cfg.Dispatch.LockTTL),
		Config:      cfg.Dispatch,
	}
	a.Stats = &service.StatsService{
		Recipients:  a.Recipients,
		DeliveryLog: a.DeliveryLog,
		Bounces:     a.Bounces,
	}
	a.Newsletters = &service.NewsletterService{
		Newsletters: a.NewsletterRepo,
		DeliveryLog: a.DeliveryLog,
		Recipients:  a.Recipients,
		Settings:    a.Settings,
		NewMailer:   a.MailerFactory(),
	}
	return a, nil
}

// MailerFactory builds Postmark clients against the configured API base URL.
func (a *App) MailerFactory() service.MailerFactory {
	baseURL := a.Config.Postmark.BaseURL
	return func(token string) service.Mailer {
		return postmark.NewClient(baseURL, token, nil)
	}
}

// Router returns the HTTP API.
func (a *App) Router() http.Handler {
	return server.NewRouter(server.Handlers{
		Webhook: &handler.WebhookHandler{Service: a.Webhook, MaxBytes: a.Config.Webhook.MaxBytes},
		Stats:   &handler.StatsHandler{Stats: a.Stats, Subscribers: a.Newsletters},
		Newsletters: &controller.NewsletterController{
			Newsletters: a.Newsletters,
			Dispatcher:  a.Dispatcher,
		},
		Dispatch: &controller.DispatchController{Dispatcher: a.Dispatcher},
		Settings: &controller.SettingsController{Provider: a.Newsletters},
		DB:       a.DB,
	}, *a.Config)
}

// Close releases the connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.L().Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.L().Warn("failed to close database", zap.Error(err))
		}
	}
}
