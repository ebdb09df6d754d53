// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-service/internal/app"
	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/queue"
	"github.com/unclebandit/newsletter-service/internal/scheduler"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}
	if _, err := logger.Init(cfg.Logger); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logger.L().Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	if cfg.AMQP.URL == "" {
		runScheduler(ctx, a, directEnqueuer(a.Dispatcher))
		return
	}

	q, err := queue.Dial(cfg.AMQP)
	if err != nil {
		logger.L().Fatal("failed to connect to queue", zap.Error(err))
	}
	defer q.Close()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		runScheduler(ctx, a, q)
	}()

	if err := q.Consume(ctx, triggerHandler(a.Dispatcher)); err != nil {
		logger.L().Error("consumer stopped", zap.Error(err))
	}
	stop()
	<-schedulerDone
}

func runScheduler(ctx context.Context, a *app.App, enqueuer scheduler.Enqueuer) {
	s := scheduler.New(a.NewsletterRepo, enqueuer)
	if err := s.Start(a.Config.Scheduler.Schedule); err != nil {
		logger.L().Fatal("failed to start scheduler", zap.Error(err))
	}
	<-ctx.Done()
	a.Dispatcher.Cancel()
	s.Stop()
}
