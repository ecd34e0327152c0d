package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/config"
	"github.com/harentsoaR/fablab-api/internal/logger"
	"github.com/harentsoaR/fablab-api/internal/mq"
	"github.com/harentsoaR/fablab-api/internal/worker"
)

const consumerTag = "fablab-notify"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if cfg.RabbitURL == "" {
		lg.Fatal("RABBIT_URL is required for the notification worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mailer worker.Mailer
	if cfg.SMTPHost != "" {
		mailer = worker.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
	} else {
		lg.Warn("SMTP_HOST not set; emails are only logged")
		mailer = worker.NewLogMailer(lg)
	}
	w := worker.New(mailer, cfg.StaffEmail, lg)

	mqCfg := mq.ConsumerConfig{
		URL:      cfg.RabbitURL,
		Exchange: cfg.RabbitExchange,
		Queue:    cfg.NotifyQueue,
		Bindings: cfg.NotifyBindings,
		Prefetch: cfg.NotifyPrefetch,
		DLX:      cfg.NotifyDLX,
	}

	// Reconnect until shutdown; unacked messages return to the queue on disconnect.
	for ctx.Err() == nil {
		if err := consume(ctx, mqCfg, w, lg); err != nil {
			lg.Warn("consumer stopped; reconnecting in 2s", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}
	lg.Info("worker stopped")
}

func consume(ctx context.Context, cfg mq.ConsumerConfig, w *worker.Worker, lg *zap.Logger) error {
	cons, err := mq.NewConsumer(cfg)
	if err != nil {
		return err
	}
	defer cons.Close()

	deliveries, err := cons.Deliveries(ctx, consumerTag)
	if err != nil {
		return err
	}
	lg.Info("worker started",
		zap.String("queue", cfg.Queue),
		zap.String("exchange", cfg.Exchange),
		zap.Strings("bindings", cfg.Bindings),
	)
	return w.Run(ctx, deliveries)
}
