package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/config"
	"github.com/whisper/moderation/internal/engine"
	"github.com/whisper/moderation/internal/logging"
	"github.com/whisper/moderation/internal/messaging"
	"github.com/whisper/moderation/internal/metrics"
	"github.com/whisper/moderation/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("MODERATOR_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "moderator: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "moderator: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("moderator failed")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	logger.Info("starting whisper moderation service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var backends engine.Backends

	// Redis setup. Without it the ledger and timeouts stay in process.
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		backends.Redis = rdb
	}

	// Postgres setup. Without it the violation log stays in process.
	if cfg.Database.URL != "" {
		db, err := store.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.Database.Migrate {
			if err := store.Migrate(db); err != nil {
				return err
			}
		}
		backends.DB = db
	}

	// NATS setup.
	natsClient, err := messaging.NewNATSClient(cfg.NATS, logger)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer natsClient.Close()

	events := messaging.NewEvents(natsClient)
	backends.Notifier = events
	backends.Terminator = events

	eng, err := engine.New(cfg, logger, backends)
	if err != nil {
		return err
	}
	eng.Scheduler.StartSweeper(ctx, cfg.Enforcement.SweepInterval)

	h := &handlers{ctx: ctx, mod: eng.Dispatcher, log: logger.WithField("component", "moderator")}
	if err := natsClient.SubscribeChecks(cfg.NATS.Workers, h.check); err != nil {
		return err
	}
	if err := natsClient.SubscribeContextEnded(h.contextEnded); err != nil {
		return err
	}

	metricsServer := newMetricsServer(cfg.Metrics.Addr)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"redis":    cfg.Redis.Addr != "",
		"postgres": cfg.Database.URL != "",
		"nats_url": cfg.NATS.URL,
		"remote":   cfg.Remote.Enabled,
		"metrics":  cfg.Metrics.Addr,
	}).Info("whisper moderation service running")

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return metricsServer.Shutdown(shutdownCtx)
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
