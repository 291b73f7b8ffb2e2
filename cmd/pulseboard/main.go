package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pulseboard/internal/config"
	"pulseboard/internal/metrics"
	"pulseboard/internal/models"
	"pulseboard/internal/notify"
	"pulseboard/internal/query"
	"pulseboard/internal/realtime"
	"pulseboard/internal/server"
	"pulseboard/internal/storage"
	"pulseboard/internal/webhooks"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", "", "listen address, overrides the configured one")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("initialise logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	hookStore, err := storage.NewWebhookStore(filepath.Join(cfg.DataDirectory, "webhooks.json"))
	if err != nil {
		logger.Fatal("initialise webhook storage", zap.Error(err))
	}
	journal, err := storage.NewJournal(filepath.Join(cfg.DataDirectory, "journal.json"), cfg.JournalCap)
	if err != nil {
		logger.Fatal("initialise journal", zap.Error(err))
	}

	cache := query.NewCache(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	rules := make([]query.Rule, 0, len(cfg.Invalidations))
	for _, rule := range cfg.Invalidations {
		rules = append(rules, query.Rule{TopicPrefix: rule.Topic, Keys: rule.Keys})
	}
	invalidator := query.NewInvalidator(cache, rules)

	registry := prometheus.NewRegistry()
	meters := metrics.New(registry)

	center := notify.NewCenter(logger)
	hooks := webhooks.NewService(hookStore, cache, center, logger)
	dispatcher := webhooks.NewDispatcher(hooks, webhooks.DeliverySettings{
		Timeout:     time.Duration(cfg.Delivery.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Delivery.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Delivery.RetryDelaySeconds) * time.Second,
	}, logger)
	dispatcher.OnDelivery(meters.ObserveDelivery)

	link := realtime.NewLink(realtime.LinkConfig{
		URL:              cfg.Upstream.URL,
		HandshakeTimeout: time.Duration(cfg.Upstream.HandshakeTimeoutSec) * time.Second,
		BackoffMin:       time.Duration(cfg.Upstream.BackoffMinSec) * time.Second,
		BackoffMax:       time.Duration(cfg.Upstream.BackoffMaxSec) * time.Second,
	}, logger)
	provider := realtime.NewProvider(link, invalidator.Handle)
	gate := server.NewGate(cfg.Auth, logger)

	srv := server.New(server.Options{
		Addr:         cfg.ListenAddr,
		Link:         link,
		Provider:     provider,
		Cache:        cache,
		Center:       center,
		Hooks:        hooks,
		Journal:      journal,
		Gate:         gate,
		Gatherer:     registry,
		HistoryLimit: cfg.HistoryLimit,
		Log:          logger,
	})

	link.OnTransition(meters.ObserveTransition)
	link.OnTransition(srv.StateChanged)
	link.OnTransition(func(change models.StateChange, _ realtime.Snapshot) {
		switch change.To {
		case "connected":
			center.Publish(models.Notification{Level: "info", Title: "Realtime link established"})
		case "failed":
			center.Publish(models.Notification{Level: "warning", Title: "Realtime link lost", Message: change.Err})
		}
	})
	link.Attach(meters.ObserveEvent)
	link.Attach(dispatcher.Enqueue)
	link.Attach(func(ev models.Event) {
		if err := journal.AppendEvent(ev); err != nil {
			logger.Warn("journal event", zap.Error(err))
		}
		cache.Invalidate("events")
	})

	watcher, err := config.Watch(*configPath, logger, func(next config.Config) {
		gate.UpdateTokens(next.Auth.Tokens)
		dispatcher.UpdateSettings(webhooks.DeliverySettings{
			Timeout:     time.Duration(next.Delivery.TimeoutSeconds) * time.Second,
			MaxAttempts: next.Delivery.MaxAttempts,
			RetryDelay:  time.Duration(next.Delivery.RetryDelaySeconds) * time.Second,
		})
	})
	if err != nil {
		logger.Fatal("watch config", zap.Error(err))
	}
	defer func() { _ = watcher.Close() }()

	dispatcher.Start()
	defer dispatcher.Stop()
	link.Start()
	defer link.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("pulseboard listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("upstream", cfg.Upstream.URL))
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
