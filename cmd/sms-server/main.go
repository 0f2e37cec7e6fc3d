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

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/api"
	"github.com/example/sms-dispatch/internal/batch"
	"github.com/example/sms-dispatch/internal/carrier"
	"github.com/example/sms-dispatch/internal/config"
	kafkaproducer "github.com/example/sms-dispatch/internal/kafka/producer"
	kafkapublisher "github.com/example/sms-dispatch/internal/kafka/publisher"
	"github.com/example/sms-dispatch/internal/logger"
	"github.com/example/sms-dispatch/internal/reconcile"
	"github.com/example/sms-dispatch/internal/statuscache"
	"github.com/example/sms-dispatch/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "sms-server").Logger()

	client, err := carrier.New(cfg.Provider, log.With().Str("component", "carrier").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise carrier client")
	}

	cache := statuscache.New(
		time.Duration(cfg.Cache.MaxAgeHours)*time.Hour,
		log.With().Str("component", "statuscache").Logger(),
	)

	registry := batch.NewRegistry()
	observers := []reconcile.Observer{registry}

	var ready func() bool
	if cfg.Kafka.Enabled() {
		prod, err := kafkaproducer.New(cfg.Kafka.Brokers, log.With().Str("component", "kafka").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer func() {
			if err := prod.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()

		statusPublisher := kafkapublisher.NewStatusPublisher(prod, cfg.Kafka.StatusTopic, log.With().Str("component", "status-publisher").Logger())
		if statusPublisher == nil {
			log.Fatal().Msg("failed to create status publisher")
		}
		observers = append(observers, statusPublisher)
		ready = prod.IsReady
	}

	engine, err := reconcile.NewEngine(reconcile.Config{
		InitialDelay:         time.Duration(cfg.Reconcile.InitialDelayMs) * time.Millisecond,
		CheckInterval:        time.Duration(cfg.Reconcile.CheckIntervalMs) * time.Millisecond,
		MaxAttempts:          cfg.Reconcile.MaxAttempts,
		TrustUnconfirmedSent: cfg.Reconcile.TrustUnconfirmedSent,
	}, reconcile.Dependencies{
		Fetcher:  client,
		Cache:    cache,
		Observer: reconcile.MultiObserver(observers...),
		Logger:   log,
		Now:      time.Now,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise reconciliation engine")
	}

	sender, err := batch.NewSender(batch.Config{
		MaxNumbers:         cfg.Batch.MaxNumbers,
		SendInterval:       time.Duration(cfg.Batch.SendIntervalMs) * time.Millisecond,
		SendMaxAttempts:    cfg.Batch.SendMaxAttempts,
		SendBaseBackoff:    time.Duration(cfg.Batch.SendBaseBackoffMs) * time.Millisecond,
		SendMaxBackoff:     time.Duration(cfg.Batch.SendMaxBackoffMs) * time.Millisecond,
		WatcherConcurrency: cfg.Batch.WatcherConcurrency,
		DefaultBody:        cfg.Batch.MessageBody,
	}, batch.Dependencies{
		Carrier:  client,
		Watcher:  engine,
		Registry: registry,
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise batch sender")
	}

	hook, err := webhook.NewHandler(cache, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise webhook handler")
	}

	service, err := api.New(ctx, api.Dependencies{
		Sender:   sender,
		Registry: registry,
		Webhook:  hook,
		Logger:   log,
		Ready:    ready,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise http api")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           service.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Int("port", cfg.App.Port).Str("provider", cfg.Provider.Backend).Msg("sms server started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server terminated with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("sms server init failed")
}
