// batch-send runs one notification batch from the command line and prints
// the final per-recipient outcomes, without starting the HTTP server. The
// webhook channel is unavailable in this mode; reconciliation relies on
// direct carrier queries alone.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-dispatch/internal/batch"
	"github.com/example/sms-dispatch/internal/carrier"
	"github.com/example/sms-dispatch/internal/config"
	"github.com/example/sms-dispatch/internal/logger"
	"github.com/example/sms-dispatch/internal/reconcile"
	"github.com/example/sms-dispatch/internal/statuscache"
)

func main() {
	file := flag.String("file", "", "path to a file with one phone number per line")
	body := flag.String("body", "", "message body (defaults to the configured notification text)")
	flag.Parse()

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
	log := baseLogger.With().Str("service", "batch-send").Logger()

	recipients := flag.Args()
	if *file != "" {
		fromFile, err := readNumbers(*file)
		if err != nil {
			log.Fatal().Err(err).Str("file", *file).Msg("failed to read numbers file")
		}
		recipients = append(recipients, fromFile...)
	}
	if len(recipients) == 0 {
		log.Fatal().Msg("no recipients: pass numbers as arguments or via -file")
	}

	client, err := carrier.New(cfg.Provider, log.With().Str("component", "carrier").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise carrier client")
	}

	cache := statuscache.New(
		time.Duration(cfg.Cache.MaxAgeHours)*time.Hour,
		log.With().Str("component", "statuscache").Logger(),
	)
	registry := batch.NewRegistry()

	engine, err := reconcile.NewEngine(reconcile.Config{
		InitialDelay:         time.Duration(cfg.Reconcile.InitialDelayMs) * time.Millisecond,
		CheckInterval:        time.Duration(cfg.Reconcile.CheckIntervalMs) * time.Millisecond,
		MaxAttempts:          cfg.Reconcile.MaxAttempts,
		TrustUnconfirmedSent: cfg.Reconcile.TrustUnconfirmedSent,
	}, reconcile.Dependencies{
		Fetcher:  client,
		Cache:    cache,
		Observer: registry,
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

	status, err := sender.Run(ctx, recipients, *body)
	if err != nil {
		log.Fatal().Err(err).Msg("batch rejected")
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to render batch status")
	}
	fmt.Println(string(out))

	if status.Summary.Failed > 0 {
		os.Exit(1)
	}
}

func readNumbers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var numbers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		numbers = append(numbers, line)
	}
	return numbers, scanner.Err()
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("batch send init failed")
}
