package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brandon/jmapmail/internal/cache"
	"github.com/brandon/jmapmail/internal/config"
	"github.com/brandon/jmapmail/internal/engine"
	"github.com/brandon/jmapmail/internal/jmap"
	"github.com/brandon/jmapmail/internal/splits"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailcore version %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting mailcore")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Discover the session at the provider's well-known endpoint
	client := jmap.NewClient(cfg.BaseURL, logger)
	session, err := client.DiscoverSession(ctx, cfg.Username, cfg.Token)
	if err != nil {
		logger.WithError(err).Fatal("Session discovery failed")
	}
	logger.WithField("account_id", session.AccountID).Info("Session established")

	// In-memory rolling cache for the active view
	store, err := cache.NewStore(cfg.CacheLimit, cfg.CacheLimit, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}

	eng := engine.New(client, store, engine.Options{
		CacheLimit:      cfg.CacheLimit,
		RefillThreshold: cfg.RefillThreshold,
		PrefetchCount:   cfg.PrefetchCount,
	}, logger)
	eng.SetSession(session)

	if err := eng.Initialize(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to load mailboxes")
	}

	// Split inbox definitions: saved config, seeded from identity domains on
	// first run
	splitStore := splits.NewStore(cfg.SplitsPath, cfg.SplitsOverride, logger)
	eng.SetSplits(splitStore.EffectiveConfig(eng.Identities()))

	inboxID := ""
	for _, mb := range eng.Mailboxes() {
		if mb.Role == "inbox" {
			inboxID = mb.ID
			break
		}
	}
	if inboxID == "" {
		logger.Fatal("Account has no inbox")
	}
	if err := eng.SelectView(inboxID, "", ""); err != nil {
		logger.WithError(err).Fatal("Failed to open inbox")
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case ev := <-eng.Events():
			entry := logger.WithField("event", string(ev.Type))
			switch ev.Type {
			case engine.EventListChanged:
				entry.WithField("cached", len(eng.Summaries())).Info("View updated")
			case engine.EventCountsChanged:
				entry.WithField("counts", eng.Counts()).Info("Counts updated")
			case engine.EventActionFailed:
				entry.WithField("error", ev.Err).Warn("Action failed")
			case engine.EventLoggedOut:
				entry.Error("Session invalidated, shutting down")
				return
			default:
				entry.Info("Event")
			}
		case sig := <-sigChan:
			logger.WithField("signal", sig).Info("Received shutdown signal")
			return
		}
	}
}
