package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dmsbridge/internal/api"
	"dmsbridge/internal/bus"
	"dmsbridge/internal/config"
	"dmsbridge/internal/delivery"
	"dmsbridge/internal/dms"
	"dmsbridge/internal/fanout"
	"dmsbridge/internal/identity"
	"dmsbridge/internal/inbox"
	"dmsbridge/internal/journal"
	"dmsbridge/internal/metrics"
	"dmsbridge/internal/webhook"

	"github.com/spf13/cobra"
)

const journalPruneInterval = time.Hour

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge HTTP server",
		Long:  "Serves the widget API and the DMS webhook. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := buildResolver(cfg.Identity)
	if err != nil {
		return err
	}

	store := inbox.NewStore(inbox.Config{
		MaxMessages:  cfg.Inbox.MaxMessages,
		MaxAge:       time.Duration(cfg.Inbox.MaxAgeMinutes) * time.Minute,
		EphemeralTTL: time.Duration(cfg.Inbox.EphemeralTTLSeconds) * time.Second,
		Logger:       logger,
	})
	tracker := delivery.NewTracker(delivery.Config{MaxEntries: cfg.Delivery.MaxEntries, Logger: logger})
	eventBus := bus.NewEventBus(bus.Config{MaxHistory: cfg.Events.MaxHistory, Logger: logger})
	holder := dms.NewHolder(dms.ClientConfig{
		Settings: settingsFrom(cfg.DMS),
		Limiter:  dms.NewRateLimiter(cfg.DMS.SendBurst, float64(cfg.DMS.SendsPerMinute)),
		Logger:   logger,
	})

	m := metrics.New()
	m.GaugeFunc("inbox_messages", "Inbound messages currently stored.", func() float64 { return float64(store.Len()) })
	m.GaugeFunc("delivery_tracked", "Outbound message ids currently tracked.", func() float64 { return float64(tracker.Len()) })

	var recorder journal.Recorder = journal.Nop{}
	var reader api.JournalReader
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return err
		}
		defer j.Close()
		recorder, reader = j, j
		go pruneJournal(ctx, j, time.Duration(cfg.Journal.RetentionDays)*24*time.Hour)
		logger.Info("webhook journal enabled", "path", cfg.Journal.DBPath)
	}

	if cfg.Fanout.Enabled {
		pub, err := fanout.Connect(fanout.Config{
			URL:     cfg.Fanout.URL,
			Subject: cfg.Fanout.Subject,
			Name:    "dmsbridge",
			Logger:  logger,
		})
		if err != nil {
			// Fan-out is auxiliary; the bridge keeps serving without it.
			logger.Warn("fan-out disabled", "error", err)
		} else {
			defer pub.Close()
			fanout.Attach(eventBus, pub, logger)
		}
	}

	pipeline := webhook.NewPipeline(webhook.Config{
		Normalizer:    identity.New(identity.Config{Resolver: resolver, Logger: logger}),
		Store:         store,
		Tracker:       tracker,
		Verifier:      holder.Verifier,
		VerifyTimeout: time.Duration(cfg.Webhook.VerifyTimeoutSeconds) * time.Second,
		Journal:       recorder,
		Bus:           eventBus,
		Metrics:       m,
		Logger:        logger,
	})

	go store.RunRetention(ctx, time.Duration(cfg.Inbox.SweepIntervalSeconds)*time.Second)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	server := api.NewServer(api.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Webhook.MaxBodyBytes,
		MetricsPath:    metricsPath,
		Version:        version,
		Store:          store,
		Tracker:        tracker,
		Pipeline:       pipeline,
		DMS:            holder,
		Bus:            eventBus,
		Metrics:        m,
		Journal:        recorder,
		JournalReader:  reader,
		Logger:         logger,
	})

	if missing := holder.Settings().Missing(); len(missing) > 0 {
		logger.Warn("dms configuration incomplete, outbound sends will be refused", "missing", missing)
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func settingsFrom(c config.DMSConfig) dms.Settings {
	return dms.Settings{
		ChannelID:  c.ChannelID,
		Secret:     c.JWTSecret,
		APIURL:     c.APIURL,
		WebhookURL: c.WebhookURL,
	}
}

// buildResolver loads the alias file, then layers the inline aliases on top.
func buildResolver(c config.IdentityConfig) (identity.Resolver, error) {
	table := identity.NewAliasTable(nil)
	if c.AliasFile != "" {
		loaded, err := identity.LoadAliasTable(c.AliasFile)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	for raw, id := range c.Aliases {
		table.Set(raw, id)
	}
	logger.Info("identity aliases loaded", "entries", table.Len(), "file", c.AliasFile)
	return table, nil
}

func pruneJournal(ctx context.Context, j *journal.SQLiteJournal, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(journalPruneInterval)
	defer ticker.Stop()
	for {
		n, err := j.PruneBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			logger.Info("journal pruned", "rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
