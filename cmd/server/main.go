package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/afroash/parking-monitor/internal/config"
	"github.com/afroash/parking-monitor/internal/ingest"
	"github.com/afroash/parking-monitor/internal/metrics"
	"github.com/afroash/parking-monitor/internal/poller"
	"github.com/afroash/parking-monitor/internal/publish"
	"github.com/afroash/parking-monitor/internal/server"
	"github.com/afroash/parking-monitor/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)

	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Int("sensors", len(cfg.Sensors)).
		Msg("Starting Parking Monitor Server")
	logger.Debug().Msg(cfg.String())

	client := ingest.NewClient(ingest.ClientConfig{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.Timeout,
	})

	p, err := poller.New(poller.Config{
		Interval:      cfg.Poll.Interval,
		CheckInterval: cfg.Poll.CheckInterval,
		Retention:     cfg.Poll.Retention,
		StartDate:     cfg.Poll.StartDate,
		Mode:          poller.Mode(cfg.Poll.Mode),
	}, client, logger.With().Str("component", "poller").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create poller")
	}

	var sqliteStore *storage.SQLiteStore
	var dbWriter *storage.DBWriter
	var retentionCleaner *storage.RetentionCleaner

	if cfg.Database.Enabled {
		dataDir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create data directory")
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create SQLite store")
		}
		logger.Info().Str("path", cfg.Database.Path).Msg("SQLite store opened")

		// warm start so the chart survives restarts
		var seedFrom time.Time
		if cfg.Poll.Retention > 0 {
			seedFrom = time.Now().Add(-cfg.Poll.Retention)
		}
		seed, err := sqliteStore.GetReadingsSince(seedFrom)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load stored readings")
		} else {
			p.Seed(seed)
			logger.Info().Int("readings", len(seed)).Msg("Session seeded from database")
		}

		dbWriter = storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Database.BatchSize,
			FlushPeriod: cfg.Database.FlushPeriod,
			ChannelSize: cfg.Database.ChannelSize,
		}, logger)

		retentionCleaner = storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
			Retention:     cfg.Database.Retention,
			CleanupPeriod: cfg.Database.CleanupPeriod,
		}, logger)

		p.OnUpdate(func(u poller.Update) {
			if u.Err == nil && len(u.Added) > 0 {
				dbWriter.WriteTable(u.Added)
			}
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	p.OnUpdate(m.Observe)

	var publisher *publish.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = publish.Connect(publish.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retained:    cfg.MQTT.Retained,
		}, cfg.Sensors, logger.With().Str("component", "mqtt").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect MQTT publisher")
		}
		p.OnUpdate(publisher.OnUpdate)
		logger.Info().Str("broker", cfg.MQTT.Broker).Str("topic_prefix", cfg.MQTT.TopicPrefix).Msg("MQTT publisher enabled")
	}

	var history server.HistoricalStore
	if sqliteStore != nil {
		history = sqliteStore
	}
	apiHandler := server.NewAPIHandler(p, history, cfg.Sensors, version, logger)

	hub := server.NewHub(p, cfg.Sensors, logger.With().Str("component", "hub").Logger(), cfg.Server.AllowedOrigins...)
	hub.AllowRefresh(cfg.Server.AuthToken == "")
	p.OnUpdate(hub.Broadcast)

	router := server.NewRouter(server.RouterConfig{
		API:           apiHandler,
		Hub:           hub,
		Metrics:       m.Handler(),
		DashboardPath: cfg.Server.DashboardPath,
		AuthToken:     cfg.Server.AuthToken,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		p.Run(ctx)
	}()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// SIGHUP forces a refresh; SIGINT/SIGTERM shut down
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info().Bool("queued", p.RequestRefresh()).Msg("Refresh requested by signal")
			continue
		}
		break
	}

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	<-pollDone

	if publisher != nil {
		publisher.Close()
		logger.Info().Msg("MQTT publisher closed")
	}
	if dbWriter != nil {
		dbWriter.Stop()
		logger.Info().Msg("DBWriter stopped")
	}
	if retentionCleaner != nil {
		retentionCleaner.Stop()
		logger.Info().Msg("RetentionCleaner stopped")
	}
	if sqliteStore != nil {
		sqliteStore.Close()
		logger.Info().Msg("SQLiteStore closed")
	}

	logger.Info().Msg("Server stopped")
}
