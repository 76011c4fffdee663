package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/witchbrew/cauldronwatch/internal/brewery"
	"github.com/witchbrew/cauldronwatch/internal/config"
	"github.com/witchbrew/cauldronwatch/internal/detect"
	"github.com/witchbrew/cauldronwatch/internal/logger"
	"github.com/witchbrew/cauldronwatch/internal/monitor"
	"github.com/witchbrew/cauldronwatch/internal/server"
	"github.com/witchbrew/cauldronwatch/internal/storage"
	"github.com/witchbrew/cauldronwatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath, cfg.Storage.MaxReadingsPerCauldron)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	client := brewery.NewClient(
		cfg.Brewery.APIBaseURL,
		cfg.Brewery.Timeout,
		cfg.Brewery.MaxRetries,
		cfg.Brewery.RetryDelayBase,
	)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	detectCfg := detect.Config{
		WindowCap:     cfg.Detector.WindowCap,
		WindowDivisor: cfg.Detector.WindowDivisor,
		SlopeEpsilon:  cfg.Detector.SlopeEpsilon,
		MinDrop:       cfg.Detector.MinDrop,
	}

	var notifier monitor.Notifier
	if telegramClient != nil {
		notifier = telegramClient
	}
	mon := monitor.New(store, client, notifier, detectCfg, cfg.Detector.Lookback, cfg.Brewery.CacheTTL, cfg.Telegram.Cooldown)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var httpServer *http.Server
	if cfg.Server.Enabled {
		srv := server.New(store, detectCfg)
		httpServer = &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: srv.Handler(os.Stdout),
		}
		go func() {
			logger.Info("API listening on %s", cfg.Server.ListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed: %v", err)
				cancel()
			}
		}()
	}

	logger.Info("Starting poll loop (interval: %v, lookback: %v, window_cap: %d, slope_epsilon: %.2f, min_drop: %.1f)",
		cfg.Brewery.PollInterval,
		cfg.Detector.Lookback,
		cfg.Detector.WindowCap,
		cfg.Detector.SlopeEpsilon,
		cfg.Detector.MinDrop,
	)

	ticker := time.NewTicker(cfg.Brewery.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Poll cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	// Run the first cycle immediately rather than waiting a full interval.
	logger.Debug("Running initial poll cycle")
	handleCycleResult(mon.RunCycle(ctx, time.Now()))

	for {
		select {
		case <-ctx.Done():
			if httpServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Error("HTTP server shutdown failed: %v", err)
				}
				shutdownCancel()
			}
			logger.Info("Service stopped")
			return

		case tickTime := <-ticker.C:
			logger.Debug("Starting scheduled poll cycle")
			handleCycleResult(mon.RunCycle(ctx, tickTime))

			if err := store.RotateReadings(); err != nil {
				logger.Warn("Failed to rotate readings: %v", err)
			}
		}
	}
}
