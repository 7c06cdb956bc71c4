// Retador — a surebet pick delivery bot. It polls an arbitrage feed,
// filters two-prong surebets between a sharp reference book and soft
// target books, and posts the soft-side picks to per-bookmaker Telegram
// channels.
//
// Architecture:
//
//	main.go                — entry point: loads config, starts pipeline, waits for SIGINT/SIGTERM
//	pipeline/pipeline.go   — orchestrator: wires poller → validation → calc → message → dispatch
//	feed/poller.go         — cursor-paginated feed polling with adaptive backoff + 2 req/s bucket
//	feed/parser.go         — wire records → domain surebets, sharp/soft role assignment
//	validate/validate.go   — fail-fast chain: odds, profit, event time, roles, duplicates
//	dedup/dedup.go         — Redis duplicate store with a local LRU front, cursor checkpoints
//	calc/calc.go           — per-bookmaker stake tiers and minimum counter-odds
//	message/builder.go     — Telegram HTML rendering with a static-part cache
//	dispatch/dispatch.go   — profit-ordered queue drained by the bot pool with per-bot limits
//	telegram/telegram.go   — Bot API client, error classification (transient/rate-limited/permanent)
//
// How it is used:
//
//	Subscribers follow one channel per soft bookmaker. Each pick message
//	carries the stake tier, the market, the soft odds and the minimum
//	odds under which the pick stops being worth taking, so latency from
//	feed record to channel post is the whole game.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"retador/internal/config"
	"retador/internal/pipeline"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("RETADOR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start pipeline
	pipe, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	pipe.Start()

	logger.Info("retador started",
		"sharp", cfg.Bookmakers.Sharp,
		"targets", cfg.Bookmakers.Targets,
		"bots", len(cfg.Telegram.Tokens),
		"base_interval", cfg.Feed.BaseInterval,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	pipe.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
