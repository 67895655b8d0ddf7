package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/aigoflow/studio-bridge/internal/browser"
	"github.com/aigoflow/studio-bridge/internal/config"
	"github.com/aigoflow/studio-bridge/internal/models"
	"github.com/aigoflow/studio-bridge/internal/page"
	"github.com/aigoflow/studio-bridge/internal/queue"
	"github.com/aigoflow/studio-bridge/internal/repository"
	"github.com/aigoflow/studio-bridge/internal/services"
	"github.com/aigoflow/studio-bridge/internal/sniffer"
	"github.com/aigoflow/studio-bridge/internal/store"
	"github.com/aigoflow/studio-bridge/pkg/server"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize database
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	db.Event("info", "startup", "Bridge starting", map[string]interface{}{
		"http_addr": cfg.HTTPAddr,
		"base_url":  cfg.BaseURL,
		"source":    cfg.ResponseSource,
		"db_path":   cfg.DBPath,
	})

	repo := repository.NewSQLiteRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Model table: produced by the session-init tooling, filtered by the
	// exclusion file. An absent file just means an empty table until then.
	reg := models.NewRegistry()
	if raw, err := os.ReadFile(cfg.ModelsPath); err == nil {
		entries, err := models.ParseModelList(raw)
		if err != nil {
			slog.Warn("Model list unparseable", "file", cfg.ModelsPath, "error", err)
		} else {
			reg.SetEntries(entries)
			slog.Info("Model table loaded", "file", cfg.ModelsPath, "models", len(entries))
		}
	} else if !os.IsNotExist(err) {
		slog.Warn("Model list unreadable", "file", cfg.ModelsPath, "error", err)
	}
	excluded, err := models.LoadExcludedModels(cfg.ExcludedModelsPath)
	if err != nil {
		slog.Warn("Exclusion list unreadable", "file", cfg.ExcludedModelsPath, "error", err)
	}
	reg.Exclude(excluded...)

	// Attach to the running browser session
	pg, err := browser.Connect(ctx, cfg.BrowserDriver, cfg.BrowserAddr)
	if err != nil {
		db.Event("error", "browser.failed", "Browser connection failed", map[string]interface{}{
			"driver": cfg.BrowserDriver,
			"addr":   cfg.BrowserAddr,
			"error":  err.Error(),
		})
		slog.Error("Failed to connect browser", "driver", cfg.BrowserDriver, "error", err)
		os.Exit(1)
	}
	defer pg.Close(ctx)
	db.Event("info", "browser.connected", "Browser connected", map[string]interface{}{
		"driver": cfg.BrowserDriver,
		"addr":   cfg.BrowserAddr,
	})

	ctrl := page.NewController(pg, cfg, reg, repo.Event())
	switcher := page.NewModelSwitcher(ctrl, reg)
	detector := page.NewDetector(ctrl)

	// NATS carries the sniffer tuple bus and the health heartbeat
	nc, err := nats.Connect(cfg.NatsURL, nats.MaxReconnects(-1))
	if err != nil {
		db.Event("error", "nats.failed", "NATS connection failed", map[string]interface{}{
			"nats_url": cfg.NatsURL,
			"error":    err.Error(),
		})
		slog.Error("Failed to connect NATS", "url", cfg.NatsURL, "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	var tuples services.TupleSource
	if cfg.ResponseSource == "sniffer" {
		src, err := sniffer.NewSource(nc, cfg.TupleSubject, cfg.EmptyPollLimit, cfg.EmptyPollWait)
		if err != nil {
			slog.Error("Failed to subscribe to tuple subject", "subject", cfg.TupleSubject, "error", err)
			os.Exit(1)
		}
		defer src.Close()
		tuples = src
	}

	workerID := fmt.Sprintf("worker-%d", os.Getpid())
	turnService := services.NewTurnService(cfg, ctrl, switcher, detector, reg, repo, tuples, workerID)

	limiter := rate.NewLimiter(rate.Every(cfg.StreamCoolDown), 1)
	q := queue.New(turnService, limiter, cfg.CompletionTimeout, cfg.StreamDrainGrace)

	healthService := services.NewHealthService(nc, cfg, reg, q)
	httpServer := server.NewServer(cfg.HTTPAddr, q, reg, repo, healthService)

	db.Event("info", "server.ready", "Bridge ready to accept requests", map[string]interface{}{
		"http_addr": cfg.HTTPAddr,
		"nats_url":  cfg.NatsURL,
		"source":    cfg.ResponseSource,
	})

	// A dead worker means a wedged page; exit and let the supervisor restart.
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- q.Run(ctx)
	}()

	go func() {
		if err := httpServer.Start(ctx); err != nil {
			db.Event("error", "http.failed", "HTTP server failed", map[string]interface{}{
				"error": err.Error(),
			})
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	go func() {
		if err := healthService.Start(ctx); err != nil {
			db.Event("error", "health.failed", "Health service failed", map[string]interface{}{
				"error": err.Error(),
			})
			slog.Error("Health service failed", "error", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		slog.Info("Shutting down bridge")
	case err := <-workerErr:
		if err != nil && ctx.Err() == nil {
			slog.Error("Queue worker exited", "error", err)
		}
	}
	cancel()
}
