package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/studio-bridge/internal/config"
	"github.com/aigoflow/studio-bridge/internal/sniffer"
)

// The sniffer runs as its own process: the browser is pointed at its proxy
// port, and extracted generation tuples travel to the bridge over NATS.
func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	_ = os.MkdirAll(filepath.Dir(cfg.CACertPath), 0755)
	ca, err := sniffer.LoadOrCreateCA(cfg.CACertPath, cfg.CAKeyPath)
	if err != nil {
		slog.Error("Failed to load CA", "cert", cfg.CACertPath, "error", err)
		os.Exit(1)
	}

	nc, err := nats.Connect(cfg.NatsURL, nats.MaxReconnects(-1))
	if err != nil {
		slog.Error("Failed to connect NATS", "url", cfg.NatsURL, "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	publisher := sniffer.NewPublisher(nc, cfg.TupleSubject)
	proxy, err := sniffer.NewProxy(cfg, ca, publisher)
	if err != nil {
		slog.Error("Failed to build proxy", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		slog.Info("Shutting down sniffer")
		cancel()
	}()

	if err := proxy.Run(ctx); err != nil {
		slog.Error("Proxy failed", "error", err)
		os.Exit(1)
	}
}
