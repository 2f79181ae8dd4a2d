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
	"time"

	"github.com/nondejus/lbrycrd/config"
	"github.com/nondejus/lbrycrd/core"
	"github.com/nondejus/lbrycrd/observability/logging"
	"github.com/nondejus/lbrycrd/observability/otel"
	"github.com/nondejus/lbrycrd/rpc"
	"github.com/nondejus/lbrycrd/storage"
	"github.com/nondejus/lbrycrd/storage/blockstore"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("lbrycrdd", cfg.NetworkName, logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	if cfg.OTel.Metrics || cfg.OTel.Traces {
		shutdown, err := otel.Init(context.Background(), otel.Config{
			ServiceName: "lbrycrdd",
			Network:     cfg.NetworkName,
			Endpoint:    cfg.OTel.Endpoint,
			Insecure:    cfg.OTel.Insecure,
			Metrics:     cfg.OTel.Metrics,
			Traces:      cfg.OTel.Traces,
		})
		if err != nil {
			logger.Error("failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	store, err := blockstore.Open(filepath.Join(cfg.DataDir, "blocks.db"))
	if err != nil {
		db.Close()
		panic(fmt.Sprintf("Failed to open block store: %v", err))
	}

	node, err := core.NewNode(db, store, logger, cfg.CoinCacheBudgetMB)
	if err != nil {
		_ = store.Close()
		db.Close()
		logger.Error("failed to start node", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Error("close node", slog.Any("error", err))
		}
	}()

	policy, err := rpc.LoadPolicy(cfg.RPCPolicyFile)
	if err != nil {
		logger.Error("failed to load rpc policy", slog.Any("error", err))
		os.Exit(1)
	}
	server := rpc.NewServer(node, logger, rpc.Config{
		AuthToken:     cfg.AuthToken(),
		DeprecatedRPC: cfg.DeprecatedRPC,
		Policy:        policy,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.RPCAddress)
	}()

	logger.Info("node running", "rpc", cfg.RPCAddress, "height", node.TipHeight())

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("rpc shutdown failed", slog.Any("error", err))
		}
		if err := <-serveErr; err != nil {
			logger.Error("rpc server terminated", slog.Any("error", err))
		}
	case err := <-serveErr:
		if err != nil {
			logger.Error("rpc server failed", slog.Any("error", err))
		}
	}
}
