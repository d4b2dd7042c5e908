package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/config"
	"memeforge/internal/infrastructure/cache"
	"memeforge/internal/infrastructure/clickhouse"
	"memeforge/internal/infrastructure/ethrpc"
	"memeforge/internal/infrastructure/kafka"
	"memeforge/internal/infrastructure/logging"
	"memeforge/internal/infrastructure/mysql"
	"memeforge/internal/infrastructure/sqlite"
	"memeforge/internal/infrastructure/storage"
	"memeforge/internal/infrastructure/telemetry"
	"memeforge/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	rotating, err := logging.Init(logging.Config{
		Service:    "memeforge",
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
	}
	if rotating != nil {
		defer rotating.Close()
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "memeforge", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	store, err := openJournal(cfg)
	if err != nil {
		slog.Error("db error", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	var publisher application.ReceiptPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
		})
		if err != nil {
			slog.Error("kafka error", "err", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
	}

	metrics := httpapi.NewMetrics()
	chains := make([]httpapi.Chain, 0, len(cfg.Networks))
	for _, network := range cfg.Networks {
		rpcClient, err := ethrpc.NewClient(ethrpc.Config{
			URL:     network.RPCURL,
			ChainID: network.ChainID,
			Timeout: cfg.RPCTimeout,
		})
		if err != nil {
			slog.Error("rpc error", "chain_id", network.ChainID, "err", err)
			os.Exit(1)
		}

		var source application.ReceiptSource = rpcClient
		receiptCache, err := cache.NewReceiptCache(rpcClient, cache.Config{
			Addr:    cfg.RedisAddr,
			ChainID: network.ChainID,
			TTL:     cfg.ReceiptCacheTTL,
		})
		if err != nil {
			slog.Warn("redis cache disabled", "chain_id", network.ChainID, "err", err)
		} else {
			defer receiptCache.Close()
			source = receiptCache
		}

		poller, err := application.NewPoller(source, application.SystemClock{}, metrics.Observer(network.ChainID), application.PollConfig{
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			MaxWaitTime:  cfg.WaitTimeout,
			PollInterval: cfg.PollInterval,
		})
		if err != nil {
			slog.Error("poller error", "chain_id", network.ChainID, "err", err)
			os.Exit(1)
		}
		tracker, err := application.NewTracker(network.ChainID, poller, store, publisher)
		if err != nil {
			slog.Error("tracker error", "chain_id", network.ChainID, "err", err)
			os.Exit(1)
		}
		estimator, err := application.NewGasEstimator(rpcClient)
		if err != nil {
			slog.Error("estimator error", "chain_id", network.ChainID, "err", err)
			os.Exit(1)
		}
		chains = append(chains, httpapi.Chain{
			Network:   network,
			Tracker:   tracker,
			Estimator: estimator,
			RPC:       rpcClient,
		})
		slog.Info("network configured", "chain_id", network.ChainID, "name", network.Name, "rpc", network.RPCURL)
	}

	httpServer, err := httpapi.NewServer(chains, cfg.DefaultChainID, store, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("http server listening", "addr", cfg.HTTPAddr, "version", version)
	if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("http server error", "err", err)
	}
	slog.Info("shutting down")
}

func openJournal(cfg config.Config) (*storage.Repository, error) {
	var primary storage.Journal
	if cfg.DBDSN != "" {
		repo, err := mysql.NewRepository(cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		primary = repo
	} else {
		repo, err := sqlite.NewRepository(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		primary = repo
	}

	var mirror storage.Journal
	if cfg.ClickHouseDSN != "" {
		repo, err := clickhouse.NewRepository(cfg.ClickHouseDSN)
		if err != nil {
			slog.Warn("clickhouse mirror disabled", "err", err)
		} else {
			mirror = repo
		}
	}
	return storage.NewRepository(primary, mirror)
}
