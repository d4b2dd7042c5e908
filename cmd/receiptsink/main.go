package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/config"
	"memeforge/internal/infrastructure/clickhouse"
	"memeforge/internal/infrastructure/logging"
	"memeforge/internal/infrastructure/mysql"
	"memeforge/internal/infrastructure/sqlite"
	"memeforge/internal/infrastructure/storage"
	"memeforge/internal/infrastructure/telemetry"
	"memeforge/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	rotating, err := logging.Init(logging.Config{
		Service:    "memeforge-receiptsink",
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

	if len(cfg.KafkaBrokers) == 0 {
		slog.Error("KAFKA_BROKERS is required for the receipt sink")
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "memeforge-receiptsink", cfg.OtelEndpoint)
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

	journal, err := openSinkJournal(cfg)
	if err != nil {
		slog.Error("journal error", "err", err)
		os.Exit(1)
	}
	defer journal.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	readers := make([]*kafka.Reader, 0, len(cfg.Networks))
	for _, network := range cfg.Networks {
		topic := fmt.Sprintf("%s-%d", cfg.KafkaTopicPrefix, network.ChainID)
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		readers = append(readers, reader)

		wg.Add(1)
		go func(chainID uint64, r *kafka.Reader) {
			defer wg.Done()
			consumeStream(ctx, r, journal, chainID, defaultRetry)
		}(network.ChainID, reader)
	}

	slog.Info("receipt sink started", "topics", len(readers), "group", cfg.KafkaGroupID)
	<-ctx.Done()
	for _, reader := range readers {
		_ = reader.Close()
	}
	wg.Wait()
	slog.Info("shutting down")
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type retryPolicy struct {
	initial time.Duration
	max     time.Duration
}

var defaultRetry = retryPolicy{initial: 500 * time.Millisecond, max: 30 * time.Second}

// consumeStream applies messages strictly in order. A message is committed
// only after it is journaled, and the next one is not fetched until then:
// a later commit on the partition would also cover an unapplied offset.
func consumeStream(ctx context.Context, reader messageReader, journal application.ReceiptJournal, chainID uint64, retry retryPolicy) {
	tracer := otel.Tracer("memeforge/receiptsink")
	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			slog.Error("kafka fetch error", "chain_id", chainID, "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			msgType, _ := telemetry.KafkaHeader(message.Headers, streaming.TypeHeader)
			slog.Warn("message decode error", "chain_id", chainID, "offset", message.Offset, "type", msgType, "err", err)
			_ = reader.CommitMessages(ctx, message)
			continue
		}
		if decoded.ChainID != chainID {
			slog.Warn("unexpected chain id on topic", "topic_chain_id", chainID, "chain_id", decoded.ChainID)
		}

		messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
		if !trace.SpanContextFromContext(messageCtx).IsValid() && decoded.TraceID != "" {
			if ctxWithTrace, ok := telemetry.ContextWithTraceID(messageCtx, decoded.TraceID); ok {
				messageCtx = ctxWithTrace
			}
		}
		messageCtx, span := tracer.Start(messageCtx, "receiptsink.process_message", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("message.type", string(decoded.Type)),
			attribute.Int64("chain.id", int64(decoded.ChainID)),
			attribute.String("tx.hash", decoded.TxHash),
			attribute.Int64("kafka.offset", message.Offset),
		)

		if err := applyWithRetry(messageCtx, journal, decoded, retry); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return
		}
		if err := reader.CommitMessages(ctx, message); err != nil {
			slog.Error("kafka commit error", "chain_id", chainID, "offset", message.Offset, "err", err)
		}
		span.End()
	}
}

// applyWithRetry keeps applying msg with capped exponential backoff. It only
// gives up when ctx is done.
func applyWithRetry(ctx context.Context, journal application.ReceiptJournal, msg streaming.Message, retry retryPolicy) error {
	delay := retry.initial
	for attempt := 1; ; attempt++ {
		err := application.ApplyMessage(ctx, journal, msg)
		if err == nil {
			return nil
		}
		slog.Error("apply message error",
			"chain_id", msg.ChainID,
			"tx_hash", msg.TxHash,
			"attempt", attempt,
			"retry_in", delay,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retry.max {
			delay = retry.max
		}
	}
}

// openSinkJournal prefers ClickHouse, then MySQL, then the local SQLite file.
func openSinkJournal(cfg config.Config) (*storage.Repository, error) {
	var primary storage.Journal
	switch {
	case cfg.ClickHouseDSN != "":
		repo, err := clickhouse.NewRepository(cfg.ClickHouseDSN)
		if err != nil {
			return nil, err
		}
		primary = repo
	case cfg.DBDSN != "":
		repo, err := mysql.NewRepository(cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		primary = repo
	default:
		repo, err := sqlite.NewRepository(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		primary = repo
	}
	return storage.NewRepository(primary, nil)
}
