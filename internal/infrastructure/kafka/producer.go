package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"memeforge/internal/domain"
	"memeforge/internal/infrastructure/telemetry"
	"memeforge/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTopicPrefix = "memeforge-receipts"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes confirmation and timeout events to one topic per chain.
type Producer struct {
	writer messageWriter
	prefix string
	now    func() time.Time
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, cfg.TopicPrefix), nil
}

func newProducer(writer messageWriter, prefix string) *Producer {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultTopicPrefix
	}
	return &Producer{writer: writer, prefix: prefix, now: time.Now}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishReceipt(ctx context.Context, receipt domain.TransactionReceipt) error {
	ctx, traceIDHex := telemetry.EnsureTrace(ctx)
	ctx, span := otel.Tracer("memeforge/kafka").Start(ctx, "kafka.publish_receipt", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chain.id", int64(receipt.ChainID)),
		attribute.String("tx.hash", receipt.Hash),
		attribute.String("tx.status", string(receipt.Status)),
	)

	observed := receipt.Timestamp
	if observed.IsZero() {
		observed = p.now()
	}
	return p.publish(ctx, span, streaming.Message{
		Type:        streaming.MessageTypeReceipt,
		ChainID:     receipt.ChainID,
		TraceID:     traceIDHex,
		TxHash:      receipt.Hash,
		From:        receipt.From,
		To:          receipt.To,
		Value:       receipt.Value,
		GasUsed:     receipt.GasUsed,
		GasPrice:    receipt.GasPrice,
		Status:      string(receipt.Status),
		BlockNumber: receipt.BlockNumber,
		ObservedAt:  observed.UTC(),
	})
}

func (p *Producer) PublishTimeout(ctx context.Context, chainID uint64, hash string, waited time.Duration) error {
	ctx, traceIDHex := telemetry.EnsureTrace(ctx)
	ctx, span := otel.Tracer("memeforge/kafka").Start(ctx, "kafka.publish_timeout", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chain.id", int64(chainID)),
		attribute.String("tx.hash", hash),
	)

	return p.publish(ctx, span, streaming.Message{
		Type:       streaming.MessageTypeTimeout,
		ChainID:    chainID,
		TraceID:    traceIDHex,
		TxHash:     hash,
		ObservedAt: p.now().UTC(),
		WaitedMs:   waited.Milliseconds(),
	})
}

func (p *Producer) publish(ctx context.Context, span trace.Span, msg streaming.Message) error {
	payload, err := streaming.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	headers := telemetry.KafkaHeaders(ctx, streaming.TypeHeader, string(msg.Type))
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topicForChain(msg.ChainID),
		Key:     []byte(strings.ToLower(msg.TxHash)),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Producer) topicForChain(chainID uint64) string {
	return fmt.Sprintf("%s-%d", p.prefix, chainID)
}
