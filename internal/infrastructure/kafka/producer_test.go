package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"memeforge/internal/domain"
	"memeforge/internal/infrastructure/telemetry"
	"memeforge/internal/streaming"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type captureWriter struct {
	messages []kafka.Message
	err      error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestProducer_PublishReceipt(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	writer := &captureWriter{}
	producer := newProducer(writer, "")

	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := producer.PublishReceipt(context.Background(), domain.TransactionReceipt{
		ChainID:     122,
		Hash:        "0xABCD",
		From:        "0x1111111111111111111111111111111111111111",
		GasUsed:     "21000",
		GasPrice:    "1.00",
		Status:      domain.TxStatusSuccess,
		BlockNumber: 100,
		Timestamp:   observed,
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "memeforge-receipts-122", msg.Topic)
	assert.Equal(t, "0xabcd", string(msg.Key))
	msgType, ok := telemetry.KafkaHeader(msg.Headers, streaming.TypeHeader)
	require.True(t, ok)
	assert.Equal(t, "receipt", msgType)

	decoded, err := streaming.Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, streaming.MessageTypeReceipt, decoded.Type)
	assert.Equal(t, "success", decoded.Status)
	assert.Equal(t, uint64(100), decoded.BlockNumber)
	assert.True(t, observed.Equal(decoded.ObservedAt))
	require.NotEmpty(t, decoded.TraceID)

	spanCtx := trace.SpanContextFromContext(telemetry.ExtractKafkaHeaders(context.Background(), msg.Headers))
	assert.Equal(t, decoded.TraceID, spanCtx.TraceID().String())
}

func TestProducer_PublishTimeout(t *testing.T) {
	writer := &captureWriter{}
	producer := newProducer(writer, "events")
	producer.now = func() time.Time { return time.Date(2024, 5, 1, 12, 2, 0, 0, time.UTC) }

	require.NoError(t, producer.PublishTimeout(context.Background(), 123, "0xAB", 120*time.Second))
	require.Len(t, writer.messages, 1)
	assert.Equal(t, "events-123", writer.messages[0].Topic)

	decoded, err := streaming.Decode(writer.messages[0].Value)
	require.NoError(t, err)
	assert.Equal(t, streaming.MessageTypeTimeout, decoded.Type)
	assert.Equal(t, int64(120000), decoded.WaitedMs)
}

func TestProducer_Errors(t *testing.T) {
	writeErr := errors.New("broker down")
	producer := newProducer(&captureWriter{err: writeErr}, "")
	err := producer.PublishTimeout(context.Background(), 122, "0xab", time.Second)
	assert.ErrorIs(t, err, writeErr)

	err = producer.PublishReceipt(context.Background(), domain.TransactionReceipt{Hash: "0xab", Status: domain.TxStatusSuccess})
	assert.Error(t, err, "chain id is required")

	_, err = NewProducer(ProducerConfig{})
	assert.Error(t, err)
}
