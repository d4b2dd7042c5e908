package telemetry

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts kafka headers to the otel TextMapCarrier. Keys match
// case-insensitively.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string((*c)[i].Value)
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		(*c)[i].Value = []byte(value)
		return
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, header := range *c {
		keys[i] = header.Key
	}
	return keys
}

func (c *headerCarrier) index(key string) int {
	for i, header := range *c {
		if strings.EqualFold(header.Key, key) {
			return i
		}
	}
	return -1
}

// KafkaHeaders builds message headers from key/value pairs and the trace
// context in ctx. A trailing key without a value is ignored.
func KafkaHeaders(ctx context.Context, pairs ...string) []kafka.Header {
	carrier := make(headerCarrier, 0, len(pairs)/2+2)
	for i := 0; i+1 < len(pairs); i += 2 {
		carrier.Set(pairs[i], pairs[i+1])
	}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return carrier
}

func InjectKafkaHeaders(ctx context.Context, headers *[]kafka.Header) {
	carrier := headerCarrier(*headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	*headers = carrier
}

func ExtractKafkaHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := headerCarrier(headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}

// KafkaHeader returns the value of the named header.
func KafkaHeader(headers []kafka.Header, key string) (string, bool) {
	carrier := headerCarrier(headers)
	if i := carrier.index(key); i >= 0 {
		return string(carrier[i].Value), true
	}
	return "", false
}
