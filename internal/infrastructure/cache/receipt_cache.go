package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	receiptKeyPrefix = "memeforge:receipt:"
	defaultCacheTTL  = 24 * time.Hour
)

type Config struct {
	Addr    string
	ChainID uint64
	TTL     time.Duration
}

// ReceiptCache is a read-through cache in front of a receipt source. Only
// mined receipts are stored; a pending answer always goes to the provider.
type ReceiptCache struct {
	source  application.ReceiptSource
	cache   *redis.Client
	chainID uint64
	ttl     time.Duration
}

// NewReceiptCache dials redis at cfg.Addr. An empty address disables caching.
func NewReceiptCache(source application.ReceiptSource, cfg Config) (*ReceiptCache, error) {
	if source == nil {
		return nil, errors.New("receipt source is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &ReceiptCache{source: source, chainID: cfg.ChainID}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newWithClient(source, client, cfg), nil
}

func newWithClient(source application.ReceiptSource, client *redis.Client, cfg Config) *ReceiptCache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	return &ReceiptCache{source: source, cache: client, chainID: cfg.ChainID, ttl: cfg.TTL}
}

func (c *ReceiptCache) TransactionReceipt(ctx context.Context, hash string) (domain.TransactionReceipt, bool, error) {
	if c.cache == nil {
		return c.source.TransactionReceipt(ctx, hash)
	}
	key := receiptKey(c.chainID, hash)
	cached, err := c.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		var receipt domain.TransactionReceipt
		if err := json.Unmarshal([]byte(cached), &receipt); err == nil {
			return receipt, true, nil
		}
		slog.Debug("discarding undecodable cached receipt", "tx_hash", hash)
	case !errors.Is(err, redis.Nil):
		slog.Debug("receipt cache read failed", "tx_hash", hash, "err", err)
	}

	receipt, ok, err := c.source.TransactionReceipt(ctx, hash)
	if err != nil || !ok {
		return receipt, ok, err
	}
	payload, err := json.Marshal(receipt)
	if err != nil {
		return receipt, true, nil
	}
	if err := c.cache.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		slog.Debug("receipt cache write failed", "tx_hash", hash, "err", err)
	}
	return receipt, true, nil
}

func (c *ReceiptCache) Close() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Close()
}

func receiptKey(chainID uint64, hash string) string {
	var b strings.Builder
	b.Grow(len(receiptKeyPrefix) + 88)
	b.WriteString(receiptKeyPrefix)
	b.WriteString(strconv.FormatUint(chainID, 10))
	b.WriteByte(':')
	b.WriteString(strings.ToLower(hash))
	return b.String()
}
