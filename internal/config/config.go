package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"memeforge/internal/domain"
)

type Config struct {
	Networks         []domain.Network
	DefaultChainID   uint64
	RPCTimeout       time.Duration
	HTTPAddr         string
	DBPath           string
	DBDSN            string
	ClickHouseDSN    string
	RedisAddr        string
	ReceiptCacheTTL  time.Duration
	OtelEndpoint     string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string
	MaxRetries       int
	RetryDelay       time.Duration
	WaitTimeout      time.Duration
	PollInterval     time.Duration
	LogLevel         string
	LogFile          string
	LogMaxSizeMB     int
	LogMaxBackups    int
}

// Network returns the configured network for chainID.
func (c Config) Network(chainID uint64) (domain.Network, bool) {
	for _, network := range c.Networks {
		if network.ChainID == chainID {
			return network, true
		}
	}
	return domain.Network{}, false
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	defaultChainID, err := parseUintEnv(source, "DEFAULT_CHAIN_ID", domain.FuseMainnetChainID)
	if err != nil {
		return Config{}, err
	}
	networks := domain.DefaultNetworks()
	for i := range networks {
		if networks[i].ChainID == domain.FuseSparkChainID {
			if raw := lookupTrimmed(source, "TESTNET_RPC_URL"); raw != "" {
				networks[i].RPCURL = raw
			}
		}
		if networks[i].ChainID == defaultChainID {
			if raw := lookupTrimmed(source, "RPC_URL"); raw != "" {
				networks[i].RPCURL = raw
			}
		}
	}
	cfg := Config{Networks: networks, DefaultChainID: defaultChainID}
	if _, ok := cfg.Network(defaultChainID); !ok {
		rpcURL := lookupTrimmed(source, "RPC_URL")
		if rpcURL == "" {
			return Config{}, fmt.Errorf("RPC_URL is required for chain %d", defaultChainID)
		}
		cfg.Networks = append(cfg.Networks, domain.Network{
			ChainID: defaultChainID,
			Name:    fmt.Sprintf("Chain %d", defaultChainID),
			RPCURL:  rpcURL,
		})
	}

	if cfg.RPCTimeout, err = parseDurationEnv(source, "RPC_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReceiptCacheTTL, err = parseDurationEnv(source, "RECEIPT_CACHE_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RetryDelay, err = parseDurationEnv(source, "STATUS_RETRY_DELAY", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WaitTimeout, err = parseDurationEnv(source, "WAIT_TIMEOUT", 120*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = parseDurationEnv(source, "WAIT_POLL_INTERVAL", 3*time.Second); err != nil {
		return Config{}, err
	}
	maxRetries, err := parseUintEnv(source, "STATUS_MAX_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	if maxRetries == 0 {
		return Config{}, errors.New("STATUS_MAX_RETRIES must be positive")
	}
	cfg.MaxRetries = int(maxRetries)

	cfg.HTTPAddr = ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		cfg.HTTPAddr = raw
	}

	cfg.DBPath = lookupTrimmed(source, "DB_PATH")
	if cfg.DBPath == "" {
		cfg.DBPath = "data/memeforge.db"
	}
	cfg.DBDSN = lookupTrimmed(source, "DB_DSN")
	cfg.ClickHouseDSN = lookupTrimmed(source, "CLICKHOUSE_DSN")

	cfg.RedisAddr = "127.0.0.1:6379"
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		cfg.RedisAddr = strings.TrimSpace(raw)
	}

	cfg.OtelEndpoint = lookupTrimmed(source, "OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.KafkaBrokers = parseList(source, "KAFKA_BROKERS")
	cfg.KafkaTopicPrefix = lookupTrimmed(source, "KAFKA_TOPIC_PREFIX")
	if cfg.KafkaTopicPrefix == "" {
		cfg.KafkaTopicPrefix = "memeforge-receipts"
	}
	cfg.KafkaGroupID = lookupTrimmed(source, "KAFKA_GROUP_ID")
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "memeforge-receiptsink"
	}

	cfg.LogLevel = lookupTrimmed(source, "LOG_LEVEL")
	cfg.LogFile = lookupTrimmed(source, "LOG_FILE")
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 5)
	if err != nil {
		return Config{}, err
	}
	cfg.LogMaxSizeMB = int(logMaxSize)
	cfg.LogMaxBackups = int(logMaxBackups)

	return cfg, nil
}

func lookupTrimmed(source EnvSource, key string) string {
	raw, _ := source.Lookup(key)
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return duration, nil
}

func parseList(source EnvSource, key string) []string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values
}
