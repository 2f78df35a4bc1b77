package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/constants"
)

// Fault policies for socket transport closures
const (
	FaultPolicyExit    = "exit"
	FaultPolicyRestart = "restart"
)

// Channels are the Pub/Sub channel names
type Channels struct {
	TokenActions string
	Buys         string
	Info         string
	Errors       string
}

type Config struct {
	// RPC settings
	RPCProviders      []string
	ProbeTimeout      time.Duration
	CallTimeout       time.Duration
	RateLimit         float64
	KeepaliveInterval time.Duration
	PollInterval      time.Duration
	FaultPolicy       string
	ChainName         string

	// Bus settings
	BusDriver    string
	RedisURL     string
	KafkaBrokers []string
	KafkaGroupID string
	Channels     Channels

	// Listener settings
	MinAmountReceived  float64
	DBWriteThrottle    time.Duration
	StalePairThreshold time.Duration
	StaleScanInterval  time.Duration

	// Store settings
	StoreDriver        string
	DBPath             string
	PostgresDSN        string
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// Chain read cache
	CacheMaxItems int64
	CacheTTL      time.Duration

	// Status API
	StatusAddr   string
	StatusAPIKey string
	DevMode      bool

	// Logging
	LogLevel  string
	LogFormat string
	LogDir    string
}

func Load() *Config {
	return &Config{
		// RPC
		RPCProviders:      getSliceEnv("RPC_PROVIDERS", nil),
		ProbeTimeout:      getDurationEnv("RPC_PROBE_TIMEOUT", constants.DefaultProbeTimeout),
		CallTimeout:       getDurationEnv("RPC_CALL_TIMEOUT", constants.DefaultCallTimeout),
		RateLimit:         getFloatEnv("RPC_RATE_LIMIT", 0),
		KeepaliveInterval: getDurationEnv("RPC_KEEPALIVE_INTERVAL", constants.DefaultKeepalive),
		PollInterval:      getDurationEnv("LOG_POLL_INTERVAL", constants.DefaultLogPollInterval),
		FaultPolicy:       strings.ToLower(getEnv("CHAIN_FAULT_POLICY", FaultPolicyExit)),
		ChainName:         getEnv("CHAIN_NAME", constants.DefaultChain),

		// Bus
		BusDriver:    strings.ToLower(getEnv("BUS_DRIVER", "redis")),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		KafkaBrokers: getSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "evm-swap-listener"),
		Channels: Channels{
			TokenActions: getEnv("REDIS_CHANNEL_TOKEN_ACTIONS", constants.ChannelTokenActions),
			Buys:         getEnv("REDIS_CHANNEL_BUYS", constants.ChannelBuys),
			Info:         getEnv("REDIS_CHANNEL_INFO", constants.ChannelInfo),
			Errors:       getEnv("REDIS_CHANNEL_ERRORS", constants.ChannelErrors),
		},

		// Listener
		MinAmountReceived:  getFloatEnv("MIN_AMOUNT_RECEIVED", 0.01),
		DBWriteThrottle:    getDurationEnv("DB_WRITE_THROTTLE", constants.DefaultThrottleWindow),
		StalePairThreshold: getDurationEnv("STALE_PAIR_THRESHOLD", constants.DefaultStaleThreshold),
		StaleScanInterval:  getDurationEnv("STALE_PAIR_SCAN_INTERVAL", constants.DefaultStaleScanInterval),

		// Store
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		DBPath:             getEnv("DB_PATH", "./data/swap-bot.db"),
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "swaps"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		// Cache
		CacheMaxItems: int64(getIntEnv("CACHE_MAX_ITEMS", 10000)),
		CacheTTL:      getDurationEnv("CACHE_TTL", 10*time.Minute),

		// Status
		StatusAddr:   getOptionalEnv("STATUS_ADDR", ":8090"),
		StatusAPIKey: getEnv("STATUS_API_KEY", ""),
		DevMode:      getBoolEnv("DEV_MODE", false),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogDir:    getEnv("LOG_DIR", ""),
	}
}

// Validate rejects configurations the listener cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.RPCProviders) == 0 {
		errs = append(errs, errors.New("RPC_PROVIDERS is required"))
	}
	switch c.FaultPolicy {
	case FaultPolicyExit, FaultPolicyRestart:
	default:
		errs = append(errs, fmt.Errorf("CHAIN_FAULT_POLICY must be exit or restart, got %q", c.FaultPolicy))
	}
	switch c.BusDriver {
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis bus"))
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver))
	}
	switch c.StoreDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite store"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
	case "clickhouse":
		if c.ClickHouseAddr == "" {
			errs = append(errs, errors.New("CLICKHOUSE_ADDR is required for the clickhouse store"))
		}
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.MinAmountReceived < 0 {
		errs = append(errs, errors.New("MIN_AMOUNT_RECEIVED must not be negative"))
	}
	if c.StaleScanInterval <= 0 {
		errs = append(errs, errors.New("STALE_PAIR_SCAN_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getOptionalEnv treats an explicitly empty value as "disabled".
func getOptionalEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getSliceEnv splits a comma-separated value, dropping empty items.
func getSliceEnv(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
