package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/stocktrade/libs/config"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	defaultBalanceCeiling = "999999999999.99"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type StorageConfig struct {
	Driver string
}

type LedgerConfig struct {
	BalanceCeiling decimal.Decimal
}

type CatalogConfig struct {
	CacheTTL     time.Duration
	CacheMaxCost int64
}

type KafkaTopics struct {
	TradesExecuted     string
	InstrumentsUpdated string
	DeadLetter         string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type TradingConfig struct {
	TradeTimeout time.Duration
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Storage   StorageConfig
	Ledger    LedgerConfig
	Catalog   CatalogConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Trading   TradingConfig
}

func Load() (*Config, error) {
	v, err := base.NewViper(base.Path())
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// LoadForTools reads the same sources as Load but only validates the storage
// and ledger settings. The seed and tradectl commands use it, so they share
// the service's DSN and balance ceiling without needing HTTP or auth settings.
func LoadForTools() (*Config, error) {
	v, err := base.NewViper(base.Path())
	if err != nil {
		return nil, err
	}
	return ToolsFromViper(v)
}

// FromViper layers service defaults and the plain env overrides used by the
// compose files on top of v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg, err := parse(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ToolsFromViper(v *viper.Viper) (*Config, error) {
	cfg, err := parse(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateStorage(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(v *viper.Viper) (*Config, error) {
	appCfg, err := base.FromViper(v)
	if err != nil {
		return nil, err
	}

	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("ledger.balance_ceiling", defaultBalanceCeiling)
	v.SetDefault("catalog.cache_ttl", "5s")
	v.SetDefault("catalog.cache_max_cost", 10000)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "trading-service")
	v.SetDefault("kafka.topics.trades_executed", "trades.executed")
	v.SetDefault("kafka.topics.instruments_updated", "instruments.updated")
	v.SetDefault("kafka.topics.dead_letter", "trading.dlq")
	v.SetDefault("redis.addr", "")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.limit", 30)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("trading.trade_timeout", "5s")

	ceiling, err := decimal.NewFromString(strings.TrimSpace(v.GetString("ledger.balance_ceiling")))
	if err != nil {
		return nil, fmt.Errorf("parse ledger.balance_ceiling: %w", err)
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "stocktrade"),
			User:     envString("POSTGRES_USER", "stocktrade"),
			Password: envString("POSTGRES_PASSWORD", "stocktrade"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
			MaxConns: int32(v.GetInt("db.max_conns")),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
		},
		Ledger: LedgerConfig{
			BalanceCeiling: ceiling,
		},
		Catalog: CatalogConfig{
			CacheTTL:     v.GetDuration("catalog.cache_ttl"),
			CacheMaxCost: v.GetInt64("catalog.cache_max_cost"),
		},
		Kafka: KafkaConfig{
			Enabled:       envBool("KAFKA_ENABLED", v.GetBool("kafka.enabled")),
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				TradesExecuted:     envString("KAFKA_TRADES_TOPIC", v.GetString("kafka.topics.trades_executed")),
				InstrumentsUpdated: envString("KAFKA_INSTRUMENTS_TOPIC", v.GetString("kafka.topics.instruments_updated")),
				DeadLetter:         envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			Enabled: v.GetBool("rate_limit.enabled"),
			Limit:   v.GetInt("rate_limit.limit"),
			Window:  v.GetDuration("rate_limit.window"),
		},
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", v.GetString("auth.jwt_secret")),
		},
		Trading: TradingConfig{
			TradeTimeout: envDuration("TRADE_TIMEOUT", v.GetDuration("trading.trade_timeout")),
		},
	}
	return cfg, nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q", DriverPostgres, DriverMemory)
	}
	if !c.Ledger.BalanceCeiling.IsPositive() {
		return fmt.Errorf("ledger.balance_ceiling must be positive")
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Catalog.CacheTTL < 0 {
		return fmt.Errorf("catalog.cache_ttl must not be negative")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Trading.TradeTimeout <= 0 {
		return fmt.Errorf("trading.trade_timeout must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit.limit and rate_limit.window must be positive")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required")
		}
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group required")
		}
		if c.Kafka.Topics.TradesExecuted == "" || c.Kafka.Topics.InstrumentsUpdated == "" {
			return fmt.Errorf("kafka topics required")
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
