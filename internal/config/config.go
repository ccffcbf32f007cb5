package config

import (
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Casino    CasinoConfig    `yaml:"casino"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// CasinoConfig points at the 747Live agent API.
type CasinoConfig struct {
	BaseURL        string `yaml:"base_url"`
	AgentToken     string `yaml:"agent_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c CasinoConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExchangeConfig tunes the transaction coordinator. Rollback keeps its own
// attempt budget, independent of the per-leg retry budget.
type ExchangeConfig struct {
	EscrowWalletID       uint64 `yaml:"escrow_wallet_id"`
	MaxRetries           int    `yaml:"max_retries"`
	MaxRollbackAttempts  int    `yaml:"max_rollback_attempts"`
	RetryBackoffSeconds  int    `yaml:"retry_backoff_seconds"`
	RetryIntervalSeconds int    `yaml:"retry_interval_seconds"`
	ChipRate             string `yaml:"chip_rate"`
}

// Backoff is the base delay before the first retry; it doubles per attempt.
func (e ExchangeConfig) Backoff() time.Duration {
	if e.RetryBackoffSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(e.RetryBackoffSeconds) * time.Second
}

// ScanInterval is how often the retrier scans for due transactions.
func (e ExchangeConfig) ScanInterval() time.Duration {
	if e.RetryIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(e.RetryIntervalSeconds) * time.Second
}

// Rate returns the configured PHPT->chip conversion rate, defaulting to 1:1.
func (e ExchangeConfig) Rate() decimal.Decimal {
	if e.ChipRate == "" {
		return decimal.NewFromInt(1)
	}
	r, err := decimal.NewFromString(e.ChipRate)
	if err != nil || r.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	return r
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Config{
		Exchange: ExchangeConfig{
			MaxRetries:          3,
			MaxRollbackAttempts: 3,
		},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// secrets come from env when present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if tok := os.Getenv("CASINO_AGENT_TOKEN"); tok != "" {
		cfg.Casino.AgentToken = tok
	}
	return &cfg, nil
}
