package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AddrConfig struct {
	Addr string `mapstructure:"addr"`
}

type AuthConfig struct {
	EnforceRoles bool `mapstructure:"enforce_roles"`
}

type SettlementConfig struct {
	LegDeadline           time.Duration `mapstructure:"leg_deadline"`
	MaxEvidenceSizeMB     string        `mapstructure:"max_evidence_size_mb"`
	MinHashLength         int           `mapstructure:"min_hash_length"`
	EscalateAfterAttempts int           `mapstructure:"escalate_after_attempts"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// MaxEvidenceSize parses MaxEvidenceSizeMB as an exact decimal.
func (s SettlementConfig) MaxEvidenceSize() (decimal.Decimal, error) {
	return decimal.NewFromString(s.MaxEvidenceSizeMB)
}

type DisputeConfig struct {
	EvidenceWindow time.Duration `mapstructure:"evidence_window"`
	ReviewWindow   time.Duration `mapstructure:"review_window"`
	DecisionWindow time.Duration `mapstructure:"decision_window"`
}

type QuoteConfig struct {
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

type PostgresConfig struct {
	DSN           string        `mapstructure:"dsn"`
	MigrationsDir string        `mapstructure:"migrations_dir"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushTimeout  time.Duration `mapstructure:"flush_timeout"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type FanoutConfig struct {
	Buffer int `mapstructure:"buffer"`
}

type AppConfig struct {
	ServiceName string           `mapstructure:"service_name"`
	Env         string           `mapstructure:"env"`
	LogLevel    string           `mapstructure:"log_level"`
	LogDir      string           `mapstructure:"log_dir"`
	ArtefactDir string           `mapstructure:"artefact_dir"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	GRPC        AddrConfig       `mapstructure:"grpc"`
	Metrics     AddrConfig       `mapstructure:"metrics"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Settlement  SettlementConfig `mapstructure:"settlement"`
	Dispute     DisputeConfig    `mapstructure:"dispute"`
	Quote       QuoteConfig      `mapstructure:"quote"`
	Postgres    PostgresConfig   `mapstructure:"postgres"`
	NATS        NATSConfig       `mapstructure:"nats"`
	Fanout      FanoutConfig     `mapstructure:"fanout"`
}

// Load reads path (optional), then USDT_* environment overrides, on top of
// the defaults. A missing file is not an error.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("USDT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the registries cannot run with.
func (c *AppConfig) Validate() error {
	if c.Settlement.LegDeadline <= 0 {
		return fmt.Errorf("settlement.leg_deadline must be positive")
	}
	size, err := c.Settlement.MaxEvidenceSize()
	if err != nil || size.Sign() <= 0 {
		return fmt.Errorf("settlement.max_evidence_size_mb must be a positive decimal, got %q", c.Settlement.MaxEvidenceSizeMB)
	}
	if c.Settlement.EscalateAfterAttempts < 1 {
		return fmt.Errorf("settlement.escalate_after_attempts must be >= 1")
	}
	d := c.Dispute
	if d.EvidenceWindow <= 0 || d.ReviewWindow < d.EvidenceWindow || d.DecisionWindow < d.ReviewWindow {
		return fmt.Errorf("dispute windows must satisfy 0 < evidence <= review <= decision")
	}
	if c.Quote.RateLimitWindow <= 0 || c.Quote.RateLimitBurst < 1 {
		return fmt.Errorf("quote rate limit needs a positive window and burst")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "usdt-core")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("artefact_dir", "artefacts")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("metrics.addr", ":9091")
	v.SetDefault("auth.enforce_roles", true)
	v.SetDefault("settlement.leg_deadline", "45m")
	v.SetDefault("settlement.max_evidence_size_mb", "5")
	v.SetDefault("settlement.min_hash_length", 16)
	v.SetDefault("settlement.escalate_after_attempts", 2)
	v.SetDefault("settlement.sweep_interval", "30s")
	v.SetDefault("dispute.evidence_window", "30m")
	v.SetDefault("dispute.review_window", "90m")
	v.SetDefault("dispute.decision_window", "4h")
	v.SetDefault("quote.rate_limit_window", "45s")
	v.SetDefault("quote.rate_limit_burst", 1)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.migrations_dir", "migrations")
	v.SetDefault("postgres.batch_size", 50)
	v.SetDefault("postgres.flush_timeout", "50ms")
	v.SetDefault("nats.url", "")
	v.SetDefault("fanout.buffer", 1024)
}
