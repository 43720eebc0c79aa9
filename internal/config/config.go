// Package config loads moderator settings from an optional YAML file,
// an optional .env file and the environment, in increasing precedence.
//
// Environment keys derive from the dotted config key: redis.addr is
// REDIS_ADDR, remote.max_attempts is REMOTE_MAX_ATTEMPTS.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/whisper/moderation/internal/escalation"
	"github.com/whisper/moderation/internal/messaging"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/ratelimit"
	"github.com/whisper/moderation/internal/remote"
)

type Config struct {
	Log         LogConfig            `mapstructure:"log"`
	Redis       RedisConfig          `mapstructure:"redis"`
	NATS        messaging.NATSConfig `mapstructure:"nats"`
	Database    DatabaseConfig       `mapstructure:"database"`
	Metrics     MetricsConfig        `mapstructure:"metrics"`
	Remote      remote.Config        `mapstructure:"remote"`
	Policy      moderation.Policy    `mapstructure:"policy"`
	Enforcement EnforcementConfig    `mapstructure:"enforcement"`
	Budget      BudgetConfig         `mapstructure:"budget"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// RedisConfig enables the shared ledger, timeouts and remote budget. An
// empty Addr keeps all state in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig enables the Postgres violation log. An empty URL keeps
// the log in process.
type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type EnforcementConfig struct {
	MuteDuration  time.Duration `mapstructure:"mute_duration"`
	LedgerTTL     time.Duration `mapstructure:"ledger_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Escalation returns the escalation policy the settings describe.
func (e EnforcementConfig) Escalation() escalation.Policy {
	return escalation.Policy{MuteDuration: e.MuteDuration}
}

// BudgetConfig caps remote classifier calls across all instances. It
// needs Redis.
type BudgetConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Rule    ratelimit.Rule `mapstructure:",squash"`
}

// Load reads configuration. configFile may be empty, in which case
// moderator.yaml is looked up in the working directory and ./config.
// A missing config file or .env file is not an error.
func Load(configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("remote.api_key", "REMOTE_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("config: bind env: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("moderator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Policy.ScoreDivisor <= 0:
		return errors.New("config: policy.score_divisor must be positive")
	case c.Enforcement.MuteDuration <= 0:
		return errors.New("config: enforcement.mute_duration must be positive")
	case c.Enforcement.SweepInterval <= 0:
		return errors.New("config: enforcement.sweep_interval must be positive")
	case c.Remote.MaxAttempts < 1:
		return errors.New("config: remote.max_attempts must be at least 1")
	case c.Budget.Enabled && c.Redis.Addr == "":
		return errors.New("config: budget requires redis.addr")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	nats := messaging.DefaultNATSConfig()
	v.SetDefault("nats.url", nats.URL)
	v.SetDefault("nats.name", nats.Name)
	v.SetDefault("nats.reconnect_wait", nats.ReconnectWait)
	v.SetDefault("nats.max_reconnects", nats.MaxReconnects)
	v.SetDefault("nats.workers", nats.Workers)

	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)

	v.SetDefault("metrics.addr", ":9102")

	rc := remote.DefaultConfig()
	v.SetDefault("remote.provider", rc.Provider)
	v.SetDefault("remote.endpoint", rc.Endpoint)
	v.SetDefault("remote.api_key", rc.APIKey)
	v.SetDefault("remote.model", rc.Model)
	v.SetDefault("remote.timeout", rc.Timeout)
	v.SetDefault("remote.max_attempts", rc.MaxAttempts)
	v.SetDefault("remote.base_delay", rc.BaseDelay)
	v.SetDefault("remote.high_confidence", rc.HighConfidence)
	v.SetDefault("remote.breaker_failures", rc.BreakerFailures)
	v.SetDefault("remote.breaker_cooldown", rc.BreakerCooldown)
	v.SetDefault("remote.cache_size", rc.CacheSize)
	v.SetDefault("remote.cache_ttl", rc.CacheTTL)
	v.SetDefault("remote.enabled", true)

	p := moderation.DefaultPolicy()
	v.SetDefault("policy.toxic_threshold", p.ToxicThreshold)
	v.SetDefault("policy.score_divisor", p.ScoreDivisor)
	v.SetDefault("policy.override_min_sentiment", p.OverrideMinSentiment)
	v.SetDefault("policy.warn_min_score", p.WarnMinScore)
	v.SetDefault("policy.insult_categories", p.InsultCategories)
	v.SetDefault("policy.sentiment_boost", p.SentimentBoost)
	v.SetDefault("policy.filler_boost", p.FillerBoost)

	v.SetDefault("enforcement.mute_duration", escalation.DefaultMuteDuration)
	v.SetDefault("enforcement.ledger_ttl", time.Duration(0))
	v.SetDefault("enforcement.sweep_interval", 30*time.Second)

	v.SetDefault("budget.enabled", false)
	v.SetDefault("budget.key", ratelimit.RuleRemote.Key)
	v.SetDefault("budget.limit", ratelimit.RuleRemote.Limit)
	v.SetDefault("budget.window", ratelimit.RuleRemote.Window)
}
