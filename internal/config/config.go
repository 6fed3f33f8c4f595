package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Limits    LimitConfig     `mapstructure:"limits"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig selects the storage backend at startup.
// Kind is one of postgres | mongodb | memory.
type DatabaseConfig struct {
	Kind     string         `mapstructure:"kind"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MongoDB  MongoConfig    `mapstructure:"mongodb"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// LimitConfig maps roles to per-request ceilings and daily caps.
// PrivilegedDailyCap = 0 means uncapped; admin and privileged share it.
type LimitConfig struct {
	DefaultAmount      int64 `mapstructure:"default_amount"`
	DefaultDailyCap    int64 `mapstructure:"default_daily_cap"`
	PrivilegedAmount   int64 `mapstructure:"privileged_amount"`
	PrivilegedDailyCap int64 `mapstructure:"privileged_daily_cap"`
}

type AuthConfig struct {
	PrivilegedDomains []string `mapstructure:"privileged_domains"`
}

// QueueConfig tunes the decoupled pipeline. SweepInterval is how often
// idle workers poll the ledger for reclaimed or orphaned requests.
// RetryBackoff and MaxRetries are declared for callers that layer retries
// on top of the attempt counter; the pipeline itself does not retry.
type QueueConfig struct {
	Depth             int           `mapstructure:"depth"`
	WorkerCount       int           `mapstructure:"worker_count"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

// TransferConfig selects the transfer capability. Mode is mock | http.
type TransferConfig struct {
	Mode      string        `mapstructure:"mode"`
	BaseURL   string        `mapstructure:"base_url"`
	Path      string        `mapstructure:"path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (FAUCET_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (FAUCET_*)
	v.SetEnvPrefix("FAUCET")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
