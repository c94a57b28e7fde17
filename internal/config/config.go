package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Source selects where rows come from.
const (
	SourceHTTP     = "http"
	SourcePostgres = "postgres"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Source    string
	SourceURL string
	PGDSN     string

	ListenAddr string
	DataDir    string

	HistoryLimit int
	DefaultLimit int
	MaxLimit     int

	StartHeight  uint64
	PollDelay    time.Duration
	PostTimeout  time.Duration
	SaveInterval time.Duration

	FetchAttempts     int
	FetchTimeoutStart time.Duration
	FetchTimeoutStep  time.Duration
	FetchSleepStart   time.Duration

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("source", SourceHTTP)
	v.SetDefault("source-url", "https://mainnet.neardata.xyz/v0")
	v.SetDefault("listen-addr", ":3000")
	v.SetDefault("data-dir", "./data")
	v.SetDefault("history-limit", 10000)
	v.SetDefault("default-limit", 100)
	v.SetDefault("max-limit", 10000)
	v.SetDefault("poll-delay", time.Second)
	v.SetDefault("post-timeout", time.Second)
	v.SetDefault("save-interval", 10*time.Second)
	v.SetDefault("fetch-attempts", 10)
	v.SetDefault("fetch-timeout-start", 2*time.Second)
	v.SetDefault("fetch-timeout-step", 500*time.Millisecond)
	v.SetDefault("fetch-sleep-start", 100*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Source:            v.GetString("source"),
		SourceURL:         v.GetString("source-url"),
		PGDSN:             v.GetString("pg-dsn"),
		ListenAddr:        v.GetString("listen-addr"),
		DataDir:           v.GetString("data-dir"),
		HistoryLimit:      v.GetInt("history-limit"),
		DefaultLimit:      v.GetInt("default-limit"),
		MaxLimit:          v.GetInt("max-limit"),
		StartHeight:       v.GetUint64("start-height"),
		PollDelay:         v.GetDuration("poll-delay"),
		PostTimeout:       v.GetDuration("post-timeout"),
		SaveInterval:      v.GetDuration("save-interval"),
		FetchAttempts:     v.GetInt("fetch-attempts"),
		FetchTimeoutStart: v.GetDuration("fetch-timeout-start"),
		FetchTimeoutStep:  v.GetDuration("fetch-timeout-step"),
		FetchSleepStart:   v.GetDuration("fetch-sleep-start"),
		LogLevel:          v.GetString("log-level"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Source {
	case SourceHTTP:
		if c.SourceURL == "" {
			return fmt.Errorf("source url is required")
		}
	case SourcePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for postgres source")
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit must not be negative")
	}
	return nil
}
