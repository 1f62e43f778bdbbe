package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL        string
	WSRPCURL      string
	SourceType    string
	SourceAddress string

	MaxBlocksPerSync uint64
	MaxRetryAttempts int
	RetryDelay       time.Duration
	RetryStrategy    string
	Workers          int
	FullSyncPause    time.Duration
	SkipWarnRatio    float64

	RPCRateLimit float64
	RPCRateBurst int

	Store       string
	DataDir     string
	SQLitePath  string
	PGDSN       string
	SkipJournal string
	Topic0Map   map[string]string

	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source-type", "data_registry")
	v.SetDefault("max-blocks-per-sync", uint64(100))
	v.SetDefault("max-retry-attempts", 3)
	v.SetDefault("retry-delay-ms", 2000)
	v.SetDefault("retry-strategy", "fixed")
	v.SetDefault("workers", 1)
	v.SetDefault("full-sync-pause", time.Second)
	v.SetDefault("skip-warn-ratio", 0.5)
	v.SetDefault("rpc-rate-burst", 1)
	v.SetDefault("store", StoreFile)
	v.SetDefault("data-dir", "./data")
	v.SetDefault("log-level", "info")
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}
	return fromViper(v), nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	setServeDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("ledgersync")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		RPCURL:           v.GetString("rpc"),
		WSRPCURL:         v.GetString("ws-rpc"),
		SourceType:       v.GetString("source-type"),
		SourceAddress:    v.GetString("source-address"),
		MaxBlocksPerSync: v.GetUint64("max-blocks-per-sync"),
		MaxRetryAttempts: v.GetInt("max-retry-attempts"),
		RetryDelay:       time.Duration(v.GetInt64("retry-delay-ms")) * time.Millisecond,
		RetryStrategy:    v.GetString("retry-strategy"),
		Workers:          v.GetInt("workers"),
		FullSyncPause:    v.GetDuration("full-sync-pause"),
		SkipWarnRatio:    v.GetFloat64("skip-warn-ratio"),
		RPCRateLimit:     v.GetFloat64("rpc-rate-limit"),
		RPCRateBurst:     v.GetInt("rpc-rate-burst"),
		Store:            strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		DataDir:          v.GetString("data-dir"),
		SQLitePath:       v.GetString("sqlite-path"),
		PGDSN:            v.GetString("pg-dsn"),
		SkipJournal:      v.GetString("skip-journal"),
		Topic0Map:        getStringMap(v, "topic0-map"),
		LogLevel:         v.GetString("log-level"),
	}
}

// Validate checks values that do not depend on other packages.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreFile:
	case StoreSQLite:
		if c.SQLitePath == "" && c.DataDir == "" {
			return fmt.Errorf("sqlite store needs sqlite-path or data-dir")
		}
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("postgres store needs pg-dsn")
		}
	default:
		return fmt.Errorf("unknown store %q (memory, file, sqlite, postgres)", c.Store)
	}
	if c.MaxBlocksPerSync == 0 {
		return fmt.Errorf("max-blocks-per-sync must be greater than zero")
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("max-retry-attempts must be at least 1")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry-delay-ms must not be negative")
	}
	if c.RPCRateLimit < 0 {
		return fmt.Errorf("rpc-rate-limit must not be negative")
	}
	return nil
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

// parseStringMap reads "topic0=Event,topic0=Event".
func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	for _, pair := range strings.Split(input, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
