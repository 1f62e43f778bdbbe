package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// ServeConfig adds HTTP, schedule and lock settings for the serve command.
type ServeConfig struct {
	Config

	Listen          string
	StopTimeout     time.Duration
	Schedule        string
	ScheduleEnabled bool
	Lock            string
	RedisAddr       string
	LockTTL         time.Duration
	Push            bool
}

func setServeDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("stop-timeout", 10*time.Second)
	v.SetDefault("schedule", "0 */5 * * * *")
	v.SetDefault("schedule-enabled", true)
	v.SetDefault("lock", LockLocal)
	v.SetDefault("lock-ttl", 5*time.Minute)
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ServeConfig{}, err
	}
	return ServeConfig{
		Config:          fromViper(v),
		Listen:          v.GetString("listen"),
		StopTimeout:     v.GetDuration("stop-timeout"),
		Schedule:        v.GetString("schedule"),
		ScheduleEnabled: v.GetBool("schedule-enabled"),
		Lock:            strings.ToLower(strings.TrimSpace(v.GetString("lock"))),
		RedisAddr:       v.GetString("redis-addr"),
		LockTTL:         v.GetDuration("lock-ttl"),
		Push:            v.GetBool("push"),
	}, nil
}

// Validate checks the embedded Config and the serve settings.
func (c ServeConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	switch c.Lock {
	case LockLocal:
	case LockRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis lock needs redis-addr")
		}
	default:
		return fmt.Errorf("unknown lock %q (local, redis)", c.Lock)
	}
	if c.Push && c.WSRPCURL == "" {
		return fmt.Errorf("push needs ws-rpc")
	}
	return nil
}
