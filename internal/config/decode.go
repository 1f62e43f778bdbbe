package config

import (
	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the offline decode command.
type DecodeConfig struct {
	SourceType string
	In         string
	Out        string
	Errors     string
	LogLevel   string
	Topic0Map  map[string]string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return DecodeConfig{}, err
	}
	v.SetDefault("out", "./data/decoded_events.jsonl")
	v.SetDefault("errors", "./data/decode_errors.jsonl")

	return DecodeConfig{
		SourceType: v.GetString("source-type"),
		In:         v.GetString("in"),
		Out:        v.GetString("out"),
		Errors:     v.GetString("errors"),
		LogLevel:   v.GetString("log-level"),
		Topic0Map:  getStringMap(v, "topic0-map"),
	}, nil
}
