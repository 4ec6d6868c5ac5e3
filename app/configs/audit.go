package config

import (
	"encoding/json"
	"os"
)

// DefaultConfig returns a copy of the built-in defaults.
func DefaultConfig() Config {
	cfg := defaultConfig()
	applyDefaults(&cfg)
	return cfg
}

// LoadConfigFile reads and normalizes a config file without writing it back.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// Render formats the effective config as indented JSON with the bot token
// masked, for the config subcommand.
func Render(cfg Config) string {
	if cfg.Bot.Token != "" {
		cfg.Bot.Token = "<set>"
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}
