package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the tessera configuration file
// (~/.config/tessera/config.yaml). Pointer fields distinguish "not
// set" from zero values.
type Config struct {
	Device        string `yaml:"device"`
	Power         string `yaml:"power"`
	Threads       *int64 `yaml:"threads"`
	Format        string `yaml:"format"`
	AllowFallback *bool  `yaml:"allow_fallback"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tessera", "config.yaml")
}

// applyEngineConfig applies config file defaults to engine flag
// variables when the corresponding CLI flag was not explicitly set.
func applyEngineConfig(c *cli.Command, cfg Config) {
	if cfg.Device != "" && !c.IsSet("device") {
		device = cfg.Device
	}
	if cfg.Power != "" && !c.IsSet("power") {
		power = cfg.Power
	}
	if cfg.Threads != nil && !c.IsSet("threads") {
		threads = *cfg.Threads
	}
	if cfg.Format != "" && !c.IsSet("format") {
		modelFormat = cfg.Format
	}
	if cfg.AllowFallback != nil && !c.IsSet("allow-fallback") {
		allowFallback = *cfg.AllowFallback
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyEngineConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or fails to parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
