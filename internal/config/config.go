package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults used when the config file omits a value.
const (
	DefaultAPIBaseURL = "https://api.lmx.ba"
	DefaultWSURL      = "wss://ws.lmx.ba/chat"
	DefaultListenAddr = "127.0.0.1:7450"
)

// Config represents the global ~/.lmxchat/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	APIBaseURL     string `toml:"api_base_url"`
	WSURL          string `toml:"ws_url"`
	AuthToken      string `toml:"auth_token"`
	UserID         int64  `toml:"user_id"`
	ListenAddr     string `toml:"listen_addr"`
}

// Default returns a config with every default applied and no credentials.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads config from the given path. Returns error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
}
