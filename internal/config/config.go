package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults applied when neither config file nor environment say
// otherwise. Port 3001 matches what the dashboard front end expects.
const (
	DefaultHTTPAddr = ":3001"
)

// Config represents the global ~/.vitta-bridge/config.toml plus
// environment overrides.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	HTTPAddr       string   `toml:"http_addr"`
	CORSOrigins    []string `toml:"cors_origins"`
}

// Load reads config from the given path, then applies environment
// overrides (BRIDGE_SESSION, BRIDGE_HTTP_ADDR, BRIDGE_CORS_ORIGINS).
// A .env file in the working directory is honored the same way as the
// real environment. A missing config file is not an error; overrides
// and defaults still apply.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	// Not an error if absent; production deployments use the real env.
	_ = godotenv.Load()

	if v := os.Getenv("BRIDGE_SESSION"); v != "" {
		cfg.DefaultSession = v
	}
	if v := os.Getenv("BRIDGE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("BRIDGE_CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSOrigins = origins
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
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
