package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Bus drivers.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
		MaxReconnects int    `yaml:"max_reconnects"`
		ReconnectWait string `yaml:"reconnect_wait"`
	} `yaml:"nats"`
	Bus struct {
		// Driver is memory, redis or nats. Empty picks redis when Redis is
		// configured and memory otherwise.
		Driver string `yaml:"driver"`
		Buffer int    `yaml:"buffer"`
	} `yaml:"bus"`
	Stats struct {
		LeaderboardTTL string `yaml:"leaderboard_ttl"`
	} `yaml:"stats"`
	Game struct {
		Countdown string `yaml:"countdown"`
	} `yaml:"game"`
	Public struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"public"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Default is the configuration used when no file is present: everything in
// memory on port 8080.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Bus.Buffer = 64
	cfg.NATS.SubjectPrefix = "rooms"
	cfg.NATS.MaxReconnects = -1
	cfg.Public.BaseURL = "http://localhost:8080"
	cfg.Log.Level = "info"
	cfg.Log.Pretty = true
	return cfg
}

// Load reads YAML config from path over the defaults. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BusDriver resolves the configured bus driver.
func (c Config) BusDriver() string {
	if c.Bus.Driver != "" {
		return c.Bus.Driver
	}
	if c.Redis.Addr != "" {
		return BusRedis
	}
	return BusMemory
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
