package config

import "time"

// Config holds runtime settings for the attendkeeper CLI.
//
// Durations are time.Duration values; on the command line the retry delay is
// given in milliseconds and the online check interval in seconds.
type Config struct {
	ServerEndpointAddr  string
	DataFile            string
	LogFile             string
	BatchSize           int
	RetryBaseDelay      time.Duration
	MaxRetries          int
	MaxAttempts         int
	OnlineCheckInterval time.Duration
	ConflictWindow      time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.DataFile = "attendkeeper.db"
	c.LogFile = "attendkeeper.log"
	c.BatchSize = 50
	c.RetryBaseDelay = time.Second
	c.MaxRetries = 5
	c.MaxAttempts = 5
	c.OnlineCheckInterval = 3 * time.Second
	c.ConflictWindow = 0
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
