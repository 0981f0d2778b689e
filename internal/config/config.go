// Package config loads the simulator configuration from YAML and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/papertrade/internal/market"
	"github.com/atmx/papertrade/internal/sim"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration.
type Config struct {
	Server     Server     `yaml:"server"`
	Simulation Simulation `yaml:"simulation"`
	Storage    Storage    `yaml:"storage"`
	Logging    Logging    `yaml:"logging"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Simulation is the initial market and portfolio.
type Simulation struct {
	Trader            string        `yaml:"trader"`
	StartingCash      float64       `yaml:"starting_cash"`
	Seed              uint64        `yaml:"seed"`
	TickInterval      time.Duration `yaml:"tick_interval"` // 0 disables the tick loop
	ForfeitOnStopLoss bool          `yaml:"forfeit_on_stop_loss"`
	StrictStopLoss    bool          `yaml:"strict_stop_loss"`
	Securities        []Security    `yaml:"securities"`
}

// Security is one listing.
type Security struct {
	Ticker     string  `yaml:"ticker"`
	Price      float64 `yaml:"price"`
	Volatility float64 `yaml:"volatility"`
}

// Storage selects the trade journal backend. With nothing set the
// journal is kept in memory.
type Storage struct {
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	SQLitePath  string        `yaml:"sqlite_path"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration: five securities and 1000 cash.
func Default() *Config {
	return &Config{
		Server: Server{Port: "8080"},
		Simulation: Simulation{
			Trader:       "trader",
			StartingCash: 1000,
			Seed:         1,
			TickInterval: time.Second,
			Securities: []Security{
				{Ticker: "AAPL", Price: 100, Volatility: 0.1},
				{Ticker: "GOOG", Price: 200, Volatility: 0.2},
				{Ticker: "AMZN", Price: 1500, Volatility: 0.3},
				{Ticker: "TSLA", Price: 500, Volatility: 0.4},
				{Ticker: "FB", Price: 300, Volatility: 0.5},
			},
		},
		Storage: Storage{CacheTTL: 30 * time.Second},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIM_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SIM_SEED %q: %w", v, err)
		}
		cfg.Simulation.Seed = seed
	}
	return nil
}

// Validate performs basic configuration validation. Ticker format and
// duplicates are checked again when the market is built.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port cannot be empty")
	}
	if c.Simulation.StartingCash < 0 {
		return fmt.Errorf("starting cash cannot be negative: %v", c.Simulation.StartingCash)
	}
	if c.Simulation.TickInterval < 0 {
		return fmt.Errorf("tick interval cannot be negative: %s", c.Simulation.TickInterval)
	}
	if len(c.Simulation.Securities) == 0 {
		return errors.New("at least one security is required")
	}
	for _, s := range c.Simulation.Securities {
		if err := market.ValidateTicker(s.Ticker); err != nil {
			return err
		}
		if s.Price <= 0 {
			return fmt.Errorf("security %s: price must be positive", s.Ticker)
		}
		if s.Volatility < 0 {
			return fmt.Errorf("security %s: volatility cannot be negative", s.Ticker)
		}
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// SimConfig converts the simulation section to the controller's config.
func (c *Config) SimConfig() sim.Config {
	listings := make([]market.Listing, 0, len(c.Simulation.Securities))
	for _, s := range c.Simulation.Securities {
		listings = append(listings, market.Listing{
			Ticker:     s.Ticker,
			Price:      decimal.NewFromFloat(s.Price),
			Volatility: decimal.NewFromFloat(s.Volatility),
		})
	}
	return sim.Config{
		Trader:            c.Simulation.Trader,
		Listings:          listings,
		StartingCash:      decimal.NewFromFloat(c.Simulation.StartingCash),
		ForfeitOnStopLoss: c.Simulation.ForfeitOnStopLoss,
		StrictStopLoss:    c.Simulation.StrictStopLoss,
	}
}

// NewLogger builds the slog logger described by the logging section.
func (l Logging) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(l.Level)
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
