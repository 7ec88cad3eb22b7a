package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ftrader/internal/domain"
	"ftrader/internal/risk"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ftrader processes.
type Config struct {
	Storage    Storage           `yaml:"storage"`
	Server     Server            `yaml:"server"`
	Alpaca     Alpaca            `yaml:"alpaca"`
	Logging    Logging           `yaml:"logging"`
	Contracts  []domain.Contract `yaml:"contracts"`
	Strategies []string          `yaml:"strategies"`

	// Allocations hand broker-held positions from the common pool to
	// strategies after the startup sync.
	Allocations []Allocation `yaml:"allocations"`
	Risk        risk.Config  `yaml:"risk"`
	Account     Account      `yaml:"account"`
	Profiling   Profiling    `yaml:"profiling"`
}

// Allocation assigns volume of one side of a synced position to a strategy.
type Allocation struct {
	Strategy  string `yaml:"strategy"`
	Ticker    string `yaml:"ticker"`
	Direction string `yaml:"direction"`
	Volume    int    `yaml:"volume"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	TickDir    string `yaml:"tick_dir"`
}

// Server holds network listener configuration. A zero port disables the
// listener.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Account seeds the simulated account of a backtest.
type Account struct {
	InitialCash float64 `yaml:"initial_cash"`
}

// Profiling enables continuous profiling when ServerAddress is set.
type Profiling struct {
	ServerAddress string `yaml:"server_address"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FTRADER_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("FTRADER_TICK_DIR"); v != "" {
		cfg.Storage.TickDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the parts of the configuration the engine cannot run
// without. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Contracts) == 0 {
		errs = append(errs, errors.New("contracts: at least one contract is required"))
	}
	tickers := make(map[string]bool, len(c.Contracts))
	ids := make(map[uint32]bool, len(c.Contracts))
	for i, ct := range c.Contracts {
		if ct.Ticker == "" {
			errs = append(errs, fmt.Errorf("contracts[%d]: ticker is required", i))
		} else if tickers[ct.Ticker] {
			errs = append(errs, fmt.Errorf("contracts[%d]: duplicate ticker %q", i, ct.Ticker))
		}
		tickers[ct.Ticker] = true
		if ct.Size <= 0 {
			errs = append(errs, fmt.Errorf("contracts[%d] %s: size must be positive", i, ct.Ticker))
		}
		if ct.TickerID != 0 {
			if ids[ct.TickerID] {
				errs = append(errs, fmt.Errorf("contracts[%d] %s: duplicate ticker_id %d", i, ct.Ticker, ct.TickerID))
			}
			ids[ct.TickerID] = true
		}
	}

	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if s == "" {
			errs = append(errs, errors.New("strategies: empty strategy id"))
		} else if seen[s] {
			errs = append(errs, fmt.Errorf("strategies: duplicate strategy %q", s))
		}
		seen[s] = true
	}

	for i, a := range c.Allocations {
		if !seen[a.Strategy] {
			errs = append(errs, fmt.Errorf("allocations[%d]: unknown strategy %q", i, a.Strategy))
		}
		if !tickers[a.Ticker] {
			errs = append(errs, fmt.Errorf("allocations[%d]: unknown ticker %q", i, a.Ticker))
		}
		if _, err := domain.ParseDirection(a.Direction); err != nil {
			errs = append(errs, fmt.Errorf("allocations[%d]: %w", i, err))
		}
		if a.Volume <= 0 {
			errs = append(errs, fmt.Errorf("allocations[%d]: volume must be positive", i))
		}
	}

	known := map[string]bool{
		risk.RuleSelfTrade: true, risk.RulePosition: true,
		risk.RuleThrottleRate: true, risk.RuleFund: true,
	}
	for _, r := range c.Risk.Rules {
		if !known[r] {
			errs = append(errs, fmt.Errorf("risk.rules: unknown rule %q", r))
		}
	}
	if t := c.Risk.Throttle; t.PeriodMS < 0 || t.OrderLimit < 0 || t.VolumeLimit < 0 {
		errs = append(errs, errors.New("risk.throttle: values must not be negative"))
	}

	if c.Server.Port < 0 || c.Server.GRPCPort < 0 {
		errs = append(errs, errors.New("server: ports must not be negative"))
	}
	return errors.Join(errs...)
}

// BuildContractTable returns the immutable contract table. Contracts without
// a ticker_id are numbered after the highest configured id, in file order.
func (c *Config) BuildContractTable() *domain.ContractTable {
	return domain.NewContractTable(c.Contracts)
}
