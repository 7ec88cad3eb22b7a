package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ftrader.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  sqlite_path: "/tmp/ftrader/ftrader.db"
  tick_dir: "/tmp/ftrader/ticks"
server:
  host: "0.0.0.0"
  port: 8080
  grpc_port: 9090
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
logging:
  level: "info"
  file: "/tmp/ftrader/ftrader.log"
contracts:
  - ticker: "AAPL"
    exchange: "NASDAQ"
    size: 1
    price_tick: 0.01
  - ticker: "rb2410"
    ticker_id: 10
    size: 10
    long_margin_rate: 0.12
strategies: ["alpha", "beta"]
allocations:
  - strategy: "beta"
    ticker: "AAPL"
    direction: "buy"
    volume: 100
risk:
  rules: ["self_trade", "position", "throttle_rate", "fund"]
  throttle:
    period_ms: 1000
    order_limit: 5
    volume_limit: 100
account:
  initial_cash: 1000000
profiling:
  server_address: "http://pyroscope:4040"
`)

	// Clear any environment overrides that might interfere.
	for _, k := range []string{"FTRADER_SQLITE_PATH", "FTRADER_TICK_DIR", "LOG_LEVEL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "ALPACA_BASE_URL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.SQLitePath != "/tmp/ftrader/ftrader.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/ftrader/ftrader.db")
	}
	if cfg.Storage.TickDir != "/tmp/ftrader/ticks" {
		t.Errorf("Storage.TickDir = %q, want %q", cfg.Storage.TickDir, "/tmp/ftrader/ticks")
	}

	// -- Server --
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server.GRPCPort = %d, want %d", cfg.Server.GRPCPort, 9090)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}

	// -- Logging --
	if cfg.Logging.File != "/tmp/ftrader/ftrader.log" {
		t.Errorf("Logging.File = %q, want %q", cfg.Logging.File, "/tmp/ftrader/ftrader.log")
	}

	// -- Contracts / strategies --
	if len(cfg.Contracts) != 2 {
		t.Fatalf("len(Contracts) = %d, want 2", len(cfg.Contracts))
	}
	if cfg.Contracts[1].LongMarginRate != 0.12 {
		t.Errorf("Contracts[1].LongMarginRate = %v, want 0.12", cfg.Contracts[1].LongMarginRate)
	}
	if len(cfg.Strategies) != 2 || cfg.Strategies[1] != "beta" {
		t.Errorf("Strategies = %v, want [alpha beta]", cfg.Strategies)
	}

	if len(cfg.Allocations) != 1 || cfg.Allocations[0] != (Allocation{Strategy: "beta", Ticker: "AAPL", Direction: "buy", Volume: 100}) {
		t.Errorf("Allocations = %+v", cfg.Allocations)
	}

	// -- Risk --
	if len(cfg.Risk.Rules) != 4 {
		t.Errorf("Risk.Rules = %v, want 4 rules", cfg.Risk.Rules)
	}
	if cfg.Risk.Throttle.PeriodMS != 1000 || cfg.Risk.Throttle.OrderLimit != 5 || cfg.Risk.Throttle.VolumeLimit != 100 {
		t.Errorf("Risk.Throttle = %+v", cfg.Risk.Throttle)
	}

	// -- Account / profiling --
	if cfg.Account.InitialCash != 1000000 {
		t.Errorf("Account.InitialCash = %v, want 1000000", cfg.Account.InitialCash)
	}
	if cfg.Profiling.ServerAddress != "http://pyroscope:4040" {
		t.Errorf("Profiling.ServerAddress = %q", cfg.Profiling.ServerAddress)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  sqlite_path: "/original/ftrader.db"
logging:
  level: "info"
contracts:
  - ticker: "AAPL"
    size: 1
`)

	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "")
	t.Setenv("FTRADER_SQLITE_PATH", "/env/ftrader.db")
	t.Setenv("FTRADER_TICK_DIR", "/env/ticks")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALPACA_BASE_URL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.SQLitePath != "/env/ftrader.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q (env override)", cfg.Storage.SQLitePath, "/env/ftrader.db")
	}
	if cfg.Storage.TickDir != "/env/ticks" {
		t.Errorf("Storage.TickDir = %q, want %q (env override)", cfg.Storage.TickDir, "/env/ticks")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q (env override)", cfg.Logging.Level, "debug")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "no contracts",
			yaml:    `strategies: ["a"]`,
			wantErr: []string{"at least one contract"},
		},
		{
			name: "bad contracts",
			yaml: `
contracts:
  - ticker: "AAPL"
    ticker_id: 1
    size: 0
  - ticker: "AAPL"
    ticker_id: 1
    size: 1
  - size: 1
`,
			wantErr: []string{"size must be positive", `duplicate ticker "AAPL"`, "duplicate ticker_id 1", "ticker is required"},
		},
		{
			name: "bad risk and strategies",
			yaml: `
contracts:
  - ticker: "AAPL"
    size: 1
strategies: ["a", "a"]
risk:
  rules: ["self_trade", "max_loss"]
  throttle:
    order_limit: -1
`,
			wantErr: []string{`duplicate strategy "a"`, `unknown rule "max_loss"`, "must not be negative"},
		},
		{
			name: "bad allocations",
			yaml: `
contracts:
  - ticker: "AAPL"
    size: 1
strategies: ["a"]
allocations:
  - strategy: "b"
    ticker: "MSFT"
    direction: "long"
    volume: 0
`,
			wantErr: []string{`unknown strategy "b"`, `unknown ticker "MSFT"`, `unknown direction "long"`, "volume must be positive"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("Load() should fail validation")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestBuildContractTable(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
contracts:
  - ticker: "AAPL"
    size: 1
  - ticker: "rb2410"
    ticker_id: 10
    size: 10
  - ticker: "TSLA"
    size: 1
`))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	table := cfg.BuildContractTable()
	if table.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", table.Len())
	}
	for ticker, wantID := range map[string]uint32{"AAPL": 11, "rb2410": 10, "TSLA": 12} {
		c, ok := table.ByTicker(ticker)
		if !ok {
			t.Fatalf("ByTicker(%q) not found", ticker)
		}
		if c.TickerID != wantID {
			t.Errorf("%s ticker_id = %d, want %d", ticker, c.TickerID, wantID)
		}
	}
}
