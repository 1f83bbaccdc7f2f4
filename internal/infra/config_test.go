package infra

import (
	"os"
	"path/filepath"
	"testing"
)

const testYAML = `
app:
  name: orderflow
  version: "1.0"
server:
  port: 9000
  allowed_origins:
    - http://localhost:5173
exchange:
  ws_url: wss://fstream.binance.com/ws
  rest_url: https://fapi.binance.com
  symbols: [BTCUSDT, ETHUSDT]
metrics:
  tick_interval_ms: 250
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if len(cfg.Exchange.Symbols) != 2 {
		t.Errorf("symbols = %v, want 2 entries", cfg.Exchange.Symbols)
	}
	// Defaults fill unset values.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host default = %q", cfg.Server.Host)
	}
	if cfg.Exchange.OiPollIntervalSec != 10 {
		t.Errorf("oi poll default = %d, want 10", cfg.Exchange.OiPollIntervalSec)
	}
	if cfg.Metrics.TradeWindowMs != 60_000 {
		t.Errorf("trade window default = %d, want 60000", cfg.Metrics.TradeWindowMs)
	}
	if cfg.Execution.MaxLeverage != 20 {
		t.Errorf("max leverage default = %d, want 20", cfg.Execution.MaxLeverage)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8123")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MAX_LEVERAGE", "10")
	t.Setenv("LOGGER_QUEUE_LIMIT", "500")
	t.Setenv("LOGGER_DROP_HALT_THRESHOLD", "100")

	cfg, err := LoadConfig(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != 8123 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server override = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Execution.MaxLeverage != 10 {
		t.Errorf("max leverage = %d, want 10", cfg.Execution.MaxLeverage)
	}
	if cfg.Logging.QueueLimit != 500 || cfg.Logging.DropHaltThreshold != 100 {
		t.Errorf("logger env = %d/%d", cfg.Logging.QueueLimit, cfg.Logging.DropHaltThreshold)
	}
}

func TestLoadConfig_BadEnvValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	if _, err := LoadConfig(writeConfig(t, testYAML)); err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing ws url", `
exchange:
  rest_url: https://fapi.binance.com
  symbols: [BTCUSDT]
`},
		{"bad ws scheme", `
exchange:
  ws_url: http://fstream.binance.com
  rest_url: https://fapi.binance.com
  symbols: [BTCUSDT]
`},
		{"no symbols", `
exchange:
  ws_url: wss://fstream.binance.com/ws
  rest_url: https://fapi.binance.com
  symbols: []
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
