package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Data.RestURL != "https://api.binance.com" {
		t.Fatalf("rest url %q", cfg.Data.RestURL)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level %q", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  addr: ":9999"
data:
  dir: /var/lib/quant
  clickhouse:
    addr: ch:9000
    database: markets
log:
  level: debug
  development: true
`
	if err := os.WriteFile(filepath.Join(dir, "quantd.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if cfg.Data.Dir != "/var/lib/quant" {
		t.Fatalf("data dir %q", cfg.Data.Dir)
	}
	if cfg.Data.ClickHouse.Addr != "ch:9000" || cfg.Data.ClickHouse.Database != "markets" {
		t.Fatalf("clickhouse %+v", cfg.Data.ClickHouse)
	}
	// Unset fields keep their defaults.
	if cfg.Data.ClickHouse.Table != "candles" {
		t.Fatalf("table %q, want default candles", cfg.Data.ClickHouse.Table)
	}
	if !cfg.Log.Development || cfg.Log.Level != "debug" {
		t.Fatalf("log %+v", cfg.Log)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("QUANT_SERVER_ADDR", ":7070")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr %q, want env override :7070", cfg.Server.Addr)
	}
}
