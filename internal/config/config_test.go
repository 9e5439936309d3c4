package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg.ListenAddr != want.ListenAddr || cfg.AdminAddr != want.AdminAddr ||
		cfg.Window != want.Window || cfg.InitialRecvSize != want.InitialRecvSize {
		t.Fatalf("got %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagrpc.toml")
	body := []byte(`
listen_addr = "127.0.0.1:9300"
admin_addr = "127.0.0.1:9301"
window = 5
initial_recv_size = 256
cors_origins = ["http://localhost:3000"]
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9300" || cfg.AdminAddr != "127.0.0.1:9301" {
		t.Fatalf("addresses: %+v", cfg)
	}
	if cfg.Window != 5 || cfg.InitialRecvSize != 256 {
		t.Fatalf("pool settings: %+v", cfg)
	}
	if len(cfg.CorsOrigins) != 1 {
		t.Fatalf("cors origins: %+v", cfg.CorsOrigins)
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagrpc.toml")
	if err := os.WriteFile(path, []byte("window = 4\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Window != 4 {
		t.Fatalf("window: got %d", cfg.Window)
	}
	if cfg.ListenAddr != Default().ListenAddr || cfg.InitialRecvSize != Default().InitialRecvSize {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
}

func TestLoadExplicitZeroSelectsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagrpc.toml")
	body := []byte("window = 0\ninitial_recv_size = 0\nlisten_addr = \"\"\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg.Window != want.Window || cfg.InitialRecvSize != want.InitialRecvSize ||
		cfg.ListenAddr != want.ListenAddr {
		t.Fatalf("explicit zeros must select defaults, got %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagrpc.toml")
	if err := os.WriteFile(path, []byte("initial_recv_size = 8\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
