package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the daemon configuration. All fields have working defaults; a
// missing config file means "run with defaults". A zero value — absent from
// the file or written explicitly — selects the field's default, so the
// smallest accepted explicit window is 1 and the smallest explicit receive
// size is 32.
type Config struct {
	// ListenAddr is the UDP host:port the transport binds; port 0 picks an
	// ephemeral port. Empty selects the default.
	ListenAddr string `toml:"listen_addr"`
	// AdminAddr enables the health/metrics HTTP endpoint when non-empty.
	AdminAddr string `toml:"admin_addr"`
	// Window is the receive-pool depth for the wireup responder. Zero
	// selects the default.
	Window int `toml:"window"`
	// InitialRecvSize is the starting capacity of each pool buffer; the
	// pool regrows on truncation. Zero selects the default.
	InitialRecvSize int `toml:"initial_recv_size"`
	// CorsOrigins restricts the admin endpoint's CORS allowlist.
	CorsOrigins []string `toml:"cors_origins"`
}

func Default() Config {
	return Config{
		ListenAddr:      "127.0.0.1:0",
		Window:          3,
		InitialRecvSize: 128,
	}
}

// Load reads a TOML config from path, filling defaults for absent fields.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = Default().ListenAddr
	}
	if cfg.Window == 0 {
		cfg.Window = Default().Window
	}
	if cfg.InitialRecvSize == 0 {
		cfg.InitialRecvSize = Default().InitialRecvSize
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Window < 1 {
		return fmt.Errorf("config: window must be >= 1, got %d", cfg.Window)
	}
	if cfg.InitialRecvSize < 32 {
		return fmt.Errorf("config: initial_recv_size must be >= 32, got %d", cfg.InitialRecvSize)
	}
	return nil
}
