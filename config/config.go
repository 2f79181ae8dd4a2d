package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// OTel selects which telemetry signals the node exports and where.
type OTel struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Config is the node configuration file.
type Config struct {
	RPCAddress        string   `toml:"RPCAddress"`
	DataDir           string   `toml:"DataDir"`
	NetworkName       string   `toml:"NetworkName"`
	LogLevel          string   `toml:"LogLevel"`
	LogFile           string   `toml:"LogFile"`
	LogMaxSizeMB      int      `toml:"LogMaxSizeMB"`
	LogMaxBackups     int      `toml:"LogMaxBackups"`
	CoinCacheBudgetMB int      `toml:"CoinCacheBudgetMB"`
	RPCAuthTokenEnv   string   `toml:"RPCAuthTokenEnv"`
	RPCPolicyFile     string   `toml:"RPCPolicyFile"`
	DeprecatedRPC     []string `toml:"DeprecatedRPC"`
	OTel              OTel     `toml:"OTel"`
}

// Load reads the configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "RPCAuthToken" {
			return nil, fmt.Errorf("config file %s sets RPCAuthToken inline; point RPCAuthTokenEnv at an environment variable instead", path)
		}
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":9245"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lbrycrd-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "regtest"
	}
	if cfg.LogMaxSizeMB == 0 {
		cfg.LogMaxSizeMB = 64
	}
	if cfg.LogMaxBackups == 0 {
		cfg.LogMaxBackups = 4
	}
	if cfg.CoinCacheBudgetMB == 0 {
		cfg.CoinCacheBudgetMB = 16
	}
	if cfg.DeprecatedRPC == nil {
		cfg.DeprecatedRPC = []string{}
	}
}

// AuthToken resolves the ingestion bearer token from the configured
// environment variable. An unset variable disables ingestion methods.
func (c *Config) AuthToken() string {
	name := strings.TrimSpace(c.RPCAuthTokenEnv)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:        ":9245",
		DataDir:           "./lbrycrd-data",
		NetworkName:       "regtest",
		LogLevel:          "info",
		LogMaxSizeMB:      64,
		LogMaxBackups:     4,
		CoinCacheBudgetMB: 16,
		RPCAuthTokenEnv:   "LBRYCRD_RPC_TOKEN",
		DeprecatedRPC:     []string{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
