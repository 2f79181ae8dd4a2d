package config

import (
	"fmt"
	"strings"
)

var knownLogLevels = map[string]struct{}{
	"":        {},
	"debug":   {},
	"info":    {},
	"warn":    {},
	"warning": {},
	"error":   {},
}

// Validate rejects configurations the node cannot run with.
func Validate(c *Config) error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("rpc: RPCAddress required")
	}
	if _, ok := knownLogLevels[strings.ToLower(strings.TrimSpace(c.LogLevel))]; !ok {
		return fmt.Errorf("logging: unknown LogLevel %q", c.LogLevel)
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if c.CoinCacheBudgetMB < 0 {
		return fmt.Errorf("storage: CoinCacheBudgetMB must not be negative")
	}
	return nil
}
