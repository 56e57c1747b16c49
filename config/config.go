package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendchain/crypto"
)

// Config carries the daemon settings loaded from the TOML file.
type Config struct {
	RPCAddress     string   `toml:"RPCAddress"`
	MetricsAddress string   `toml:"MetricsAddress"`
	DataDir        string   `toml:"DataDir"`
	Environment    string   `toml:"Environment"`
	RPCToken       string   `toml:"RPCToken"`
	ModuleAddress  string   `toml:"ModuleAddress"`
	FeeToken       string   `toml:"FeeToken"`
	RevenueTokens  []string `toml:"RevenueTokens"`
	PauseLending   bool     `toml:"PauseLending"`
}

const defaultConfig = `RPCAddress = "127.0.0.1:8545"
MetricsAddress = "127.0.0.1:9464"
DataDir = "./lendchain-data"
Environment = "dev"
RPCToken = ""
ModuleAddress = ""
FeeToken = ""
RevenueTokens = []
PauseLending = false
`

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := toml.Decode(defaultConfig, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address-valued fields parse as bech32 addresses.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir is required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"ModuleAddress", c.ModuleAddress},
		{"FeeToken", c.FeeToken},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	for _, token := range c.RevenueTokens {
		if _, err := crypto.DecodeAddress(token); err != nil {
			return fmt.Errorf("RevenueTokens entry %q: %w", token, err)
		}
	}
	return nil
}

// DecodedAddress parses a configured bech32 value, returning the zero
// address when it is empty.
func DecodedAddress(value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}
