package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds node and relay configuration.
type Config struct {
	Node struct {
		Home      string `yaml:"home"`
		Addr      string `yaml:"addr"`
		Transport string `yaml:"transport"` // "socket" or "grpc"
	} `yaml:"node"`
	Admin struct {
		ID     string `yaml:"id"`
		PubKey string `yaml:"pub_key"` // base64 ed25519 pubkey
	} `yaml:"admin"`
	Callers []struct {
		ID     string `yaml:"id"`
		PubKey string `yaml:"pub_key"`
	} `yaml:"callers"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"` // empty disables the event log
	} `yaml:"database"`
	Relay struct {
		RPCAddr    string `yaml:"rpc_addr"`
		SweepCron  string `yaml:"sweep_cron"`
		SignerID   string `yaml:"signer_id"`
		SigningKey string `yaml:"signing_key"` // base64 ed25519 private key
	} `yaml:"relay"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("POTCHAIN_HOME"); v != "" {
		cfg.Node.Home = v
	}
	if v := os.Getenv("POTCHAIN_ADDR"); v != "" {
		cfg.Node.Addr = v
	}
	if v := os.Getenv("POTCHAIN_ADMIN_ID"); v != "" {
		cfg.Admin.ID = v
	}
	if v := os.Getenv("POTCHAIN_ADMIN_PUBKEY"); v != "" {
		cfg.Admin.PubKey = v
	}
	if v := os.Getenv("POTCHAIN_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("POTCHAIN_RPC_ADDR"); v != "" {
		cfg.Relay.RPCAddr = v
	}
	if v := os.Getenv("POTCHAIN_SIGNING_KEY"); v != "" {
		cfg.Relay.SigningKey = v
	}

	// Defaults
	if cfg.Node.Home == "" {
		cfg.Node.Home = "data"
	}
	if cfg.Node.Addr == "" {
		cfg.Node.Addr = "tcp://127.0.0.1:26658"
	}
	if cfg.Node.Transport == "" {
		cfg.Node.Transport = "socket"
	}
	if cfg.Relay.RPCAddr == "" {
		cfg.Relay.RPCAddr = "http://127.0.0.1:26657"
	}
	if cfg.Relay.SweepCron == "" {
		cfg.Relay.SweepCron = "*/30 * * * * *"
	}

	return cfg, nil
}

// Validate checks that all required node fields are set.
func (c *Config) Validate() error {
	if c.Admin.ID == "" {
		return fmt.Errorf("admin.id is required")
	}
	if _, err := c.AdminPubKey(); err != nil {
		return err
	}
	if c.Node.Transport != "socket" && c.Node.Transport != "grpc" {
		return fmt.Errorf("node.transport must be socket or grpc, got %q", c.Node.Transport)
	}
	return nil
}

// AdminPubKey decodes the admin's base64 ed25519 public key.
func (c *Config) AdminPubKey() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(c.Admin.PubKey)
	if err != nil {
		return nil, fmt.Errorf("admin.pub_key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("admin.pub_key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}

// CallerPubKeys decodes the genesis allow-list.
func (c *Config) CallerPubKeys() (map[string][]byte, error) {
	out := make(map[string][]byte, len(c.Callers))
	for _, entry := range c.Callers {
		b, err := base64.StdEncoding.DecodeString(entry.PubKey)
		if err != nil {
			return nil, fmt.Errorf("callers[%s].pub_key: %w", entry.ID, err)
		}
		if len(b) != 32 {
			return nil, fmt.Errorf("callers[%s].pub_key must be 32 bytes, got %d", entry.ID, len(b))
		}
		out[entry.ID] = b
	}
	return out, nil
}
