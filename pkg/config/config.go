// Package config resolves the vault location and field encryption
// secret from the environment and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file name inside the vault directory.
const FileName = "config.yaml"

// Environment variables. Both override the config file.
const (
	EnvVaultDir = "KEYHAVEN_VAULT_DIR"
	EnvSecret   = "KEYHAVEN_SECRET"
)

// defaultSecret is the development fallback used when neither the
// environment nor the config file supplies a secret. Ciphertext written
// under it is readable by anyone with the binary, so real deployments
// must set their own.
const defaultSecret = "keyhaven-dev-secret"

// ErrConfigInsecure is returned when the config file permissions allow
// access beyond the owner.
var ErrConfigInsecure = errors.New("config: file has insecure permissions")

// Config holds the resolved runtime settings.
type Config struct {
	VaultDir         string `yaml:"vault_dir"`
	EncryptionSecret string `yaml:"encryption_secret"`
}

// DefaultDir returns ~/.keyhaven.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".keyhaven"), nil
}

// Load resolves the effective configuration. Precedence per field:
// environment variable, then the config file in the vault directory,
// then the built-in default.
func Load() (*Config, error) {
	dir := os.Getenv(EnvVaultDir)
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{VaultDir: dir}

	fileCfg, err := loadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	if fileCfg != nil {
		if fileCfg.VaultDir != "" && os.Getenv(EnvVaultDir) == "" {
			cfg.VaultDir = fileCfg.VaultDir
		}
		cfg.EncryptionSecret = fileCfg.EncryptionSecret
	}

	if secret := os.Getenv(EnvSecret); secret != "" {
		cfg.EncryptionSecret = secret
	}
	if cfg.EncryptionSecret == "" {
		cfg.EncryptionSecret = defaultSecret
	}

	return cfg, nil
}

// loadFile parses the config file if present. The file may carry the
// encryption secret, so group or world access is rejected.
func loadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s is %o (expected 0600)", ErrConfigInsecure, path, perm)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the config file into the vault directory with owner-only
// permissions.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.VaultDir, 0700); err != nil {
		return fmt.Errorf("config: failed to create vault directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to encode config: %w", err)
	}
	path := filepath.Join(c.VaultDir, FileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}

// UsingDefaultSecret reports whether the dev fallback secret is active.
func (c *Config) UsingDefaultSecret() bool {
	return c.EncryptionSecret == defaultSecret
}
