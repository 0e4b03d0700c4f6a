package sealcap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a collector deployment. Values
// come from defaults, then an optional YAML file, then SEALCAP_*
// environment variables, in that order.
type Config struct {
	Server  ServerSection  `yaml:"server"`
	Storage StorageSection `yaml:"storage"`
	Ingest  IngestSection  `yaml:"ingest"`
}

// ServerSection configures the collector's HTTP endpoint.
type ServerSection struct {
	Addr        string `yaml:"addr" env:"SEALCAP_ADDR"`
	TLSCertFile string `yaml:"tls_cert_file" env:"SEALCAP_TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"SEALCAP_TLS_KEY_FILE"`
}

// StorageSection configures where captured entries are persisted.
type StorageSection struct {
	// Backend is "file" or "sqlite".
	Backend string `yaml:"backend" env:"SEALCAP_STORAGE_BACKEND"`
	DataDir string `yaml:"data_dir" env:"SEALCAP_DATA_DIR"`
}

// IngestSection configures ingest behavior.
type IngestSection struct {
	VerifyOnIngest bool `yaml:"verify_on_ingest" env:"SEALCAP_VERIFY_ON_INGEST"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Server:  ServerSection{Addr: ":8443"},
		Storage: StorageSection{Backend: "file", DataDir: "data"},
		Ingest:  IngestSection{VerifyOnIngest: true},
	}
}

// LoadConfig builds a configuration from defaults, the YAML file at
// path (skipped when path is empty), and environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Verify(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Verify checks the configuration for consistency.
func (c Config) Verify() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	return nil
}

// StoreOpener returns the opener matching the configured backend. Each
// device gets its own store under the data directory.
func (c Config) StoreOpener() StoreOpener {
	switch c.Storage.Backend {
	case "sqlite":
		return func(deviceID string) (Store, error) {
			if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
			return OpenSQLiteStore(filepath.Join(c.Storage.DataDir, deviceID+".db"))
		}
	default:
		return func(deviceID string) (Store, error) {
			return OpenFileStore(filepath.Join(c.Storage.DataDir, deviceID))
		}
	}
}
