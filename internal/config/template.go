package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type fileLayout struct {
	DataDir string        `toml:"data_dir"`
	Local   localLayout   `toml:"local"`
	Remote  remoteLayout  `toml:"remote"`
	Session sessionLayout `toml:"session"`
	Sync    syncLayout    `toml:"sync"`
	Status  statusLayout  `toml:"status"`
	Log     logLayout     `toml:"log"`
	Hub     hubLayout     `toml:"hub"`
}

type localLayout struct {
	QuotaBytes int64 `toml:"quota_bytes"`
}

type remoteLayout struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

type sessionLayout struct {
	UserID         string `toml:"user_id"`
	OrganizationID string `toml:"organization_id"`
	AccessToken    string `toml:"access_token"`
}

type syncLayout struct {
	Interval        string `toml:"interval"`
	SuccessHold     string `toml:"success_hold"`
	ErrorHold       string `toml:"error_hold"`
	MaxAuthFailures int    `toml:"max_auth_failures"`
}

type statusLayout struct {
	ProbeInterval string `toml:"probe_interval"`
}

type logLayout struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type hubLayout struct {
	Addr           string   `toml:"addr"`
	DB             string   `toml:"db"`
	APIKey         string   `toml:"api_key"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Tokens         []string `toml:"tokens,omitempty"`
}

func layoutOf(c *Config) fileLayout {
	return fileLayout{
		DataDir: c.DataDir,
		Local:   localLayout{QuotaBytes: c.Local.QuotaBytes},
		Remote:  remoteLayout{URL: c.Remote.URL, APIKey: c.Remote.APIKey},
		Session: sessionLayout{
			UserID:         c.Session.UserID,
			OrganizationID: c.Session.OrganizationID,
			AccessToken:    c.Session.AccessToken,
		},
		Sync: syncLayout{
			Interval:        c.Sync.Interval.String(),
			SuccessHold:     c.Sync.SuccessHold.String(),
			ErrorHold:       c.Sync.ErrorHold.String(),
			MaxAuthFailures: c.Sync.MaxAuthFailures,
		},
		Status: statusLayout{ProbeInterval: c.Status.ProbeInterval.String()},
		Log:    logLayout{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File},
		Hub: hubLayout{
			Addr:           c.Hub.Addr,
			DB:             c.Hub.DB,
			APIKey:         c.Hub.APIKey,
			AllowedOrigins: c.Hub.AllowedOrigins,
			Tokens:         c.Hub.Tokens,
		},
	}
}

// WriteTemplate writes c as a TOML config file.
func WriteTemplate(w io.Writer, c *Config) error {
	if _, err := io.WriteString(w, "# zinc configuration. Every key can be overridden with ZINC_<SECTION>_<KEY>.\n\n"); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(w).Encode(layoutOf(c)); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Init writes the default configuration to path unless it exists.
func Init(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("config file %s already exists", path)
	}

	cfg := Defaults()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := WriteTemplate(f, cfg); err != nil {
		return nil, err
	}
	cfg.File = path
	return cfg, nil
}
