// Package config loads zinc configuration from a file and ZINC_*
// environment variables.
//
// Priority (highest to lowest):
//  1. Environment variables with the ZINC_ prefix (e.g. ZINC_REMOTE_URL)
//  2. The config file (zinc.toml or zinc.yaml)
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DataDir string `validate:"required"`
	Local   LocalConfig
	Remote  RemoteConfig
	Session SessionConfig
	Sync    SyncConfig
	Status  StatusConfig
	Log     LogConfig
	Hub     HubConfig

	// File is the config file that was read, empty if none.
	File string `validate:"-"`
}

// LocalConfig holds local store settings
type LocalConfig struct {
	QuotaBytes int64 `validate:"gte=0"` // 0 disables the quota
}

// RemoteConfig locates the remote contacts table
type RemoteConfig struct {
	URL    string `validate:"omitempty,url"`
	APIKey string
}

// SessionConfig is the signed-in identity. All three fields must be set
// for remote mode.
type SessionConfig struct {
	UserID         string
	OrganizationID string
	AccessToken    string
}

// SyncConfig holds scheduler settings
type SyncConfig struct {
	Interval        time.Duration `validate:"gt=0"`
	SuccessHold     time.Duration `validate:"gt=0"`
	ErrorHold       time.Duration `validate:"gt=0"`
	MaxAuthFailures int           `validate:"gte=1"`
}

// StatusConfig holds connectivity probe settings
type StatusConfig struct {
	ProbeInterval time.Duration `validate:"gt=0"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn warning error"`
	Format string `validate:"oneof=console json"`
	File   string // empty logs to stderr
}

// HubConfig holds settings for the self-hosted backend
type HubConfig struct {
	Addr           string `validate:"required"`
	DB             string
	APIKey         string
	AllowedOrigins []string

	// Tokens lists "user_id=token" pairs. The hub attributes requests
	// bearing token to user_id; when empty the token is the user id.
	Tokens []string `validate:"dive,required"`
}

const envPrefix = "ZINC"

// Dir returns the directory searched for zinc.toml.
func Dir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "zinc")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "zinc")
	}
	return ".zinc"
}

// DefaultDataDir returns where local data lives when data_dir is unset.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "zinc")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "zinc")
	}
	return ".zinc"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("local.quota_bytes", 5*1024*1024)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("session.user_id", "")
	v.SetDefault("session.organization_id", "")
	v.SetDefault("session.access_token", "")
	v.SetDefault("sync.interval", 2*time.Minute)
	v.SetDefault("sync.success_hold", 2*time.Second)
	v.SetDefault("sync.error_hold", 3*time.Second)
	v.SetDefault("sync.max_auth_failures", 3)
	v.SetDefault("status.probe_interval", 30*time.Second)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("hub.addr", ":8787")
	v.SetDefault("hub.db", "")
	v.SetDefault("hub.api_key", "")
	v.SetDefault("hub.allowed_origins", []string{"*"})
	v.SetDefault("hub.tokens", []string{})
}

// Load reads configuration. An explicit path must exist; otherwise zinc.*
// is searched in Dir() and the working directory, and its absence is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zinc")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration, ignoring files and the
// environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		DataDir: v.GetString("data_dir"),
		Local: LocalConfig{
			QuotaBytes: v.GetInt64("local.quota_bytes"),
		},
		Remote: RemoteConfig{
			URL:    strings.TrimRight(v.GetString("remote.url"), "/"),
			APIKey: v.GetString("remote.api_key"),
		},
		Session: SessionConfig{
			UserID:         v.GetString("session.user_id"),
			OrganizationID: v.GetString("session.organization_id"),
			AccessToken:    v.GetString("session.access_token"),
		},
		Sync: SyncConfig{
			Interval:        v.GetDuration("sync.interval"),
			SuccessHold:     v.GetDuration("sync.success_hold"),
			ErrorHold:       v.GetDuration("sync.error_hold"),
			MaxAuthFailures: v.GetInt("sync.max_auth_failures"),
		},
		Status: StatusConfig{
			ProbeInterval: v.GetDuration("status.probe_interval"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
			File:   v.GetString("log.file"),
		},
		Hub: HubConfig{
			Addr:           v.GetString("hub.addr"),
			DB:             v.GetString("hub.db"),
			APIKey:         v.GetString("hub.api_key"),
			AllowedOrigins: v.GetStringSlice("hub.allowed_origins"),
			Tokens:         nonEmpty(v.GetStringSlice("hub.tokens")),
		},
		File: v.ConfigFileUsed(),
	}
}

func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if _, terr := c.Hub.TokenMap(); terr != nil {
			return fmt.Errorf("invalid configuration: %w", terr)
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// TokenMap parses Tokens into the token to user id map the hub expects.
func (h HubConfig) TokenMap() (map[string]string, error) {
	if len(h.Tokens) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(h.Tokens))
	for _, pair := range h.Tokens {
		user, token, ok := strings.Cut(pair, "=")
		user, token = strings.TrimSpace(user), strings.TrimSpace(token)
		if !ok || user == "" || token == "" {
			return nil, fmt.Errorf("hub.tokens entry %q: want user_id=token", pair)
		}
		if prev, dup := out[token]; dup && prev != user {
			return nil, fmt.Errorf("hub.tokens: token for %s is also assigned to %s", user, prev)
		}
		out[token] = user
	}
	return out, nil
}

// LocalPath is the local store database file.
func (c *Config) LocalPath() string {
	return filepath.Join(c.DataDir, "local.db")
}

// HubPath is the hub database file.
func (c *Config) HubPath() string {
	if c.Hub.DB != "" {
		return c.Hub.DB
	}
	return filepath.Join(c.DataDir, "hub.db")
}

// RemoteEnabled reports whether a remote store and a complete session are
// configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.URL != "" && c.Remote.APIKey != "" &&
		c.Session.UserID != "" && c.Session.OrganizationID != "" && c.Session.AccessToken != ""
}
