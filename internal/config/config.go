// Package config handles loading and managing tagmail configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the tagmail configuration.
type Config struct {
	Data    DataConfig   `toml:"data"`
	Server  ServerConfig `toml:"server"`
	SMTP    SMTPConfig   `toml:"smtp"`
	Remote  RemoteConfig `toml:"remote"`
	Import  ImportConfig `toml:"import"`
	List    ListConfig   `toml:"list"`
	Sources []Source     `toml:"sources"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort         int      `toml:"api_port"`         // HTTP server port (default: 8080)
	BindAddr        string   `toml:"bind_addr"`        // Listen address (default: 127.0.0.1)
	APIKey          string   `toml:"api_key"`          // API authentication key
	AllowInsecure   bool     `toml:"allow_insecure"`   // Permit non-loopback binds without a key
	CORSOrigins     []string `toml:"cors_origins"`     // Allowed CORS origins; empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"` // Send Access-Control-Allow-Credentials
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds
}

// ValidateSecure refuses to expose an unauthenticated API beyond loopback.
func (s ServerConfig) ValidateSecure() error {
	if s.APIKey != "" || s.AllowInsecure || isLoopback(s.BindAddr) {
		return nil
	}
	return fmt.Errorf("refusing to bind %s without [server] api_key (set allow_insecure = true to override)", s.BindAddr)
}

func isLoopback(addr string) bool {
	if addr == "" || strings.EqualFold(addr, "localhost") {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"` // Default From address for drafts without one
}

// Enabled reports whether a relay is configured.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

// RemoteConfig points CLI commands at a running tagmail serve instead of
// the local database.
type RemoteConfig struct {
	URL           string `toml:"url"`            // e.g. "http://127.0.0.1:8080"
	APIKey        string `toml:"api_key"`        // Sent as X-API-Key
	AllowInsecure bool   `toml:"allow_insecure"` // Permit plain HTTP to non-loopback hosts
}

// ImportConfig holds import defaults.
type ImportConfig struct {
	// InitialTags are applied to newly imported messages. Nil means the
	// importer default; an explicit empty list applies none.
	InitialTags []string `toml:"initial_tags"`
}

// ListConfig holds listing defaults shared by the CLI, API, and MCP tools.
type ListConfig struct {
	DefaultLimit int `toml:"default_limit"`
}

// Source is a mail location that can be imported on a schedule.
type Source struct {
	Name     string `toml:"name"`     // Unique source name
	Path     string `toml:"path"`     // mbox, zip, .eml, or directory
	Schedule string `toml:"schedule"` // Cron expression (e.g., "*/15 * * * *")
	Enabled  bool   `toml:"enabled"`  // Whether scheduled import is active
}

// DefaultHome returns the default tagmail home directory.
// Respects TAGMAIL_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("TAGMAIL_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tagmail"
	}
	return filepath.Join(home, ".tagmail")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.tagmail/config.toml).
// A .env file in the home directory or the working directory is loaded
// first; variables already set in the environment win.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	loadDotEnv(filepath.Join(homeDir, ".env"), ".env")

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Server: ServerConfig{
			APIPort:  8080,
			BindAddr: "127.0.0.1",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		List: ListConfig{
			DefaultLimit: 25,
		},
		Sources: []Source{},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	applyEnv(cfg)

	// Expand ~ in paths
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	for i := range cfg.Sources {
		cfg.Sources[i].Path = expandPath(cfg.Sources[i].Path)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// applyEnv lets SMTP credentials live outside config.toml.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.SMTP.Password = v
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("config: source with path %q has no name", src.Path)
		}
		if seen[src.Name] {
			return fmt.Errorf("config: duplicate source %q", src.Name)
		}
		seen[src.Name] = true
		if src.Path == "" {
			return fmt.Errorf("config: source %q has no path", src.Name)
		}
	}
	if c.List.DefaultLimit < 0 {
		return fmt.Errorf("config: list.default_limit must not be negative")
	}
	return nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "tagmail.db")
}

// AttachmentsDir returns the path to the attachments directory.
func (c *Config) AttachmentsDir() string {
	return filepath.Join(c.Data.DataDir, "attachments")
}

// ScheduledSources returns sources with scheduling enabled.
func (c *Config) ScheduledSources() []Source {
	var scheduled []Source
	for _, src := range c.Sources {
		if src.Enabled && src.Schedule != "" {
			scheduled = append(scheduled, src)
		}
	}
	return scheduled
}

// GetSource returns the source with the given name, or nil.
func (c *Config) GetSource(name string) *Source {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i]
		}
	}
	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
