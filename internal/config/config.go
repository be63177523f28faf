// Package config provides configuration loading and validation for the sync daemon.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirchentech/ct-salto-sync/internal/telemetry"
)

// EnvPrefix is the prefix for all environment variables read by the daemon.
const EnvPrefix = "CTSALTO"

// Booking status ids as ChurchTools defines them.
const (
	// BookingStatusPending is a booking request that has not been approved yet.
	BookingStatusPending = 1
	// BookingStatusApproved is an approved booking.
	BookingStatusApproved = 2
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// LogLevel sets the minimum log level (debug, info, warn, error).
	// Defaults to "info" if not specified.
	LogLevel string `yaml:"logLevel,omitempty"`

	ChurchTools ChurchToolsConfig `yaml:"churchtools"`
	Salto       SaltoConfig       `yaml:"salto"`
	Database    *DatabaseConfig   `yaml:"database"`
	Sync        SyncConfig        `yaml:"sync"`
	Rooms       []RoomConfig      `yaml:"rooms"`

	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ChurchToolsConfig defines the connection to the ChurchTools instance.
type ChurchToolsConfig struct {
	// Host is the ChurchTools hostname. A scheme is optional; https is
	// assumed when none is given.
	Host string `yaml:"host"`

	// LoginToken is the static API login token. Prefer LoginTokenFile or the
	// CTSALTO_CT_LOGIN_TOKEN environment variable in production.
	LoginToken string `yaml:"loginToken,omitempty"`

	// LoginTokenFile is the path to a file containing the login token.
	LoginTokenFile string `yaml:"loginTokenFile,omitempty"`

	// GroupMagicPrefix marks group-grant tokens inside a booking note:
	// any whitespace-separated "<prefix><group-id>" grants access to all
	// members of that group.
	GroupMagicPrefix string `yaml:"groupMagicPrefix"`

	// BookingStatusIDs are the booking statuses that grant access.
	// Defaults to pending and approved. Including pending is a deliberate,
	// accepted trade-off: a booking request grants access before approval.
	// Narrow this to [2] to require approval.
	BookingStatusIDs []int `yaml:"bookingStatusIDs,omitempty"`
}

// BaseURL returns the ChurchTools base URL, defaulting the scheme to https.
func (c *ChurchToolsConfig) BaseURL() string {
	if strings.Contains(c.Host, "://") {
		return strings.TrimSuffix(c.Host, "/")
	}
	return "https://" + strings.TrimSuffix(c.Host, "/")
}

// GetLoginToken returns the login token using the following priority:
// 1. Read from LoginTokenFile if specified
// 2. Read from CTSALTO_CT_LOGIN_TOKEN environment variable
// 3. The inline LoginToken value
func (c *ChurchToolsConfig) GetLoginToken() (string, error) {
	return resolveSecret(c.LoginTokenFile, EnvPrefix+"_CT_LOGIN_TOKEN", c.LoginToken, "ChurchTools login token")
}

// StatusIDs returns the booking status filter, applying the default.
func (c *ChurchToolsConfig) StatusIDs() []int {
	if len(c.BookingStatusIDs) == 0 {
		return []int{BookingStatusPending, BookingStatusApproved}
	}
	return c.BookingStatusIDs
}

// SaltoConfig defines the connection to the Salto installation.
type SaltoConfig struct {
	// BaseURL is the Salto web service base URL, including scheme and port.
	BaseURL string `yaml:"baseUrl"`

	// Username is the Salto account used for the directory enumeration.
	Username string `yaml:"username"`

	// Password is the account password. Prefer PasswordFile or the
	// CTSALTO_SALTO_PASSWORD environment variable in production.
	Password string `yaml:"password,omitempty"`

	// PasswordFile is the path to a file containing the password.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// InsecureSkipVerify disables TLS certificate verification. Salto
	// appliances commonly serve self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify,omitempty"`
}

// GetPassword returns the Salto password using file, environment, inline priority.
func (s *SaltoConfig) GetPassword() (string, error) {
	return resolveSecret(s.PasswordFile, EnvPrefix+"_SALTO_PASSWORD", s.Password, "Salto password")
}

// DatabaseConfig defines database connection settings for the staging database.
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// This is the recommended approach for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Password is the inline database password. Prefer PasswordFile.
	Password string `yaml:"password,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of connections in the pool
	MaxConns int32 `yaml:"maxConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using file, environment, inline priority.
func (d *DatabaseConfig) GetPassword() (string, error) {
	return resolveSecret(d.PasswordFile, EnvPrefix+"_DATABASE_PASSWORD", d.Password, "database password")
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// SyncConfig defines the timing behavior of the sync loop.
type SyncConfig struct {
	// Frequency is the interval between sync cycles (e.g., "60s", "5m").
	Frequency string `yaml:"frequency"`

	// PreholdTime is the grace period before a booking's start during which
	// access is already granted.
	PreholdTime string `yaml:"preholdTime,omitempty"`

	// PostholdTime is the grace period after a booking's end during which
	// access is still granted.
	PostholdTime string `yaml:"postholdTime,omitempty"`

	// Timezone is the IANA zone name Salto interprets bare timestamps in.
	// Defaults to the process-local zone.
	Timezone string `yaml:"timezone,omitempty"`
}

// FrequencyDuration returns the parsed sync frequency. The value is validated
// at load time, so a parse failure here falls back to one minute.
func (s *SyncConfig) FrequencyDuration() time.Duration {
	return parseDurationOr(s.Frequency, time.Minute)
}

// Prehold returns the parsed prehold grace period.
func (s *SyncConfig) Prehold() time.Duration {
	return parseDurationOr(s.PreholdTime, 0)
}

// Posthold returns the parsed posthold grace period.
func (s *SyncConfig) Posthold() time.Duration {
	return parseDurationOr(s.PostholdTime, 0)
}

// Location returns the timezone Salto timestamps are rendered in.
func (s *SyncConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// RoomConfig maps a ChurchTools resource to a Salto access zone.
type RoomConfig struct {
	// ChurchToolsID is the resource id in ChurchTools.
	ChurchToolsID int64 `yaml:"churchtoolsId"`

	// SaltoZone is the access zone identifier in Salto.
	SaltoZone string `yaml:"saltoZone"`
}

// RoomZones returns the resource-id to zone mapping as a lookup table.
func (c *Config) RoomZones() map[int64]string {
	zones := make(map[int64]string, len(c.Rooms))
	for _, room := range c.Rooms {
		zones[room.ChurchToolsID] = room.SaltoZone
	}
	return zones
}

// ResourceIDs returns the configured ChurchTools resource ids.
func (c *Config) ResourceIDs() []int64 {
	ids := make([]int64, 0, len(c.Rooms))
	for _, room := range c.Rooms {
		ids = append(ids, room.ChurchToolsID)
	}
	return ids
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.ChurchTools.Host == "" {
		return fmt.Errorf("churchtools.host is required")
	}
	if c.ChurchTools.GroupMagicPrefix == "" {
		return fmt.Errorf("churchtools.groupMagicPrefix is required")
	}
	if c.ChurchTools.LoginToken == "" && c.ChurchTools.LoginTokenFile == "" &&
		os.Getenv(EnvPrefix+"_CT_LOGIN_TOKEN") == "" {
		return fmt.Errorf("churchtools: loginToken, loginTokenFile or %s_CT_LOGIN_TOKEN is required", EnvPrefix)
	}

	if c.Salto.BaseURL == "" {
		return fmt.Errorf("salto.baseUrl is required")
	}
	if c.Salto.Username == "" {
		return fmt.Errorf("salto.username is required")
	}
	if c.Salto.Password == "" && c.Salto.PasswordFile == "" &&
		os.Getenv(EnvPrefix+"_SALTO_PASSWORD") == "" {
		return fmt.Errorf("salto: password, passwordFile or %s_SALTO_PASSWORD is required", EnvPrefix)
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if c.Database.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
			return fmt.Errorf("database.connMaxLifetime must be a valid duration: %w", err)
		}
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	return c.validateRooms()
}

func (c *Config) validateSync() error {
	if c.Sync.Frequency == "" {
		return fmt.Errorf("sync.frequency is required")
	}
	freq, err := time.ParseDuration(c.Sync.Frequency)
	if err != nil {
		return fmt.Errorf("sync.frequency must be a valid duration (e.g., '60s', '5m'): %w", err)
	}
	if freq <= 0 {
		return fmt.Errorf("sync.frequency must be positive, got %s", freq)
	}

	for name, value := range map[string]string{
		"sync.preholdTime":  c.Sync.PreholdTime,
		"sync.postholdTime": c.Sync.PostholdTime,
	} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}

	if _, err := c.Sync.Location(); err != nil {
		return fmt.Errorf("sync.timezone: %w", err)
	}

	return nil
}

func (c *Config) validateRooms() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("at least one room must be configured")
	}

	seen := make(map[int64]bool, len(c.Rooms))
	for i, room := range c.Rooms {
		if room.ChurchToolsID == 0 {
			return fmt.Errorf("rooms[%d]: churchtoolsId is required", i)
		}
		if room.SaltoZone == "" {
			return fmt.Errorf("rooms[%d]: saltoZone is required", i)
		}
		if seen[room.ChurchToolsID] {
			return fmt.Errorf("rooms[%d]: duplicate churchtoolsId %d", i, room.ChurchToolsID)
		}
		seen[room.ChurchToolsID] = true
	}

	return nil
}

// resolveSecret returns a secret value using file, environment, inline priority.
// Secrets read from a file have leading/trailing whitespace trimmed.
func resolveSecret(file, envVar, inline, what string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", fmt.Errorf("failed to read %s from file %s: %w", what, file, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if value := os.Getenv(envVar); value != "" {
		return value, nil
	}

	if inline != "" {
		return inline, nil
	}

	return "", fmt.Errorf("no %s configured", what)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
