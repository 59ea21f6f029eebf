// Package config holds sqlrestore runtime configuration, built from
// environment variables and overridden by CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultPort = 1433

// Config holds all configuration options
type Config struct {
	// Connection settings
	Host     string
	Port     int
	Instance string // named instance; overrides Port when set
	User     string
	Password string
	Database string // initial catalog for the control connection

	// TLS settings
	Encrypt         string // disable, false, true, strict
	TrustServerCert bool

	// Connection behavior
	AppName           string
	ConnectTimeoutSec int
	DialRetries       int

	// Restore catalog
	CatalogPath string
	NoCatalog   bool

	// Script output
	ScriptDir string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
	NoColor   bool
	Debug     bool
	Quiet     bool

	// Version information (set from main)
	Version   string
	BuildTime string
	GitCommit string
}

// New creates configuration from environment variables with sensible defaults
func New() *Config {
	return &Config{
		Host:     getEnvString("MSSQL_HOST", "localhost"),
		Port:     getEnvInt("MSSQL_PORT", defaultPort),
		Instance: getEnvString("MSSQL_INSTANCE", ""),
		User:     getEnvString("MSSQL_USER", "sa"),
		Password: getEnvString("MSSQL_PASSWORD", ""),
		Database: getEnvString("MSSQL_DATABASE", "master"),

		Encrypt:         getEnvString("MSSQL_ENCRYPT", "false"),
		TrustServerCert: getEnvBool("MSSQL_TRUST_CERT", true),

		AppName:           getEnvString("MSSQL_APP_NAME", "sqlrestore"),
		ConnectTimeoutSec: getEnvInt("MSSQL_CONNECT_TIMEOUT", 30),
		DialRetries:       getEnvInt("MSSQL_DIAL_RETRIES", 3),

		CatalogPath: getEnvString("CATALOG_PATH", defaultCatalogPath()),
		NoCatalog:   getEnvBool("NO_CATALOG", false),

		ScriptDir: getEnvString("SCRIPT_DIR", ""),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "text"),
		LogFile:   getEnvString("LOG_FILE", ""),
		NoColor:   getEnvBool("NO_COLOR", false),
		Debug:     getEnvBool("DEBUG", false),
	}
}

// UpdateFromEnvironment refreshes credentials that may have been exported
// after the config was built (sqlcmd convention honored as a fallback).
func (c *Config) UpdateFromEnvironment() {
	if password := os.Getenv("MSSQL_PASSWORD"); password != "" {
		c.Password = password
	}
	if password := os.Getenv("SQLCMDPASSWORD"); password != "" && c.Password == "" {
		c.Password = password
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ConfigError{Field: "host", Value: c.Host, Message: "must not be empty"}
	}

	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "port", Value: strconv.Itoa(c.Port), Message: "must be between 1 and 65535"}
	}

	switch strings.ToLower(c.Encrypt) {
	case "disable", "false", "true", "strict":
	default:
		return &ConfigError{Field: "encrypt", Value: c.Encrypt, Message: "must be one of disable, false, true, strict"}
	}

	if c.ConnectTimeoutSec < 1 {
		return &ConfigError{Field: "connect-timeout", Value: strconv.Itoa(c.ConnectTimeoutSec), Message: "must be at least 1 second"}
	}

	if c.DialRetries < 0 {
		return &ConfigError{Field: "dial-retries", Value: strconv.Itoa(c.DialRetries), Message: "must not be negative"}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "log-level", Value: c.LogLevel, Message: "must be one of debug, info, warn, error"}
	}

	return nil
}

// ServerAddr returns the host:port (or host\instance) the tool connects to
func (c *Config) ServerAddr() string {
	if c.Instance != "" {
		return c.Host + `\` + c.Instance
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EffectiveLogLevel promotes the level to debug when the Debug flag is set
func (c *Config) EffectiveLogLevel() string {
	if c.Debug && c.LogLevel != "debug" {
		return "debug"
	}
	return c.LogLevel
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "' with value '" + e.Value + "': " + e.Message
}

func defaultCatalogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sqlrestore", "catalog.db")
	}
	return filepath.Join(home, ".sqlrestore", "catalog.db")
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
