// Package config provides Viper-based configuration loading for the gacha server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// HTTPHost is the bind address of the JSON API.
	HTTPHost string `mapstructure:"http_host"`
	HTTPPort int    `mapstructure:"http_port"`
	// GRPCPort serves the health service; 0 disables it.
	GRPCPort int `mapstructure:"grpc_port"`
	// ShutdownTimeout bounds graceful shutdown of the listeners.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPAddr returns the "host:port" HTTP listen address.
func (s ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.HTTPHost, s.HTTPPort)
}

// GRPCAddr returns the "host:port" gRPC listen address.
func (s ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.HTTPHost, s.GRPCPort)
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects where inventories and pity counters live.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ContentConfig locates the balance and catalog content.
type ContentConfig struct {
	RulesetFile string `mapstructure:"ruleset_file"`
	ItemsDir    string `mapstructure:"items_dir"`
	// ScriptDir holds Lua curve scripts; empty disables scripting.
	ScriptDir string `mapstructure:"script_dir"`
}

// EngineConfig tunes the engines.
type EngineConfig struct {
	// Seed makes pulls reproducible; 0 uses crypto randomness.
	Seed uint64 `mapstructure:"seed"`
	// AutoFuseMaxIterations overrides the ruleset cap when > 0.
	AutoFuseMaxIterations int `mapstructure:"auto_fuse_max_iterations"`
	// ScriptInstructionLimit bounds each Lua call; 0 uses the default.
	ScriptInstructionLimit int `mapstructure:"script_instruction_limit"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Content  ContentConfig  `mapstructure:"content"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateLogging(c.Logging),
		validateServer(c.Server),
		validateStorage(c.Storage),
		validateContent(c.Content),
		validateEngine(c.Engine),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.Storage.Driver == DriverPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateDatabase checks only the database section, for tools that always
// talk to PostgreSQL.
func (c Config) ValidateDatabase() error {
	return validateDatabase(c.Database)
}

func joined(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if !validPort(d.Port) {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joined(errs)
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.HTTPHost == "" {
		errs = append(errs, "server.http_host must not be empty")
	}
	if !validPort(s.HTTPPort) {
		errs = append(errs, fmt.Sprintf("server.http_port must be 1-65535, got %d", s.HTTPPort))
	}
	if s.GRPCPort != 0 && !validPort(s.GRPCPort) {
		errs = append(errs, fmt.Sprintf("server.grpc_port must be 0 or 1-65535, got %d", s.GRPCPort))
	}
	if s.GRPCPort != 0 && s.GRPCPort == s.HTTPPort {
		errs = append(errs, "server.grpc_port must differ from server.http_port")
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	return joined(errs)
}

func validateStorage(s StorageConfig) error {
	switch s.Driver {
	case DriverMemory, DriverPostgres:
		return nil
	case DriverSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must not be empty when storage.driver is %q", DriverSQLite)
		}
		return nil
	}
	return fmt.Errorf("storage.driver must be one of [memory, sqlite, postgres], got %q", s.Driver)
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.RulesetFile == "" {
		errs = append(errs, "content.ruleset_file must not be empty")
	}
	if c.ItemsDir == "" {
		errs = append(errs, "content.items_dir must not be empty")
	}
	return joined(errs)
}

func validateEngine(e EngineConfig) error {
	var errs []string
	if e.AutoFuseMaxIterations < 0 {
		errs = append(errs, fmt.Sprintf("engine.auto_fuse_max_iterations must be >= 0, got %d", e.AutoFuseMaxIterations))
	}
	if e.ScriptInstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("engine.script_instruction_limit must be >= 0, got %d", e.ScriptInstructionLimit))
	}
	return joined(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies GACHA_
// environment variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and GACHA_ env overrides
// applied but no config file read.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GACHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gacha")
	v.SetDefault("database.password", "gacha")
	v.SetDefault("database.name", "gacha")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("server.http_host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.sqlite_path", "gacha.db")

	v.SetDefault("content.ruleset_file", "content/ruleset.yaml")
	v.SetDefault("content.items_dir", "content/items")
	v.SetDefault("content.script_dir", "")

	v.SetDefault("engine.seed", 0)
	v.SetDefault("engine.auto_fuse_max_iterations", 0)
	v.SetDefault("engine.script_instruction_limit", 0)
}
