// Package config loads the directory service configuration from defaults, a
// YAML file, a .env file and KOLUMN_DIRECTORY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/schemabounce/kolumn/directory/connmgr"
	"github.com/schemabounce/kolumn/directory/helpers/validation"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/sqlrunner"
	"github.com/schemabounce/kolumn/directory/runtimehelpers/telemetry"
)

// FileName is the config file looked up in the working directory.
const FileName = "kolumn-directory.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KOLUMN_DIRECTORY"

// Config is the complete service configuration.
type Config struct {
	// Server is a single-server shorthand used when Servers is empty.
	Server    ServerConfig    `mapstructure:"server"`
	Servers   []ServerConfig  `mapstructure:"servers"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds the connection settings of one server.
type ServerConfig struct {
	ID            int    `mapstructure:"id"`
	URL           string `mapstructure:"url"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	SSLMode       string `mapstructure:"sslmode"`
	MaintenanceDB string `mapstructure:"maintenance_db"`
}

// TemplatesConfig pins the server version templates are resolved for.
type TemplatesConfig struct {
	Version int `mapstructure:"version"`
}

// RunnerConfig tunes query execution.
type RunnerConfig struct {
	MaxOpenConns int         `mapstructure:"max_open_conns"`
	Retry        RetryConfig `mapstructure:"retry"`
}

// RetryConfig mirrors sqlrunner.RetryPolicy.
type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// LogConfig configures the telemetry logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load reads configuration with the precedence env > file > defaults. A
// .env file next to the config is loaded into the environment first. The
// returned path is the config file used, empty when none was found.
func Load(explicitPath string) (*Config, string, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, path, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.id", 1)
	v.SetDefault("server.url", "")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 5432)
	v.SetDefault("server.user", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.sslmode", "prefer")
	v.SetDefault("server.maintenance_db", "postgres")

	v.SetDefault("templates.version", 0)

	v.SetDefault("runner.max_open_conns", 1)
	v.SetDefault("runner.retry.attempts", 3)
	v.SetDefault("runner.retry.base_delay", 50*time.Millisecond)
	v.SetDefault("runner.retry.max_delay", 500*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}
	for _, name := range []string{FileName, "kolumn-directory.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

// ResolvedServers returns the configured servers, or the single-server
// shorthand when no list is given.
func (c *Config) ResolvedServers() []ServerConfig {
	if len(c.Servers) > 0 {
		out := make([]ServerConfig, len(c.Servers))
		for i, s := range c.Servers {
			if s.Port == 0 {
				s.Port = 5432
			}
			if s.MaintenanceDB == "" {
				s.MaintenanceDB = "postgres"
			}
			out[i] = s
		}
		return out
	}
	if c.Server.URL == "" && c.Server.Host == "" {
		return nil
	}
	return []ServerConfig{c.Server}
}

// Lookup returns the server with id.
func (c *Config) Lookup(id int) (ServerConfig, error) {
	for _, s := range c.ResolvedServers() {
		if s.ID == id {
			return s, nil
		}
	}
	return ServerConfig{}, fmt.Errorf("server %d is not configured", id)
}

// Validate checks the values Load cannot type-check.
func (c *Config) Validate() error {
	values := map[string]interface{}{
		"log.level":             c.Log.Level,
		"runner.retry.attempts": c.Runner.Retry.Attempts,
	}
	rules := map[string]validation.ValidationFunc{
		"log.level":             validation.IsInList([]string{"debug", "info", "warn", "error"}),
		"runner.retry.attempts": validation.InRange(0, 10),
	}

	seen := map[int]bool{}
	var errs []error
	for i, s := range c.ResolvedServers() {
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("servers[%d]: duplicate id %d", i, s.ID))
		}
		seen[s.ID] = true
		if s.URL != "" {
			continue
		}
		prefix := "servers[" + strconv.Itoa(i) + "]"
		values[prefix+".host"] = s.Host
		values[prefix+".port"] = s.Port
		rules[prefix+".host"] = validation.Compose(validation.NotEmpty(), validation.IsValidHostname())
		rules[prefix+".port"] = validation.IsValidPort()
	}

	if err := validation.ValidateConfig(values, rules); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DSN returns the connection URL of database on the server. An empty
// database selects the maintenance database.
func (s ServerConfig) DSN(database string) (string, error) {
	if database == "" {
		database = s.MaintenanceDB
	}

	if s.URL != "" {
		u, err := url.Parse(s.URL)
		if err != nil {
			return "", fmt.Errorf("parsing server url: %w", err)
		}
		if database != "" {
			u.Path = "/" + database
		}
		return u.String(), nil
	}

	if s.Host == "" {
		return "", fmt.Errorf("server.host is required when server.url is not set")
	}
	if s.User == "" {
		return "", fmt.Errorf("server.user is required when server.url is not set")
	}

	port := s.Port
	if port == 0 {
		port = 5432
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", s.Host, port),
		Path:   "/" + database,
	}
	if s.Password != "" {
		u.User = url.UserPassword(s.User, s.Password)
	} else {
		u.User = url.User(s.User)
	}
	if s.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", s.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ConnServer converts the settings into a connection manager server.
func (s ServerConfig) ConnServer() (connmgr.Server, error) {
	dsn, err := s.DSN("")
	if err != nil {
		return connmgr.Server{}, err
	}
	return connmgr.Server{ID: s.ID, DSN: dsn, MaintenanceDB: s.MaintenanceDB}, nil
}

// RetryPolicy returns the runner retry policy.
func (r RunnerConfig) RetryPolicy() sqlrunner.RetryPolicy {
	return sqlrunner.RetryPolicy{
		Attempts:  r.Retry.Attempts,
		BaseDelay: r.Retry.BaseDelay,
		MaxDelay:  r.Retry.MaxDelay,
	}
}

// TelemetryOptions returns the logger options.
func (l LogConfig) TelemetryOptions() telemetry.Options {
	return telemetry.Options{Level: telemetry.Level(strings.ToLower(l.Level)), JSON: l.JSON}
}

// NewManager builds a connection manager over every configured server.
func (c *Config) NewManager(logger telemetry.Logger) (*connmgr.Manager, error) {
	m := connmgr.NewManager(connmgr.Options{Retry: c.Runner.RetryPolicy(), Logger: logger})
	for _, s := range c.ResolvedServers() {
		server, err := s.ConnServer()
		if err != nil {
			return nil, fmt.Errorf("server %d: %w", s.ID, err)
		}
		if err := m.AddServer(server); err != nil {
			return nil, err
		}
	}
	return m, nil
}
