package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sync service
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Local database configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Remote replay configuration
	Sync SyncConfig `mapstructure:"sync"`

	// Connectivity probing configuration
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`

	// Bearer token configuration
	Auth AuthConfig `mapstructure:"auth"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	// RateLimit is the request budget per caller and RatePeriod seconds.
	// Zero disables limiting.
	RateLimit  int `mapstructure:"rate_limit"`
	RatePeriod int `mapstructure:"rate_period"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the embedded database configuration
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	FileName    string `mapstructure:"file_name"`
	BusyTimeout int    `mapstructure:"busy_timeout"`
}

// Path returns the database file location
func (s StorageConfig) Path() string {
	return filepath.Join(s.DataDir, s.FileName)
}

// SyncConfig holds remote replay configuration
type SyncConfig struct {
	RemoteURL  string `mapstructure:"remote_url"`
	Timeout    int    `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
	AuthToken  string `mapstructure:"auth_token"`
}

// TimeoutDuration returns the remote call timeout
func (s SyncConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// ConnectivityConfig holds settings for detecting the network state
type ConnectivityConfig struct {
	ProbeURL      string `mapstructure:"probe_url"`
	ProbeInterval int    `mapstructure:"probe_interval"`
	ProbeTimeout  int    `mapstructure:"probe_timeout"`
	InitialOnline bool   `mapstructure:"initial_online"`
}

// AuthConfig holds JWT configuration
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
	// FailedThreshold is the failed entry count at which health turns degraded
	FailedThreshold int `mapstructure:"failed_threshold"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	return LoadFrom(".", "./config", "/etc/emr-sync")
}

// LoadFrom loads configuration searching the given directories for config.yaml
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("server.rate_limit", 600)
	v.SetDefault("server.rate_period", 60)

	// Storage defaults
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.file_name", "hospital-emr.db")
	v.SetDefault("storage.busy_timeout", 5000)

	// Sync defaults
	v.SetDefault("sync.timeout", 10)
	v.SetDefault("sync.max_retries", 3)

	// Connectivity defaults
	v.SetDefault("connectivity.probe_interval", 15)
	v.SetDefault("connectivity.probe_timeout", 3)
	v.SetDefault("connectivity.initial_online", true)

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.issuer", "hospital-emr")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.health_path", "/health")
	v.SetDefault("monitoring.failed_threshold", 1)

	v.SetDefault("log_level", "info")
}

func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.Auth.SecretKey = jwtSecret
	}

	if remote := os.Getenv("SYNC_REMOTE_URL"); remote != "" {
		config.Sync.RemoteURL = remote
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

func validate(config *Config) error {
	if config.Auth.Enabled && config.Auth.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required when auth is enabled")
	}

	if config.Storage.FileName == "" {
		return fmt.Errorf("storage file name is required")
	}

	if config.Sync.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", config.Sync.MaxRetries)
	}

	if config.Connectivity.ProbeURL != "" && config.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("invalid probe interval: %d", config.Connectivity.ProbeInterval)
	}

	if config.Server.RateLimit < 0 || (config.Server.RateLimit > 0 && config.Server.RatePeriod <= 0) {
		return fmt.Errorf("invalid rate limit: %d per %ds", config.Server.RateLimit, config.Server.RatePeriod)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	return nil
}
