package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Soroban   SorobanConfig   `mapstructure:"soroban"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Webhooks  WebhookConfig   `mapstructure:"webhooks"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Workers   WorkerConfig    `mapstructure:"workers"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// SorobanConfig contains ledger RPC connection configuration
type SorobanConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	NetworkPassphrase string        `mapstructure:"network_passphrase"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	RetentionDays    int           `mapstructure:"retention_days"`
}

// SyncConfig contains ledger sync and backfill configuration
type SyncConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	EventLimit    int           `mapstructure:"event_limit"`
	WindowSize    uint64        `mapstructure:"window_size"`
	FetchRetries  int           `mapstructure:"fetch_retries"`
	FetchBaseWait time.Duration `mapstructure:"fetch_base_wait"`
}

// WebhookConfig contains webhook delivery configuration
type WebhookConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertConfig contains alert dispatch configuration
type AlertConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SMTPHost       string        `mapstructure:"smtp_host"`
	SMTPPort       int           `mapstructure:"smtp_port"`
	SMTPUser       string        `mapstructure:"smtp_user"`
	SMTPPassword   string        `mapstructure:"smtp_password"`
	EmailFrom      string        `mapstructure:"email_from"`
}

// PublisherConfig contains realtime fan-out channel configuration
type PublisherConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	RedisURL string `mapstructure:"redis_url"`
}

// WorkerConfig contains worker pool configuration
type WorkerConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	viper.SetEnvPrefix("SOROSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if rpcURL := os.Getenv("SOROBAN_RPC_URL"); rpcURL != "" {
		config.Soroban.RPCURL = rpcURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "soroscan")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Soroban defaults
	viper.SetDefault("soroban.rpc_url", "https://soroban-testnet.stellar.org")
	viper.SetDefault("soroban.network_passphrase", "Test SDF Network ; September 2015")
	viper.SetDefault("soroban.request_timeout", "30s")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/soroscan.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")
	viper.SetDefault("storage.retention_days", 30)

	// Sync defaults (ledger close time is ~5s; backfill windows of 200 ledgers)
	viper.SetDefault("sync.poll_interval", "10s")
	viper.SetDefault("sync.event_limit", 100)
	viper.SetDefault("sync.window_size", 200)
	viper.SetDefault("sync.fetch_retries", 3)
	viper.SetDefault("sync.fetch_base_wait", "5s")

	// Webhook delivery defaults
	viper.SetDefault("webhooks.max_attempts", 5)
	viper.SetDefault("webhooks.base_delay", "1s")
	viper.SetDefault("webhooks.max_delay", "600s")
	viper.SetDefault("webhooks.request_timeout", "10s")

	// Alert defaults
	viper.SetDefault("alerts.max_attempts", 5)
	viper.SetDefault("alerts.base_delay", "1s")
	viper.SetDefault("alerts.max_delay", "300s")
	viper.SetDefault("alerts.request_timeout", "10s")
	viper.SetDefault("alerts.smtp_port", 587)

	// Publisher defaults
	viper.SetDefault("publisher.enabled", false)
	viper.SetDefault("publisher.redis_url", "redis://localhost:6379/0")

	// Worker pool defaults
	viper.SetDefault("workers.count", 4)
	viper.SetDefault("workers.queue_size", 1000)

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Soroban.RPCURL == "" {
		return fmt.Errorf("soroban RPC URL is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync poll interval must be positive")
	}
	if c.Sync.WindowSize == 0 {
		return fmt.Errorf("sync window size must be positive")
	}
	if c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("webhook max attempts must be positive")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	return nil
}

// NetworkLabel returns a short label for the configured Stellar network,
// used as a metric label.
func (c *Config) NetworkLabel() string {
	switch {
	case strings.Contains(c.Soroban.NetworkPassphrase, "Public"):
		return "mainnet"
	case strings.Contains(c.Soroban.NetworkPassphrase, "Test"):
		return "testnet"
	default:
		return "unknown"
	}
}
