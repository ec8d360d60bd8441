package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// JWTSecretEnv overrides auth.jwt_secret when set
	JWTSecretEnv = "JWT_SECRET"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	RabbitMQ      RabbitMQConfig      `yaml:"rabbitmq"`
	Logging       LoggingConfig       `yaml:"logging"`
	App           AppConfig           `yaml:"app"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Runner        RunnerConfig        `yaml:"runner"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or sqlite3
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"` // sqlite3 only
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Issuer    string        `yaml:"issuer"`
}

// RateLimitConfig holds the per-user job submission limit
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// RunnerConfig holds background job runner configuration
type RunnerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	QueueSize   int           `yaml:"queue_size"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
	Dispatch    string        `yaml:"dispatch"` // inprocess or rabbitmq
}

// ArtifactsConfig selects where rendered invoices are kept
type ArtifactsConfig struct {
	Driver   string   `yaml:"driver"` // local or s3
	LocalDir string   `yaml:"local_dir"`
	S3       S3Config `yaml:"s3"`
}

// S3Config holds object storage settings
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	KeyPrefix string `yaml:"key_prefix"`
	Endpoint  string `yaml:"endpoint"`
}

// NotificationsConfig holds push channel settings
type NotificationsConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// Load reads and parses the configuration file, then applies defaults and env overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	if secret := os.Getenv(JWTSecretEnv); secret != "" {
		config.Auth.JWTSecret = secret
	}

	return &config, nil
}

// ApplyDefaults fills unset optional fields
func (c *Config) ApplyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "invoice-service"
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 5
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Runner.Concurrency == 0 {
		c.Runner.Concurrency = 4
	}
	if c.Runner.QueueSize == 0 {
		c.Runner.QueueSize = 100
	}
	if c.Runner.JobTimeout == 0 {
		c.Runner.JobTimeout = 30 * time.Second
	}
	if c.Runner.Dispatch == "" {
		c.Runner.Dispatch = "inprocess"
	}
	if c.Artifacts.Driver == "" {
		c.Artifacts.Driver = "local"
	}
	if c.Artifacts.Driver == "local" && c.Artifacts.LocalDir == "" {
		c.Artifacts.LocalDir = "data/artifacts"
	}
	if c.Notifications.WriteTimeout == 0 {
		c.Notifications.WriteTimeout = 10 * time.Second
	}
	if c.Notifications.PingInterval == 0 {
		c.Notifications.PingInterval = 30 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}

	if err := c.Database.validate(); err != nil {
		return err
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required (or set %s)", JWTSecretEnv)
	}

	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("rate_limit limit must be greater than 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit window must be greater than 0")
	}

	if err := c.Runner.validate(); err != nil {
		return err
	}

	if c.Runner.Dispatch == "rabbitmq" {
		if err := c.RabbitMQ.validate(); err != nil {
			return err
		}
	}

	if err := c.Artifacts.validate(); err != nil {
		return err
	}

	if c.Notifications.WriteTimeout <= 0 {
		return fmt.Errorf("notifications write_timeout must be greater than 0")
	}
	if c.Notifications.PingInterval <= 0 {
		return fmt.Errorf("notifications ping_interval must be greater than 0")
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case "postgres":
		if d.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if err := validatePort("database", d.Port); err != nil {
			return err
		}
		if d.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver: %q", d.Driver)
	}
	return nil
}

func (r *RabbitMQConfig) validate() error {
	if r.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if err := validatePort("rabbitmq", r.Port); err != nil {
		return err
	}
	if r.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	if r.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}
	return nil
}

func (r *RunnerConfig) validate() error {
	switch r.Dispatch {
	case "inprocess", "rabbitmq":
	default:
		return fmt.Errorf("unsupported runner dispatch: %q", r.Dispatch)
	}
	if r.Concurrency <= 0 {
		return fmt.Errorf("runner concurrency must be greater than 0")
	}
	if r.QueueSize <= 0 {
		return fmt.Errorf("runner queue_size must be greater than 0")
	}
	if r.JobTimeout <= 0 {
		return fmt.Errorf("runner job_timeout must be greater than 0")
	}
	return nil
}

func (a *ArtifactsConfig) validate() error {
	switch a.Driver {
	case "local":
		if a.LocalDir == "" {
			return fmt.Errorf("artifacts local_dir is required")
		}
	case "s3":
		if a.S3.Bucket == "" {
			return fmt.Errorf("artifacts s3 bucket is required")
		}
		if a.S3.Region == "" {
			return fmt.Errorf("artifacts s3 region is required")
		}
	default:
		return fmt.Errorf("unsupported artifacts driver: %q", a.Driver)
	}
	return nil
}
