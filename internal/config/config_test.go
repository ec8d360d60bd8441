package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv(JWTSecretEnv, "")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "invoices_db", cfg.Database.Database)
				assert.Equal(t, "invoice_jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "invoice_jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "invoice-service", cfg.App.Name)
				assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
				assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
				assert.Equal(t, 5, cfg.RateLimit.Limit)
				assert.Equal(t, time.Minute, cfg.RateLimit.Window)
				assert.Equal(t, 2, cfg.Runner.Concurrency)
				assert.Equal(t, "/tmp/invoice-artifacts", cfg.Artifacts.LocalDir)
			}
		})
	}
}

func TestLoad_JWTSecretFromEnv(t *testing.T) {
	t.Setenv(JWTSecretEnv, "env-secret")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "inprocess", cfg.Runner.Dispatch)
	assert.Equal(t, 4, cfg.Runner.Concurrency)
	assert.Equal(t, 100, cfg.Runner.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Runner.JobTimeout)
	assert.Equal(t, "local", cfg.Artifacts.Driver)
	assert.Equal(t, "data/artifacts", cfg.Artifacts.LocalDir)
	assert.Equal(t, 10*time.Second, cfg.Notifications.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Notifications.PingInterval)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Database: "invoices_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "invoice_jobs_exchange"},
			Queue:    QueueConfig{Name: "invoice_jobs_queue"},
		},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name: "sqlite needs no host",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "sqlite3", Path: "invoices.db"}
			},
			wantErr: false,
		},
		{
			name:      "unknown database driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			wantErr:   true,
			errString: "unsupported database driver",
		},
		{
			name:      "missing jwt secret",
			mutate:    func(c *Config) { c.Auth.JWTSecret = "" },
			wantErr:   true,
			errString: "jwt_secret is required",
		},
		{
			name:      "negative rate limit",
			mutate:    func(c *Config) { c.RateLimit.Limit = -1 },
			wantErr:   true,
			errString: "rate_limit limit",
		},
		{
			name:      "unknown dispatch",
			mutate:    func(c *Config) { c.Runner.Dispatch = "kafka" },
			wantErr:   true,
			errString: "unsupported runner dispatch",
		},
		{
			name:    "rabbitmq ignored for inprocess dispatch",
			mutate:  func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr: false,
		},
		{
			name: "empty rabbitmq host with rabbitmq dispatch",
			mutate: func(c *Config) {
				c.Runner.Dispatch = "rabbitmq"
				c.RabbitMQ.Host = ""
			},
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "empty exchange name",
			mutate: func(c *Config) {
				c.Runner.Dispatch = "rabbitmq"
				c.RabbitMQ.Exchange.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "empty queue name",
			mutate: func(c *Config) {
				c.Runner.Dispatch = "rabbitmq"
				c.RabbitMQ.Queue.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Artifacts.Driver = "s3"
				c.Artifacts.S3.Region = "us-east-1"
			},
			wantErr:   true,
			errString: "s3 bucket is required",
		},
		{
			name: "s3 complete",
			mutate: func(c *Config) {
				c.Artifacts.Driver = "s3"
				c.Artifacts.S3 = S3Config{Bucket: "invoices", Region: "us-east-1"}
			},
			wantErr: false,
		},
		{
			name:      "unknown artifacts driver",
			mutate:    func(c *Config) { c.Artifacts.Driver = "gcs" },
			wantErr:   true,
			errString: "unsupported artifacts driver",
		},
		{
			name:      "zero write timeout",
			mutate:    func(c *Config) { c.Notifications.WriteTimeout = -time.Second },
			wantErr:   true,
			errString: "write_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Setenv(JWTSecretEnv, "")

	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("shipped service config", func(t *testing.T) {
		cfg, err := Load("../../configs/api-service/config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "inprocess", cfg.Runner.Dispatch)
		assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)

	for _, port := range []int{1, 80, 443, 8080, 65535} {
		assert.NoError(t, validatePort("server", port))
	}
	for _, port := range []int{0, -1, 65536, 70000} {
		assert.Error(t, validatePort("server", port), "port %d should be invalid", port)
	}
}
