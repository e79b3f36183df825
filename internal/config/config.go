package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the orders service. Values are
// loaded from an optional YAML file (CONFIG_FILE) and then overridden by
// environment variables, so deployments can ship a base file and tweak per
// environment without rebuilding.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Processor ProcessorConfig `yaml:"processor"`
	Billing   BillingConfig   `yaml:"billing"`
	NATS      NATSConfig      `yaml:"nats"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Duration is a time.Duration that accepts YAML values like "15s" or "1h30m"
// in addition to integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	n, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	User        string   `yaml:"user"`
	Password    string   `yaml:"password"`
	Database    string   `yaml:"database"`
	SSLMode     string   `yaml:"ssl_mode"`
	MaxConns    int32    `yaml:"max_conns"`
	MinConns    int32    `yaml:"min_conns"`
	MaxConnTime Duration `yaml:"max_conn_time"`
	MaxIdleTime Duration `yaml:"max_idle_time"`
}

// ProcessorConfig points at the external invoicing/payout processor.
type ProcessorConfig struct {
	BaseURL   string   `yaml:"base_url"`
	VerifyURL string   `yaml:"verify_url"`
	APIKey    string   `yaml:"api_key"`
	Timeout   Duration `yaml:"timeout"`
}

// BillingConfig holds marketplace money policy.
type BillingConfig struct {
	// FeeRate is the platform fee fraction retained from each order,
	// e.g. "0.15" for 15%.
	FeeRate  string `yaml:"fee_rate"`
	Currency string `yaml:"currency"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// Load builds the configuration from CONFIG_FILE (if set) and the
// environment.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-mp-orders",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "mp_orders",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			MaxConnTime: Duration(time.Hour),
			MaxIdleTime: Duration(30 * time.Minute),
		},
		Processor: ProcessorConfig{
			Timeout: Duration(10 * time.Second),
		},
		Billing: BillingConfig{
			FeeRate:  "0.15",
			Currency: "USD",
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Service.Name, "SERVICE_NAME")
	setString(&cfg.Service.Version, "SERVICE_VERSION")
	setString(&cfg.Service.Environment, "ENVIRONMENT")

	setInt(&cfg.Server.Port, "PORT")
	setDuration(&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "SERVER_IDLE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Database, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSL_MODE")
	setInt32(&cfg.Database.MaxConns, "DB_MAX_CONNS")
	setInt32(&cfg.Database.MinConns, "DB_MIN_CONNS")

	setString(&cfg.Processor.BaseURL, "PROCESSOR_BASE_URL")
	setString(&cfg.Processor.VerifyURL, "PROCESSOR_VERIFY_URL")
	setString(&cfg.Processor.APIKey, "PROCESSOR_API_KEY")
	setDuration(&cfg.Processor.Timeout, "PROCESSOR_TIMEOUT")

	setString(&cfg.Billing.FeeRate, "FEE_RATE")
	setString(&cfg.Billing.Currency, "CURRENCY")

	setString(&cfg.NATS.URL, "NATS_URL")
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	rate, err := strconv.ParseFloat(c.Billing.FeeRate, 64)
	if err != nil || rate < 0 || rate >= 1 {
		return fmt.Errorf("config: fee_rate must be a fraction in [0,1), got %q", c.Billing.FeeRate)
	}
	if len(c.Billing.Currency) != 3 {
		return fmt.Errorf("config: currency must be a 3-letter ISO code, got %q", c.Billing.Currency)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
