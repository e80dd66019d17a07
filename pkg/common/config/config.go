// Package config loads the application configuration from a YAML file and
// environment variables, with environment variables winning.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIConfig defines the HTTP server configuration.
type APIConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration. DSN wins when set; otherwise
// the connection string is assembled from the discrete fields.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ConnectionString returns the lib/pq connection string.
func (c DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// EngineConfig tunes the workflow executor.
type EngineConfig struct {
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout"`
}

// Config holds the complete application configuration.
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	API         APIConfig      `mapstructure:"api"`
	Database    DatabaseConfig `mapstructure:"database"`
	Engine      EngineConfig   `mapstructure:"engine"`
}

// Load reads configuration from an optional .env file, the YAML config file
// named by FLOWLINE_CONFIG_FILE (default configs/config.yaml), and
// FLOWLINE_-prefixed environment variables.
func Load() (*Config, error) {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("FLOWLINE_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("FLOWLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	// Common Docker-style variables that don't follow the prefix.
	_ = v.BindEnv("database.dsn", "DATABASE_URL")
	_ = v.BindEnv("database.host", "POSTGRES_HOST")
	_ = v.BindEnv("database.password", "POSTGRES_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional when environment variables are set.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("log_level", "info")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	// Execute responses are held open for the whole synchronous run, so the
	// write timeout has to outlast the longest workflow, not a single request.
	v.SetDefault("api.write_timeout", 5*time.Minute)
	v.SetDefault("api.idle_timeout", 90*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "flowline")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("engine.default_step_timeout", 30*time.Second)
}
