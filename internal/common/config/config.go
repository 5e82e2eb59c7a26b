// filename: internal/common/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	tlsconf "github.com/ndrsec/ndrsec/internal/common/tls"
)

// Config представляет основную конфигурацию приложения
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	NATS       NATSConfig       `mapstructure:"nats"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Rules      RulesConfig      `mapstructure:"rules"`
}

// ServerConfig представляет конфигурацию административного HTTP сервера
type ServerConfig struct {
	Host         string         `mapstructure:"host"`
	Port         int            `mapstructure:"port"`
	ReadTimeout  time.Duration  `mapstructure:"read_timeout"`
	WriteTimeout time.Duration  `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration  `mapstructure:"idle_timeout"`
	TLS          tlsconf.Config `mapstructure:"tls"`
}

// NATSConfig представляет конфигурацию NATS
type NATSConfig struct {
	URLs         []string      `mapstructure:"urls"`
	ClientID     string        `mapstructure:"client_id"`
	QueueGroup   string        `mapstructure:"queue_group"`
	Credentials  string        `mapstructure:"credentials"`
	NKeySeedFile string        `mapstructure:"nkey_seed_file"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// PostgreSQLConfig представляет конфигурацию PostgreSQL
type PostgreSQLConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ClickHouseConfig представляет конфигурацию ClickHouse
type ClickHouseConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Hosts    []string      `mapstructure:"hosts"`
	Database string        `mapstructure:"database"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Port     int           `mapstructure:"port"`
	Secure   bool          `mapstructure:"secure"`
	Compress bool          `mapstructure:"compress"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// LoggingConfig представляет конфигурацию логирования
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// EngineConfig представляет конфигурацию движка корреляции
type EngineConfig struct {
	MaxWorkers        int           `mapstructure:"max_workers"`
	EventBufferSize   int           `mapstructure:"event_buffer_size"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	MaxActiveSessions int           `mapstructure:"max_active_sessions"`
	EventIDsCap       int           `mapstructure:"event_ids_cap"`
	ErrorBudget       int64         `mapstructure:"error_budget"`
	TerminalRetention time.Duration `mapstructure:"terminal_retention"`
	SnapshotInterval  time.Duration `mapstructure:"snapshot_interval"`
	SinkQueueSize     int           `mapstructure:"sink_queue_size"`
	SinkMaxRetries    int           `mapstructure:"sink_max_retries"`
	SinkRetryBackoff  time.Duration `mapstructure:"sink_retry_backoff"`
}

// RulesConfig представляет конфигурацию источников правил
type RulesConfig struct {
	Dir            string        `mapstructure:"dir"`
	WatchDir       bool          `mapstructure:"watch_dir"`
	FromDatabase   bool          `mapstructure:"from_database"`
	ReloadDebounce time.Duration `mapstructure:"reload_debounce"`
}

// LoadConfig загружает конфигурацию из файла // v1.0
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults устанавливает значения по умолчанию // v1.0
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.tls.enabled", false)
	viper.SetDefault("server.tls.min_version", "1.2")

	// NATS defaults
	viper.SetDefault("nats.urls", []string{"nats://localhost:4222"})
	viper.SetDefault("nats.client_id", "ndrsec-correlator")
	viper.SetDefault("nats.queue_group", "correlator")
	viper.SetDefault("nats.timeout", "5s")

	// PostgreSQL defaults
	viper.SetDefault("postgresql.host", "localhost")
	viper.SetDefault("postgresql.port", 5432)
	viper.SetDefault("postgresql.database", "ndrsec")
	viper.SetDefault("postgresql.ssl_mode", "disable")
	viper.SetDefault("postgresql.max_open_conns", 50)
	viper.SetDefault("postgresql.max_idle_conns", 10)
	viper.SetDefault("postgresql.conn_max_lifetime", "1h")

	// ClickHouse defaults
	viper.SetDefault("clickhouse.enabled", false)
	viper.SetDefault("clickhouse.hosts", []string{"localhost"})
	viper.SetDefault("clickhouse.database", "ndrsec")
	viper.SetDefault("clickhouse.port", 9000)
	viper.SetDefault("clickhouse.secure", false)
	viper.SetDefault("clickhouse.compress", true)
	viper.SetDefault("clickhouse.timeout", "30s")

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.timeout", "5s")
	viper.SetDefault("redis.key_prefix", "ndrsec:suppress")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Engine defaults
	viper.SetDefault("engine.max_workers", 4)
	viper.SetDefault("engine.event_buffer_size", 4096)
	viper.SetDefault("engine.tick_interval", "1s")
	viper.SetDefault("engine.max_active_sessions", 100000)
	viper.SetDefault("engine.event_ids_cap", 100)
	viper.SetDefault("engine.error_budget", 25)
	viper.SetDefault("engine.terminal_retention", "5m")
	viper.SetDefault("engine.snapshot_interval", "30s")
	viper.SetDefault("engine.sink_queue_size", 1024)
	viper.SetDefault("engine.sink_max_retries", 5)
	viper.SetDefault("engine.sink_retry_backoff", "2s")

	// Rules defaults
	viper.SetDefault("rules.dir", "")
	viper.SetDefault("rules.watch_dir", true)
	viper.SetDefault("rules.from_database", false)
	viper.SetDefault("rules.reload_debounce", "500ms")
}

// Validate валидирует конфигурацию // v1.0
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.NATS.URLs) == 0 {
		return fmt.Errorf("at least one NATS URL is required")
	}

	if c.Engine.MaxWorkers <= 0 {
		return fmt.Errorf("engine max_workers must be positive")
	}

	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine tick_interval must be positive")
	}

	if c.Engine.MaxActiveSessions <= 0 {
		return fmt.Errorf("engine max_active_sessions must be positive")
	}

	if c.Rules.FromDatabase && c.PostgreSQL.Database == "" {
		return fmt.Errorf("postgresql database name is required when rules.from_database is set")
	}

	return nil
}

// GetServerAddr возвращает адрес административного сервера // v1.0
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetPostgreSQLDSN возвращает DSN для PostgreSQL // v1.0
func (c *Config) GetPostgreSQLDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.PostgreSQL.Host, c.PostgreSQL.Port, c.PostgreSQL.Database,
		c.PostgreSQL.Username, c.PostgreSQL.Password, c.PostgreSQL.SSLMode)
}

// GetRedisAddr возвращает адрес Redis // v1.0
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
