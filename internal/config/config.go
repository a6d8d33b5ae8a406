package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Aggregate AggregateConfig
	Log       LogConfig
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
	// AllowedOrigins: источники для CORS (через запятую в переменной окружения)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RateLimitPerMinute: лимит запросов выборки на IP в минуту (0 - без ограничения)
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	// OperatorToken: Bearer-токен для /api/admin (пусто - проверка отключена)
	OperatorToken string `mapstructure:"operator_token"`
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт). Используется для всех режимов.
	Addrs []string `mapstructure:"addrs"`

	// Addr: Альтернативный адрес для режима 'single'
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`

	MaxRetries      int `mapstructure:"max_retries"`
	MinRetryBackoff int `mapstructure:"min_retry_backoff"` // мс
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"` // мс
}

// AggregateConfig содержит настройки движка подсчёта и выборки
type AggregateConfig struct {
	// RepairPageSize: размер страницы ремонта по умолчанию
	RepairPageSize int `mapstructure:"repair_page_size"`
	// RepairPagesPerSecond: ограничение скорости ремонта (страниц в секунду, 0 - без ограничения)
	RepairPagesPerSecond float64 `mapstructure:"repair_pages_per_second"`
	// RepairOnStartup: построить агрегаты при запуске
	RepairOnStartup bool `mapstructure:"repair_on_startup"`
	// SamplerMode: "permutation" (по умолчанию) или "retry"
	SamplerMode string `mapstructure:"sampler_mode"`
	// MaxSampleSize: верхняя граница k в одном запросе
	MaxSampleSize int `mapstructure:"max_sample_size"`
	// StrategyPolicy: "auto", "aggregate" или "scan"
	StrategyPolicy string `mapstructure:"strategy_policy"`
	// LineageCacheTTLSec: время жизни кеша связей таксономии в Redis
	LineageCacheTTLSec int `mapstructure:"lineage_cache_ttl_sec"`

	Snapshot SnapshotConfig
	Cluster  ClusterConfig
}

// SnapshotConfig содержит настройки снимков хранилища
type SnapshotConfig struct {
	Enabled     bool
	IntervalSec int `mapstructure:"interval_sec"`
	TTLHours    int `mapstructure:"ttl_hours"`
}

// ClusterConfig содержит настройки репликации операций между экземплярами
type ClusterConfig struct {
	Enabled    bool
	InstanceID string `mapstructure:"instance_id"`
	Channel    string
}

// LogConfig содержит настройки логирования
type LogConfig struct {
	// Mode: "development" или "production"
	Mode string
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// MigrationURL формирует URL подключения для golang-migrate (драйвер lib/pq)
func (d *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.port", "8080")
	vip.SetDefault("server.readtimeout", 10)
	vip.SetDefault("server.writetimeout", 30)
	vip.SetDefault("server.rate_limit_per_minute", 120)
	vip.SetDefault("database.port", "5432")
	vip.SetDefault("database.sslmode", "disable")
	vip.SetDefault("redis.mode", "single")
	vip.SetDefault("redis.addr", "localhost:6379")
	vip.SetDefault("aggregate.repair_page_size", 500)
	vip.SetDefault("aggregate.repair_pages_per_second", 20)
	vip.SetDefault("aggregate.repair_on_startup", true)
	vip.SetDefault("aggregate.sampler_mode", "permutation")
	vip.SetDefault("aggregate.max_sample_size", 500)
	vip.SetDefault("aggregate.strategy_policy", "auto")
	vip.SetDefault("aggregate.lineage_cache_ttl_sec", 300)
	vip.SetDefault("aggregate.snapshot.enabled", true)
	vip.SetDefault("aggregate.snapshot.interval_sec", 600)
	vip.SetDefault("aggregate.snapshot.ttl_hours", 24)
	vip.SetDefault("aggregate.cluster.channel", "qbank:aggregate:ops")
	vip.SetDefault("log.mode", "development")
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	vip := viper.New() // Используем новый экземпляр Viper, чтобы избежать глобального состояния

	// 1. Значения по умолчанию
	setDefaults(vip)

	// 2. Привязываем переменные окружения ЯВНО
	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")

	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS")
	vip.BindEnv("redis.addr", "REDIS_ADDR")
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	vip.BindEnv("server.port", "SERVER_PORT")
	vip.BindEnv("server.allowed_origins", "SERVER_ALLOWED_ORIGINS")
	vip.BindEnv("server.rate_limit_per_minute", "SERVER_RATE_LIMIT_PER_MINUTE")
	vip.BindEnv("server.operator_token", "SERVER_OPERATOR_TOKEN")

	vip.BindEnv("aggregate.repair_page_size", "AGGREGATE_REPAIR_PAGE_SIZE")
	vip.BindEnv("aggregate.repair_pages_per_second", "AGGREGATE_REPAIR_PAGES_PER_SECOND")
	vip.BindEnv("aggregate.repair_on_startup", "AGGREGATE_REPAIR_ON_STARTUP")
	vip.BindEnv("aggregate.sampler_mode", "AGGREGATE_SAMPLER_MODE")
	vip.BindEnv("aggregate.max_sample_size", "AGGREGATE_MAX_SAMPLE_SIZE")
	vip.BindEnv("aggregate.strategy_policy", "AGGREGATE_STRATEGY_POLICY")
	vip.BindEnv("aggregate.snapshot.enabled", "AGGREGATE_SNAPSHOT_ENABLED")
	vip.BindEnv("aggregate.cluster.enabled", "AGGREGATE_CLUSTER_ENABLED")
	vip.BindEnv("aggregate.cluster.instance_id", "AGGREGATE_CLUSTER_INSTANCE_ID")

	vip.BindEnv("log.mode", "LOG_MODE")

	// 3. Файл конфигурации (не страшно, если его нет, т.к. есть BindEnv)
	if configPath != "" {
		vip.SetConfigFile(configPath)
		if err := vip.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Printf("Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	// 4. Анмаршалим конфигурацию
	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Списки из переменных окружения приходят одной строкой
	cfg.Redis.Addrs = splitList(cfg.Redis.Addrs)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Database Host: %s", cfg.Database.Host)
		log.Printf("Database Name: %s", cfg.Database.DBName)
		log.Printf("Redis Addr: %s (mode %s)", cfg.Redis.Addr, cfg.Redis.Mode)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("Sampler Mode: %s, Strategy: %s", cfg.Aggregate.SamplerMode, cfg.Aggregate.StrategyPolicy)
		log.Printf("Cluster Enabled: %t", cfg.Aggregate.Cluster.Enabled)
		log.Printf("-----------------------------------------")
	}

	// 5. Проверка обязательных параметров
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
		return fmt.Errorf("database configuration (host, dbname, user) is incomplete in config (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
	}
	if c.Aggregate.RepairPageSize <= 0 {
		return fmt.Errorf("aggregate.repair_page_size must be positive, got %d", c.Aggregate.RepairPageSize)
	}
	if c.Aggregate.MaxSampleSize <= 0 {
		return fmt.Errorf("aggregate.max_sample_size must be positive, got %d", c.Aggregate.MaxSampleSize)
	}
	if c.Aggregate.Snapshot.Enabled && c.Aggregate.Snapshot.IntervalSec <= 0 {
		return fmt.Errorf("aggregate.snapshot.interval_sec must be positive when snapshots are enabled")
	}
	switch c.Aggregate.SamplerMode {
	case "permutation", "retry":
	default:
		return fmt.Errorf("unknown aggregate.sampler_mode %q", c.Aggregate.SamplerMode)
	}
	switch c.Aggregate.StrategyPolicy {
	case "auto", "aggregate", "scan":
	default:
		return fmt.Errorf("unknown aggregate.strategy_policy %q", c.Aggregate.StrategyPolicy)
	}
	return nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
