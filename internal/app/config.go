package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-consumer/internal/service/ingestor"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/retry"
)

// ConfigFileEnv — переменная окружения с путём к YAML-конфигу.
const ConfigFileEnv = "ORDERS_CONFIG_FILE"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	PositionBackendMemory   = "memory"
	PositionBackendPostgres = "postgres"
	PositionBackendEtcd     = "etcd"

	DeadLetterSinkMemory   = "memory"
	DeadLetterSinkPostgres = "postgres"
	DeadLetterSinkKafka    = "kafka"
	DeadLetterSinkRedis    = "redis"
)

// Config описывает настройки запуска consumer'а.
type Config struct {
	GRPCAddr    string `yaml:"grpc_addr" env:"ORDERS_GRPC_ADDR" env-default:":50051"`
	MetricsAddr string `yaml:"metrics_addr" env:"ORDERS_METRICS_ADDR" env-default:":9090"`

	Log         LogConfig        `yaml:"log"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Storage     StorageConfig    `yaml:"storage"`
	Positions   PositionsConfig  `yaml:"positions"`
	DeadLetters DeadLetterConfig `yaml:"dead_letters"`
	Ingestor    IngestorConfig   `yaml:"ingestor"`
	Retry       RetryConfig      `yaml:"retry"`
	Retention   RetentionConfig  `yaml:"retention"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"ORDERS_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"ORDERS_LOG_FORMAT" env-default:"text"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	GroupID       string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"orders-consumer"`
	Topics        []string `yaml:"topics" env:"KAFKA_TOPICS" env-default:"orders"`
	ClientID      string   `yaml:"client_id" env:"KAFKA_CLIENT_ID" env-default:"order-consumer"`
	InitialOffset string   `yaml:"initial_offset" env:"KAFKA_INITIAL_OFFSET" env-default:"oldest"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" env:"ORDERS_STORAGE_DRIVER" env-default:"memory"`
	PostgresDSN string `yaml:"postgres_dsn" env:"ORDERS_POSTGRES_DSN"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"ORDERS_POSTGRES_AUTO_MIGRATE"`
}

// PositionsConfig выбирает хранилище позиций. Пустой Backend означает
// "то же, что и Storage.Driver".
type PositionsConfig struct {
	Backend       string   `yaml:"backend" env:"ORDERS_POSITIONS_BACKEND"`
	EtcdEndpoints []string `yaml:"etcd_endpoints" env:"ORDERS_ETCD_ENDPOINTS"`
	EtcdPrefix    string   `yaml:"etcd_prefix" env:"ORDERS_ETCD_PREFIX" env-default:"/order-consumer/positions"`
}

type DeadLetterConfig struct {
	Sink          string `yaml:"sink" env:"ORDERS_DLQ_SINK" env-default:"kafka"`
	Topic         string `yaml:"topic" env:"ORDERS_DLQ_TOPIC" env-default:"orders.dlq"`
	RedisAddr     string `yaml:"redis_addr" env:"ORDERS_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"ORDERS_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"ORDERS_REDIS_DB"`
	RedisStream   string `yaml:"redis_stream" env:"ORDERS_REDIS_STREAM" env-default:"orders:dead-letters"`
	RedisMaxLen   int64  `yaml:"redis_max_len" env:"ORDERS_REDIS_MAX_LEN" env-default:"100000"`
}

type IngestorConfig struct {
	MaxBatchSize  int           `yaml:"max_batch_size" env:"ORDERS_MAX_BATCH_SIZE" env-default:"100"`
	IdleWait      time.Duration `yaml:"idle_wait" env:"ORDERS_IDLE_WAIT" env-default:"500ms"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"ORDERS_SHUTDOWN_GRACE" env-default:"10s"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"ORDERS_RETRY_MAX_ATTEMPTS" env-default:"5"`
	InitialDelay  time.Duration `yaml:"initial_delay" env:"ORDERS_RETRY_INITIAL_DELAY" env-default:"100ms"`
	MaxDelay      time.Duration `yaml:"max_delay" env:"ORDERS_RETRY_MAX_DELAY" env-default:"5s"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"ORDERS_RETRY_BACKOFF_FACTOR" env-default:"2"`
}

type RetentionConfig struct {
	Interval  time.Duration `yaml:"interval" env:"ORDERS_RETENTION_INTERVAL" env-default:"10m"`
	TTL       time.Duration `yaml:"ttl" env:"ORDERS_RETENTION_TTL" env-default:"168h"`
	BatchSize int           `yaml:"batch_size" env:"ORDERS_RETENTION_BATCH_SIZE" env-default:"500"`
}

// DefaultConfig возвращает конфигурацию по умолчанию; значения совпадают с env-default.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		Log:         LogConfig{Level: "info", Format: "text"},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			GroupID:       "orders-consumer",
			Topics:        []string{"orders"},
			ClientID:      "order-consumer",
			InitialOffset: "oldest",
		},
		Storage:   StorageConfig{Driver: StorageDriverMemory},
		Positions: PositionsConfig{EtcdPrefix: "/order-consumer/positions"},
		DeadLetters: DeadLetterConfig{
			Sink:        DeadLetterSinkKafka,
			Topic:       "orders.dlq",
			RedisAddr:   "localhost:6379",
			RedisStream: "orders:dead-letters",
			RedisMaxLen: 100_000,
		},
		Ingestor: IngestorConfig{
			MaxBatchSize:  100,
			IdleWait:      500 * time.Millisecond,
			ShutdownGrace: 10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2,
		},
		Retention: RetentionConfig{
			Interval:  10 * time.Minute,
			TTL:       7 * 24 * time.Hour,
			BatchSize: 500,
		},
	}
}

// Load читает конфигурацию из YAML-файла (если path не пустой) и переменных
// окружения. Переменные окружения имеют приоритет над файлом.
func Load(path string) (Config, error) {
	var cfg Config

	var err error
	if strings.TrimSpace(path) != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PositionBackend возвращает итоговый backend позиций.
func (c Config) PositionBackend() string {
	if c.Positions.Backend != "" {
		return c.Positions.Backend
	}
	return c.Storage.Driver
}

// IngestorConfig переводит настройки в конфигурацию воркеров партиций.
func (c Config) IngestorConfig() ingestor.Config {
	return ingestor.Config{
		MaxBatchSize:  c.Ingestor.MaxBatchSize,
		IdleWait:      c.Ingestor.IdleWait,
		ShutdownGrace: c.Ingestor.ShutdownGrace,
		Retry:         c.RetryConfig(),
	}
}

// RetryConfig возвращает политику повторов для хранилищ и dead-letter sink'ов.
func (c Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:   c.Retry.MaxAttempts,
		InitialDelay:  c.Retry.InitialDelay,
		MaxDelay:      c.Retry.MaxDelay,
		BackoffFactor: c.Retry.BackoffFactor,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.Log.Format))
	}

	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required"))
	}
	if strings.TrimSpace(c.Kafka.GroupID) == "" {
		errs = append(errs, errors.New("kafka group id is required"))
	}
	if len(c.Kafka.Topics) == 0 {
		errs = append(errs, errors.New("kafka topics are required"))
	}
	switch strings.ToLower(c.Kafka.InitialOffset) {
	case "", "oldest", "newest":
	default:
		errs = append(errs, fmt.Errorf("unsupported initial offset %q", c.Kafka.InitialOffset))
	}

	postgres := false
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		postgres = true
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.Storage.Driver))
	}

	switch backend := c.PositionBackend(); backend {
	case PositionBackendMemory:
	case PositionBackendPostgres:
		if !postgres {
			errs = append(errs, errors.New("postgres position backend requires postgres storage driver"))
		}
	case PositionBackendEtcd:
		if len(c.Positions.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("etcd endpoints are required for etcd position backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported position backend %q", backend))
	}

	switch c.DeadLetters.Sink {
	case DeadLetterSinkMemory:
	case DeadLetterSinkPostgres:
		if !postgres {
			errs = append(errs, errors.New("postgres dead letter sink requires postgres storage driver"))
		}
	case DeadLetterSinkKafka:
		if strings.TrimSpace(c.DeadLetters.Topic) == "" {
			errs = append(errs, errors.New("dead letter topic is required for kafka sink"))
		}
	case DeadLetterSinkRedis:
		if strings.TrimSpace(c.DeadLetters.RedisAddr) == "" {
			errs = append(errs, errors.New("redis addr is required for redis dead letter sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported dead letter sink %q", c.DeadLetters.Sink))
	}

	if c.Ingestor.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("max batch size must be positive"))
	}
	if c.Ingestor.IdleWait <= 0 {
		errs = append(errs, errors.New("idle wait must be positive"))
	}
	if c.Ingestor.ShutdownGrace <= 0 {
		errs = append(errs, errors.New("shutdown grace must be positive"))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, errors.New("retry delays are inconsistent"))
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, errors.New("retry backoff factor must be >= 1"))
	}
	if c.Retention.Interval <= 0 || c.Retention.TTL <= 0 || c.Retention.BatchSize <= 0 {
		errs = append(errs, errors.New("retention interval, ttl and batch size must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
