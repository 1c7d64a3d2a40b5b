package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"rsvp/pkg/client"
	kafka_config "rsvp/pkg/kafka/config"
	"rsvp/pkg/logger"

	"github.com/google/uuid"
)

type Config struct {
	Port   string
	NodeID string

	StoreDriver string

	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	PostgresDSN      string
	PostgresMaxConns int

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CapacityCacheTTL time.Duration

	KafkaEnabled        bool
	KafkaCapacityTopic  string
	KafkaLifecycleTopic string
	KafkaLifecycleGroup string
	KafkaDLQTopic       string
	Kafka               *kafka_config.Config

	AdmissionMaxRetries     int
	AdmissionRetryBaseDelay time.Duration

	BroadcastBuffer int
	BroadcastQueue  int
	StreamHeartbeat time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	RequestTimeout time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	cfg := &Config{
		Port:   getEnvStr(EnvPort, DefaultPort),
		NodeID: getEnvStr(EnvNodeID, serviceName+"-"+uuid.NewString()[:8]),

		StoreDriver: strings.ToLower(getEnvStr(EnvStoreDriver, DefaultStoreDriver)),

		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		PostgresDSN:      getEnvStr(EnvPostgresDSN, DefaultPostgresDSN),
		PostgresMaxConns: getEnvNum(EnvPostgresMaxConns, DefaultPostgresMaxConns),

		RedisAddr:        getEnvStr(EnvRedisAddr, ""),
		RedisPassword:    getEnvStr(EnvRedisPassword, ""),
		RedisDB:          getEnvNum(EnvRedisDB, DefaultRedisDB),
		CapacityCacheTTL: getEnvDuration(EnvCapacityCacheTTL, DefaultCapacityCacheTTL),

		KafkaEnabled:        getEnvBool(EnvKafkaEnabled, DefaultKafkaEnabled),
		KafkaCapacityTopic:  getEnvStr(EnvKafkaCapacityTopic, DefaultKafkaCapacityTopic),
		KafkaLifecycleTopic: getEnvStr(EnvKafkaLifecycleTopic, DefaultKafkaLifecycleTopic),
		KafkaLifecycleGroup: getEnvStr(EnvKafkaLifecycleGroup, DefaultKafkaLifecycleGroup),
		KafkaDLQTopic:       getEnvStr(EnvKafkaDLQTopic, DefaultKafkaDLQTopic),

		AdmissionMaxRetries:     getEnvNum(EnvAdmissionMaxRetries, DefaultAdmissionMaxRetries),
		AdmissionRetryBaseDelay: getEnvDuration(EnvAdmissionRetryBaseDelay, DefaultAdmissionRetryBaseDelay),

		BroadcastBuffer: getEnvNum(EnvBroadcastBuffer, DefaultBroadcastBuffer),
		BroadcastQueue:  getEnvNum(EnvBroadcastQueue, DefaultBroadcastQueue),
		StreamHeartbeat: getEnvDuration(EnvStreamHeartbeat, DefaultStreamHeartbeat),

		RateLimitRPS:   getEnvFloat(EnvRateLimitRPS, DefaultRateLimitRPS),
		RateLimitBurst: getEnvNum(EnvRateLimitBurst, DefaultRateLimitBurst),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, logger.INFO),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	if cfg.KafkaEnabled {
		cfg.Kafka = kafka_config.Load()
	}

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

// Connect opens the clients required by the selected store driver and
// the optional cache.
func (cfg *Config) Connect() {
	switch cfg.StoreDriver {
	case StoreMongo:
		cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
	case StorePostgres:
		cfg.Client.SetPostgres(cfg.Log, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
	}
	if cfg.RedisAddr != "" {
		cfg.Client.SetRedis(cfg.Log, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	switch cfg.StoreDriver {
	case StoreMongo:
		if !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
			errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactURI(cfg.MongoURI)))
		}
		if cfg.MongoDatabaseName == "" {
			errors = append(errors, "MongoDatabaseName cannot be empty")
		}
		if cfg.MongoConnTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
		}
	case StorePostgres:
		if !regexp.MustCompile(`^postgres(ql)?://`).MatchString(cfg.PostgresDSN) {
			errors = append(errors, fmt.Sprintf("PostgresDSN must start with 'postgres://', got: %s", redactURI(cfg.PostgresDSN)))
		}
		if cfg.PostgresMaxConns <= 0 {
			errors = append(errors, fmt.Sprintf("PostgresMaxConns must be positive, got: %d", cfg.PostgresMaxConns))
		}
	case StoreMemory:
	default:
		errors = append(errors, fmt.Sprintf("StoreDriver must be one of [mongo, postgres, memory], got: %s", cfg.StoreDriver))
	}

	if cfg.RedisAddr != "" && cfg.CapacityCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("CapacityCacheTTL must be positive, got: %s", cfg.CapacityCacheTTL))
	}
	if cfg.KafkaEnabled && cfg.KafkaCapacityTopic == "" {
		errors = append(errors, "KafkaCapacityTopic cannot be empty when Kafka is enabled")
	}
	if cfg.Kafka != nil {
		errors = append(errors, cfg.Kafka.Validate()...)
	}

	if cfg.AdmissionMaxRetries <= 0 {
		errors = append(errors, fmt.Sprintf("AdmissionMaxRetries must be positive, got: %d", cfg.AdmissionMaxRetries))
	}
	if cfg.AdmissionRetryBaseDelay < 0 {
		errors = append(errors, fmt.Sprintf("AdmissionRetryBaseDelay cannot be negative, got: %s", cfg.AdmissionRetryBaseDelay))
	}
	if cfg.BroadcastBuffer <= 0 {
		errors = append(errors, fmt.Sprintf("BroadcastBuffer must be positive, got: %d", cfg.BroadcastBuffer))
	}
	if cfg.BroadcastQueue <= 0 {
		errors = append(errors, fmt.Sprintf("BroadcastQueue must be positive, got: %d", cfg.BroadcastQueue))
	}
	if cfg.StreamHeartbeat <= 0 {
		errors = append(errors, fmt.Sprintf("StreamHeartbeat must be positive, got: %s", cfg.StreamHeartbeat))
	}
	if cfg.RateLimitRPS <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRPS must be positive, got: %v", cfg.RateLimitRPS))
	}
	if cfg.RateLimitBurst <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitBurst must be positive, got: %d", cfg.RateLimitBurst))
	}
	if cfg.RequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("RequestTimeout must be positive, got: %s", cfg.RequestTimeout))
	}
	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.ReadTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ReadTimeout must be positive, got: %s", cfg.ReadTimeout))
	}
	if cfg.WriteTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("WriteTimeout must be positive, got: %s", cfg.WriteTimeout))
	}
	if cfg.IdleTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("IdleTimeout must be positive, got: %s", cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ShutdownTimeout must be positive, got: %s", cfg.ShutdownTimeout))
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"port", cfg.Port,
		"node_id", cfg.NodeID,
		"store_driver", cfg.StoreDriver,
		"mongo_uri", redactURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"postgres_dsn", redactURI(cfg.PostgresDSN),
		"redis_enabled", cfg.RedisAddr != "",
		"capacity_cache_ttl", cfg.CapacityCacheTTL,
		"kafka_enabled", cfg.KafkaEnabled,
		"kafka_capacity_topic", cfg.KafkaCapacityTopic,
		"kafka_lifecycle_topic", cfg.KafkaLifecycleTopic,
		"admission_max_retries", cfg.AdmissionMaxRetries,
		"admission_retry_base_delay", cfg.AdmissionRetryBaseDelay,
		"broadcast_buffer", cfg.BroadcastBuffer,
		"broadcast_queue", cfg.BroadcastQueue,
		"stream_heartbeat", cfg.StreamHeartbeat,
		"rate_limit_rps", cfg.RateLimitRPS,
		"rate_limit_burst", cfg.RateLimitBurst,
		"request_timeout", cfg.RequestTimeout,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
	)
	if cfg.Kafka != nil {
		cfg.Kafka.LogConfiguration(cfg.Log.Info)
	}
}

func redactURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(^[a-z+]+://)[^:/@]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log)
}

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		limit = 20
	} else if limit > DefaultPaginationLimit {
		limit = DefaultPaginationLimit
	}
	return limit
}

func NormalizeOffset(offset int64) int64 {
	return max(0, offset)
}
