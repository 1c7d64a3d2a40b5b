package config

const (
	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"
	EnvNodeID   = "NODE_ID"

	EnvStoreDriver = "STORE_DRIVER"

	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvPostgresDSN      = "POSTGRES_DSN"
	EnvPostgresMaxConns = "POSTGRES_MAX_CONNS"

	EnvRedisAddr        = "REDIS_ADDR"
	EnvRedisPassword    = "REDIS_PASSWORD"
	EnvRedisDB          = "REDIS_DB"
	EnvCapacityCacheTTL = "CAPACITY_CACHE_TTL"

	EnvKafkaEnabled        = "KAFKA_ENABLED"
	EnvKafkaCapacityTopic  = "KAFKA_CAPACITY_TOPIC"
	EnvKafkaLifecycleTopic = "KAFKA_LIFECYCLE_TOPIC"
	EnvKafkaLifecycleGroup = "KAFKA_LIFECYCLE_GROUP"
	EnvKafkaDLQTopic       = "KAFKA_DLQ_TOPIC"

	EnvAdmissionMaxRetries     = "ADMISSION_MAX_RETRIES"
	EnvAdmissionRetryBaseDelay = "ADMISSION_RETRY_BASE_DELAY"

	EnvBroadcastBuffer = "BROADCAST_BUFFER"
	EnvBroadcastQueue  = "BROADCAST_QUEUE"
	EnvStreamHeartbeat = "STREAM_HEARTBEAT"

	EnvRateLimitRPS   = "RATE_LIMIT_RPS"
	EnvRateLimitBurst = "RATE_LIMIT_BURST"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
)
