package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/k-code-yt/payment-saga/internal/payment/application"
	"github.com/k-code-yt/payment-saga/internal/payment/infra/gateway"
	"github.com/k-code-yt/payment-saga/internal/payment/infra/outbox"
	"github.com/k-code-yt/payment-saga/pkg/db/postgres"
	"github.com/k-code-yt/payment-saga/pkg/idempotency"
	pkgkafka "github.com/k-code-yt/payment-saga/pkg/kafka"
	"github.com/k-code-yt/payment-saga/pkg/resilience"
	"github.com/sirupsen/logrus"
)

type StoreBackend string

const (
	StoreBackend_Memory   StoreBackend = "memory"
	StoreBackend_Postgres StoreBackend = "postgres"
)

type Config struct {
	LogLevel  string
	LogFormat string

	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	Store    StoreBackend
	Postgres *postgres.PostgresConfig

	KafkaEnabled bool
	Kafka        *pkgkafka.KafkaConfig
	PaymentTopic string
	OrderTopic   string
	DLQTopic     string

	Idempotency idempotency.Config
	Service     application.ServiceConfig
	Gateway     gateway.ResilientConfig
	Sweeper     application.SweeperConfig
	Relay       outbox.RelayConfig

	ShutdownTimeout time.Duration
}

// Load reads envPath when present and falls back to the process environment.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			logrus.WithField("path", envPath).Debug("CONFIG:NO_ENV_FILE")
		}
	}

	encoder, err := pkgkafka.ParseEncoderType(getEnv("KAFKA_EVENT_ENCODING", string(pkgkafka.KafkaEncoder_JSON)))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		HTTPAddr:    getEnv("HTTP_ADDR", ":7576"),
		GRPCAddr:    getEnv("GRPC_ADDR", ":7577"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		Store:    StoreBackend(strings.ToLower(getEnv("STORE_BACKEND", string(StoreBackend_Memory)))),
		Postgres: postgres.NewPostgresConfig("payments"),

		KafkaEnabled: getBool("KAFKA_ENABLED", false),
		PaymentTopic: getEnv("KAFKA_PAYMENT_TOPIC", "payment-events"),
		OrderTopic:   getEnv("KAFKA_ORDER_TOPIC", "order-events"),
		DLQTopic:     getEnv("KAFKA_DLQ_TOPIC", "order-events.dlq"),

		Idempotency: idempotency.Config{
			ResultTTL: getDuration("IDEMPOTENCY_TTL", idempotency.DefaultConfig.ResultTTL),
			LockWait:  getDuration("IDEMPOTENCY_LOCK_WAIT", idempotency.DefaultConfig.LockWait),
			LockLease: getDuration("IDEMPOTENCY_LOCK_LEASE", idempotency.DefaultConfig.LockLease),
		},
		Service: application.ServiceConfig{
			ResultTTL:      getDuration("IDEMPOTENCY_TTL", application.DefaultServiceConfig.ResultTTL),
			PersistTimeout: getDuration("PERSIST_TIMEOUT", application.DefaultServiceConfig.PersistTimeout),
		},
		Sweeper: application.SweeperConfig{
			Interval:     getDuration("SWEEPER_INTERVAL", application.DefaultSweeperConfig.Interval),
			StuckAfter:   getDuration("SWEEPER_STUCK_AFTER", application.DefaultSweeperConfig.StuckAfter),
			RetryBackoff: getDuration("SWEEPER_RETRY_BACKOFF", application.DefaultSweeperConfig.RetryBackoff),
			BatchSize:    getInt("SWEEPER_BATCH_SIZE", application.DefaultSweeperConfig.BatchSize),
			Concurrency:  getInt("SWEEPER_CONCURRENCY", application.DefaultSweeperConfig.Concurrency),
		},
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	kafkaCfg := pkgkafka.NewKafkaConfig()
	kafkaCfg.Host = getEnv("KAFKA_BROKERS", kafkaCfg.Host)
	kafkaCfg.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", kafkaCfg.ConsumerGroup)
	kafkaCfg.ParititionAssignStrategy = getEnv("KAFKA_ASSIGN_STRATEGY", kafkaCfg.ParititionAssignStrategy)
	kafkaCfg.NumPartitions = getInt("KAFKA_PARTITIONS", kafkaCfg.NumPartitions)
	kafkaCfg.CommitInterval = getDuration("KAFKA_COMMIT_INTERVAL", kafkaCfg.CommitInterval)
	kafkaCfg.Encoder = pkgkafka.EncoderConfig{
		EncoderType: encoder,
		AvroSchemas: outbox.AvroSchemas(cfg.PaymentTopic, cfg.OrderTopic, cfg.DLQTopic),
	}
	cfg.Kafka = kafkaCfg

	cfg.Relay = outbox.RelayConfig{
		Topic:     cfg.PaymentTopic,
		Interval:  getDuration("OUTBOX_INTERVAL", outbox.DefaultRelayConfig.Interval),
		BatchSize: getInt("OUTBOX_BATCH_SIZE", outbox.DefaultRelayConfig.BatchSize),
	}

	gw := gateway.DefaultResilientConfig()
	gw.Timeout = getDuration("GATEWAY_TIMEOUT", gw.Timeout)
	gw.Breaker.WindowSize = getInt("BREAKER_WINDOW", gw.Breaker.WindowSize)
	gw.Breaker.OpenTimeout = getDuration("BREAKER_OPEN_TIMEOUT", gw.Breaker.OpenTimeout)
	gw.Breaker.SlowCallThreshold = getDuration("BREAKER_SLOW_CALL", gw.Breaker.SlowCallThreshold)
	gw.Retry.MaxAttempts = getInt("RETRY_MAX_ATTEMPTS", gw.Retry.MaxAttempts)
	gw.Retry.InitialInterval = getDuration("RETRY_INITIAL_INTERVAL", gw.Retry.InitialInterval)
	gw.Limits[gateway.Operation_Charge] = resilience.Limit{Events: getInt("RATE_LIMIT_CHARGE_PER_MIN", 10), Per: time.Minute}
	gw.Limits[gateway.Operation_Refund] = resilience.Limit{Events: getInt("RATE_LIMIT_REFUND_PER_MIN", 5), Per: time.Minute}
	cfg.Gateway = gw

	if cfg.Store != StoreBackend_Memory && cfg.Store != StoreBackend_Postgres {
		logrus.WithField("store", cfg.Store).Warn("CONFIG:UNKNOWN_STORE, using memory")
		cfg.Store = StoreBackend_Memory
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logrus.WithField("key", key).Warnf("CONFIG:INVALID_DURATION %v", err)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithField("key", key).Warnf("CONFIG:INVALID_INT %v", err)
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
