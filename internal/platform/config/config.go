package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "relaymart/pkg/platform/strings"
)

// Materializer captures runtime configuration for the materialization
// service. Values come from the environment so main stays lean; components
// receive typed sub-structs at construction, never global state.
type Materializer struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	BootstrapDays int
	RunInterval   time.Duration

	// TrackedColumns lists the snapshot attributes whose changes open a new
	// history version. Empty is a startup-fatal configuration error: it
	// would silently produce an always-open history.
	TrackedColumns []string

	// CloseDeletedHistory controls the hard-delete policy: when true, the
	// open history record of a parcel that disappears from the source is
	// closed with no replacement; when false it is retained open.
	CloseDeletedHistory bool

	SnapshotCacheTTL time.Duration
}

// FromEnv builds a Materializer config from environment variables.
func FromEnv() Materializer {
	cfg := Materializer{
		Addr:                getEnv("RELAYMART_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("RELAYMART_DATABASE_URL"),
		RedisURL:            os.Getenv("RELAYMART_REDIS_URL"),
		KafkaTopic:          getEnv("RELAYMART_KAFKA_TOPIC", "parcel-events"),
		KafkaGroup:          getEnv("RELAYMART_KAFKA_GROUP", "relaymart-loader"),
		BootstrapDays:       getEnvInt("RELAYMART_BOOTSTRAP_DAYS", 7),
		RunInterval:         getEnvDuration("RELAYMART_RUN_INTERVAL", 5*time.Minute),
		CloseDeletedHistory: getEnv("RELAYMART_HISTORY_DELETE_POLICY", "close") != "retain",
		SnapshotCacheTTL:    getEnvDuration("RELAYMART_SNAPSHOT_CACHE_TTL", 5*time.Minute),
	}

	if brokers := os.Getenv("RELAYMART_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = platformstrings.DedupeAndTrim(strings.Split(brokers, ","))
	}

	tracked := getEnv("RELAYMART_HISTORY_TRACKED_COLUMNS",
		"status,route_id,courier_id,last_depot_id,predicted_delivery_ts")
	cfg.TrackedColumns = platformstrings.DedupeAndTrim(strings.Split(tracked, ","))

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
