// Package config reads engine settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// Config is everything the engine reads from the environment.
type Config struct {
	ListenAddr string

	// Cache
	CacheBackend string // memory | sql | redis
	CacheTTL     time.Duration
	PostgresDSN  string
	RedisURL     string

	// Providers
	BlockchairAPIKey  string
	BlockchairBaseURL string
	RequestsPerSecond float64
	MaxRetries        int
	RetryDelay        time.Duration
	ProviderTimeout   time.Duration

	BitcoinRPCHost string
	BitcoinRPCUser string
	BitcoinRPCPass string

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	// Tracer
	TracerConcurrency  int
	TracerBatchCap     int
	TracerMaxAddresses int
	TracerMaxDepth     int

	// Scorer
	ProximityDecay float64
	TagWeights     map[models.RiskTag]float64
}

// FromEnv builds the configuration from environment variables, applying
// defaults for anything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:              envString("LISTEN_ADDR", ":8080"),
		CacheBackend:            strings.ToLower(envString("CACHE_BACKEND", "memory")),
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		RedisURL:                envString("REDIS_URL", "redis://localhost:6379/0"),
		BlockchairAPIKey:        os.Getenv("BLOCKCHAIR_API_KEY"),
		BlockchairBaseURL:       envString("BLOCKCHAIR_BASE_URL", "https://api.blockchair.com"),
		BitcoinRPCHost:          os.Getenv("BITCOIN_RPC_HOST"),
		BitcoinRPCUser:          os.Getenv("BITCOIN_RPC_USER"),
		BitcoinRPCPass:          os.Getenv("BITCOIN_RPC_PASS"),
		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
	}

	cfg.CacheTTL = time.Duration(envInt("CACHE_TTL_SECONDS", 86400)) * time.Second
	cfg.RequestsPerSecond = envFloat("PROVIDER_REQUESTS_PER_SECOND", 10)
	cfg.MaxRetries = envInt("PROVIDER_MAX_RETRIES", 3)
	cfg.RetryDelay = time.Duration(envFloat("PROVIDER_RETRY_DELAY_SECONDS", 1) * float64(time.Second))
	cfg.ProviderTimeout = time.Duration(envFloat("PROVIDER_TIMEOUT_SECONDS", 30) * float64(time.Second))
	cfg.BreakerRecoveryTimeout = time.Duration(envInt("BREAKER_RECOVERY_SECONDS", 30)) * time.Second

	cfg.TracerConcurrency = envInt("TRACER_CONCURRENCY", 5)
	cfg.TracerBatchCap = envInt("TRACER_BATCH_CAP", 20)
	cfg.TracerMaxAddresses = envInt("TRACER_MAX_ADDRESSES", 1000)
	cfg.TracerMaxDepth = envInt("TRACER_MAX_DEPTH", 10)

	cfg.ProximityDecay = envFloat("SCORER_PROXIMITY_DECAY", 0.5)

	weights, err := parseTagWeights(os.Getenv("SCORER_TAG_WEIGHTS"))
	if err != nil {
		return nil, err
	}
	cfg.TagWeights = weights

	switch cfg.CacheBackend {
	case "memory", "redis":
	case "sql":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("CACHE_BACKEND=sql requires POSTGRES_DSN")
		}
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}

	return cfg, nil
}

// parseTagWeights parses "tag=weight,tag=weight" overrides on top of the
// default weight table. Empty input keeps the defaults.
func parseTagWeights(raw string) (map[models.RiskTag]float64, error) {
	weights := models.DefaultTagWeights()
	if strings.TrimSpace(raw) == "" {
		return weights, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed SCORER_TAG_WEIGHTS entry %q", pair)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed SCORER_TAG_WEIGHTS entry %q: %w", pair, err)
		}
		weights[models.RiskTag(strings.TrimSpace(parts[0]))] = weight
	}
	return weights, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
