package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/internal/api"
	"github.com/rawblock/kyt-engine/internal/cache"
	"github.com/rawblock/kyt-engine/internal/config"
	"github.com/rawblock/kyt-engine/internal/provider"
	"github.com/rawblock/kyt-engine/internal/risk"
	"github.com/rawblock/kyt-engine/internal/tracer"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("FATAL: logger init failed: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	logger.Infow("starting kyt engine", "cacheBackend", cfg.CacheBackend, "listen", cfg.ListenAddr)

	ctx := context.Background()

	backend, err := buildCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("cache init failed", "backend", cfg.CacheBackend, "error", err)
	}
	defer backend.Close()

	prov := buildProviders(cfg, logger)
	defer prov.Close()

	scorer := risk.NewScorer(cfg.TagWeights, cfg.ProximityDecay)

	tr := tracer.New(prov, backend, scorer, tracer.Config{
		Concurrency:  cfg.TracerConcurrency,
		BatchCap:     cfg.TracerBatchCap,
		MaxAddresses: cfg.TracerMaxAddresses,
		MaxDepth:     cfg.TracerMaxDepth,
		CacheTTL:     cfg.CacheTTL,
	}, logger)

	hub := api.NewHub(logger)
	go hub.Run()

	r := api.SetupRouter(tr, prov, backend, hub, logger)

	logger.Infow("engine running", "addr", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Fatalw("server stopped", "error", err)
	}
}

func buildCache(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case "redis":
		return cache.NewRedis(ctx, cfg.RedisURL)
	case "sql":
		return cache.NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return cache.NewMemory(cfg.CacheTTL / 4), nil
	}
}

// buildProviders assembles the provider stack: Blockchair for every chain,
// a Bitcoin Core node in front of it for bitcoin when configured, each behind
// its own circuit breaker, all routed by a multi-provider.
func buildProviders(cfg *config.Config, logger *zap.SugaredLogger) provider.BlockchainProvider {
	breakerCfg := provider.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	}

	var providers []provider.BlockchainProvider

	if cfg.BitcoinRPCHost != "" {
		btc, err := provider.NewBitcoinCore(provider.BitcoinCoreConfig{
			Host: cfg.BitcoinRPCHost,
			User: cfg.BitcoinRPCUser,
			Pass: cfg.BitcoinRPCPass,
		}, logger)
		if err != nil {
			logger.Warnw("bitcoin node unavailable, falling back to blockchair for bitcoin", "error", err)
		} else {
			providers = append(providers, provider.NewBreaker(btc, breakerCfg, logger))
		}
	}

	blockchair := provider.NewBlockchair(provider.BlockchairConfig{
		APIKey:            cfg.BlockchairAPIKey,
		BaseURL:           cfg.BlockchairBaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		Timeout:           cfg.ProviderTimeout,
	}, logger)
	providers = append(providers, provider.NewBreaker(blockchair, breakerCfg, logger))

	return provider.NewMulti(providers, logger)
}
