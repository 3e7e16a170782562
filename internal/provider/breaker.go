package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// breakerState is a tagged variant: closed carries a failure count, open
// carries its expiry, half-open carries nothing.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker wraps a provider with a circuit breaker. After FailureThreshold
// consecutive transport failures the circuit opens and calls fail fast with
// BreakerOpenError until RecoveryTimeout passes; the first call after that
// probes half-open and either closes the circuit or re-opens it.
type Breaker struct {
	inner BlockchainProvider
	log   *zap.SugaredLogger

	threshold int
	recovery  time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	until    time.Time
}

// BreakerConfig tunes the breaker. Zero values take defaults (5 failures,
// 30 s recovery).
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// NewBreaker wraps the provider.
func NewBreaker(inner BlockchainProvider, cfg BreakerConfig, log *zap.SugaredLogger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{
		inner:     inner,
		log:       log,
		threshold: cfg.FailureThreshold,
		recovery:  cfg.RecoveryTimeout,
	}
}

// allow decides whether a call may proceed, transitioning open -> half-open
// when the recovery window has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if time.Now().Before(b.until) {
			return &BreakerOpenError{Provider: b.inner.Name(), Until: b.until}
		}
		b.state = breakerHalfOpen
		return nil
	default:
		return nil
	}
}

// record updates the circuit after a call. Domain answers such as not-found
// do not count against the provider; only transport-class failures trip it.
func (b *Breaker) record(err error) {
	counts := err != nil && countsAsFailure(err)

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case !counts:
		if b.state == breakerHalfOpen && err == nil {
			b.log.Infow("circuit closed", "provider", b.inner.Name())
		}
		b.state = breakerClosed
		b.failures = 0
	case b.state == breakerHalfOpen:
		b.trip()
	default:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	}
}

// trip opens the circuit. Caller holds the lock.
func (b *Breaker) trip() {
	b.state = breakerOpen
	b.failures = 0
	b.until = time.Now().Add(b.recovery)
	b.log.Warnw("circuit opened", "provider", b.inner.Name(), "until", b.until)
}

func countsAsFailure(err error) bool {
	var notFound *TxNotFoundError
	var addrNotFound *AddressNotFoundError
	var unsupported *UnsupportedChainError
	if errors.As(err, &notFound) || errors.As(err, &addrNotFound) || errors.As(err, &unsupported) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func guard[T any](b *Breaker, call func() (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	out, err := call()
	b.record(err)
	return out, err
}

func (b *Breaker) Name() string { return b.inner.Name() }

func (b *Breaker) SupportedChains() []string { return b.inner.SupportedChains() }

func (b *Breaker) GetTransaction(ctx context.Context, chain, txID string) (*models.Transaction, error) {
	return guard(b, func() (*models.Transaction, error) {
		return b.inner.GetTransaction(ctx, chain, txID)
	})
}

func (b *Breaker) GetTransactionInputs(ctx context.Context, chain, txID string) ([]InputRef, error) {
	return guard(b, func() ([]InputRef, error) {
		return b.inner.GetTransactionInputs(ctx, chain, txID)
	})
}

func (b *Breaker) GetInternalTransactions(ctx context.Context, chain, txID string) ([]models.InternalTx, error) {
	return guard(b, func() ([]models.InternalTx, error) {
		return b.inner.GetInternalTransactions(ctx, chain, txID)
	})
}

func (b *Breaker) GetAddressMetadata(ctx context.Context, chain, address string) (*models.AddressMetadata, error) {
	return guard(b, func() (*models.AddressMetadata, error) {
		return b.inner.GetAddressMetadata(ctx, chain, address)
	})
}

func (b *Breaker) IsContract(ctx context.Context, chain, address string) (bool, error) {
	return guard(b, func() (bool, error) {
		return b.inner.IsContract(ctx, chain, address)
	})
}

func (b *Breaker) HealthCheck(ctx context.Context) error {
	_, err := guard(b, func() (struct{}, error) {
		return struct{}{}, b.inner.HealthCheck(ctx)
	})
	return err
}

func (b *Breaker) Close() error { return b.inner.Close() }
