package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// Multi routes each call to the preferred provider for the chain and falls
// back to the next candidate when the preferred one fails for transport
// reasons. Not-found answers are final: a second provider cannot conjure a
// transaction the chain does not have.
type Multi struct {
	routes   map[string][]BlockchainProvider
	registry []BlockchainProvider
	log      *zap.SugaredLogger
}

// NewMulti builds a router. Providers earlier in the list win ties for the
// chains they both support.
func NewMulti(providers []BlockchainProvider, log *zap.SugaredLogger) *Multi {
	routes := make(map[string][]BlockchainProvider)
	for _, p := range providers {
		for _, chain := range p.SupportedChains() {
			routes[chain] = append(routes[chain], p)
		}
	}
	return &Multi{routes: routes, registry: providers, log: log}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) SupportedChains() []string {
	slugs := make([]string, 0, len(m.routes))
	for chain := range m.routes {
		slugs = append(slugs, chain)
	}
	sort.Strings(slugs)
	return slugs
}

func (m *Multi) candidates(chain string) ([]BlockchainProvider, error) {
	ps := m.routes[chain]
	if len(ps) == 0 {
		return nil, &UnsupportedChainError{Chain: chain}
	}
	return ps, nil
}

// final reports whether an error should not be retried on another provider.
func final(err error) bool {
	var notFound *TxNotFoundError
	var addrNotFound *AddressNotFoundError
	var unsupported *UnsupportedChainError
	return errors.As(err, &notFound) ||
		errors.As(err, &addrNotFound) ||
		errors.As(err, &unsupported) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func fallthru[T any](ctx context.Context, m *Multi, chain, op string,
	call func(BlockchainProvider) (T, error)) (T, error) {
	var zero T
	ps, err := m.candidates(chain)
	if err != nil {
		return zero, err
	}
	var lastErr error
	for i, p := range ps {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := call(p)
		if err == nil {
			return out, nil
		}
		if final(err) {
			return zero, err
		}
		lastErr = err
		if i < len(ps)-1 {
			m.log.Warnw("provider failed, trying fallback",
				"op", op, "chain", chain, "provider", p.Name(), "error", err)
		}
	}
	return zero, lastErr
}

func (m *Multi) GetTransaction(ctx context.Context, chain, txID string) (*models.Transaction, error) {
	return fallthru(ctx, m, chain, "getTransaction", func(p BlockchainProvider) (*models.Transaction, error) {
		return p.GetTransaction(ctx, chain, txID)
	})
}

func (m *Multi) GetTransactionInputs(ctx context.Context, chain, txID string) ([]InputRef, error) {
	return fallthru(ctx, m, chain, "getTransactionInputs", func(p BlockchainProvider) ([]InputRef, error) {
		return p.GetTransactionInputs(ctx, chain, txID)
	})
}

func (m *Multi) GetInternalTransactions(ctx context.Context, chain, txID string) ([]models.InternalTx, error) {
	return fallthru(ctx, m, chain, "getInternalTransactions", func(p BlockchainProvider) ([]models.InternalTx, error) {
		return p.GetInternalTransactions(ctx, chain, txID)
	})
}

func (m *Multi) GetAddressMetadata(ctx context.Context, chain, address string) (*models.AddressMetadata, error) {
	return fallthru(ctx, m, chain, "getAddressMetadata", func(p BlockchainProvider) (*models.AddressMetadata, error) {
		return p.GetAddressMetadata(ctx, chain, address)
	})
}

func (m *Multi) IsContract(ctx context.Context, chain, address string) (bool, error) {
	return fallthru(ctx, m, chain, "isContract", func(p BlockchainProvider) (bool, error) {
		return p.IsContract(ctx, chain, address)
	})
}

// HealthCheck succeeds when every registered provider answers.
func (m *Multi) HealthCheck(ctx context.Context) error {
	for _, p := range m.registry {
		if err := p.HealthCheck(ctx); err != nil {
			return fmt.Errorf("provider %s unhealthy: %w", p.Name(), err)
		}
	}
	return nil
}

func (m *Multi) Close() error {
	var firstErr error
	for _, p := range m.registry {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
