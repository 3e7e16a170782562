// Package provider abstracts blockchain data sources behind one capability
// set and supplies the concrete Blockchair and Bitcoin Core implementations,
// a per-chain router, and a circuit breaker.
package provider

import (
	"context"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// BlockchainProvider is the data-source capability the tracer depends on.
// All blocking methods honor context cancellation.
type BlockchainProvider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// SupportedChains lists the chain slugs this provider can serve.
	SupportedChains() []string

	// GetTransaction fetches and normalizes one transaction.
	GetTransaction(ctx context.Context, chain, txID string) (*models.Transaction, error)

	// GetTransactionInputs returns (address, prevTxID) pairs for a UTXO
	// transaction's inputs. prevTxID must be the upstream transaction hash,
	// never a provider-internal row id. Empty for account chains.
	GetTransactionInputs(ctx context.Context, chain, txID string) ([]InputRef, error)

	// GetInternalTransactions returns sub-calls for chains that expose them;
	// empty for chains without internal-tx support.
	GetInternalTransactions(ctx context.Context, chain, txID string) ([]models.InternalTx, error)

	// GetAddressMetadata fetches attribution and activity data for an address.
	GetAddressMetadata(ctx context.Context, chain, address string) (*models.AddressMetadata, error)

	// IsContract reports whether the address is a smart contract. Always
	// false on UTXO chains.
	IsContract(ctx context.Context, chain, address string) (bool, error)

	// HealthCheck verifies the upstream is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// InputRef is one funding edge of a UTXO transaction.
type InputRef struct {
	Address  string
	PrevTxID string
}
