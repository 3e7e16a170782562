// Package cache provides the read-through cache used by the tracer: address
// metadata, normalized transactions, and finished risk reports, all stored as
// JSON under a fixed key grammar.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// keyPrefix namespaces every cache key so backends can be shared.
const keyPrefix = "kyt"

// Backend is the capability a cache store must provide. Values are opaque
// byte slices (JSON at every call site). Implementations must be safe for
// concurrent use.
type Backend interface {
	// Get returns the value and whether the key was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the value with a time-to-live. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Clear removes every key sharing the given prefix.
	Clear(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}

// Prefix returns the namespace every key produced by this package starts with.
func Prefix() string { return keyPrefix }

// AddressKey builds the cache key for address metadata.
func AddressKey(chain, address string) string {
	return fmt.Sprintf("%s:address:%s:%s", keyPrefix, chain, strings.ToLower(address))
}

// TransactionKey builds the cache key for a normalized transaction.
func TransactionKey(chain, txID string) string {
	return fmt.Sprintf("%s:tx:%s:%s", keyPrefix, chain, strings.ToLower(txID))
}

// RiskKey builds the cache key for a finished risk report. Depth is part of
// the identity: the same transaction traced deeper is a different result.
func RiskKey(chain, txID string, depth int) string {
	return fmt.Sprintf("%s:risk:%s:%s:%d", keyPrefix, chain, strings.ToLower(txID), depth)
}
