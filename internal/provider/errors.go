package provider

import (
	"fmt"
	"time"
)

// TxNotFoundError reports a transaction the chain has never seen.
type TxNotFoundError struct {
	TxID  string
	Chain string
}

func (e *TxNotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found on %s", e.TxID, e.Chain)
}

// AddressNotFoundError reports an address with no on-chain activity.
type AddressNotFoundError struct {
	Address string
	Chain   string
}

func (e *AddressNotFoundError) Error() string {
	return fmt.Sprintf("address %s not found on %s", e.Address, e.Chain)
}

// UnsupportedChainError reports a chain slug outside the registry.
type UnsupportedChainError struct {
	Chain string
}

func (e *UnsupportedChainError) Error() string {
	return fmt.Sprintf("unsupported blockchain: %s", e.Chain)
}

// RateLimitedError reports an exhausted retry budget against a 429 response.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// TimeoutError reports a request that exceeded the provider deadline on
// every attempt.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout for %s after %s", e.Provider, e.Timeout)
}

// TransportError wraps any other transport or upstream failure.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BreakerOpenError reports a call rejected by an open circuit breaker.
type BreakerOpenError struct {
	Provider string
	Until    time.Time
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Provider, e.Until.Format(time.RFC3339))
}
