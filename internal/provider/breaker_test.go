package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// stubProvider fails or succeeds on demand.
type stubProvider struct {
	err   error
	calls int
}

func (s *stubProvider) Name() string              { return "stub" }
func (s *stubProvider) SupportedChains() []string { return []string{"bitcoin"} }

func (s *stubProvider) GetTransaction(context.Context, string, string) (*models.Transaction, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &models.Transaction{TxID: "ok"}, nil
}

func (s *stubProvider) GetTransactionInputs(context.Context, string, string) ([]InputRef, error) {
	return nil, nil
}

func (s *stubProvider) GetInternalTransactions(context.Context, string, string) ([]models.InternalTx, error) {
	return nil, nil
}

func (s *stubProvider) GetAddressMetadata(context.Context, string, string) (*models.AddressMetadata, error) {
	return &models.AddressMetadata{}, nil
}

func (s *stubProvider) IsContract(context.Context, string, string) (bool, error) { return false, nil }
func (s *stubProvider) HealthCheck(context.Context) error                        { return s.err }
func (s *stubProvider) Close() error                                             { return nil }

func newTestBreaker(stub *stubProvider, cfg BreakerConfig) *Breaker {
	return NewBreaker(stub, cfg, zap.NewNop().Sugar())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	stub := &stubProvider{err: &TransportError{Provider: "stub", Err: errors.New("down")}}
	b := newTestBreaker(stub, BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.GetTransaction(ctx, "bitcoin", "tx"); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	_, err := b.GetTransaction(ctx, "bitcoin", "tx")
	var open *BreakerOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected BreakerOpenError after threshold, got %v", err)
	}
	if stub.calls != 3 {
		t.Errorf("open circuit must fail fast, provider saw %d calls", stub.calls)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	stub := &stubProvider{err: &TransportError{Provider: "stub", Err: errors.New("down")}}
	b := newTestBreaker(stub, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	b.GetTransaction(ctx, "bitcoin", "tx") // trips
	time.Sleep(20 * time.Millisecond)

	stub.err = nil
	if _, err := b.GetTransaction(ctx, "bitcoin", "tx"); err != nil {
		t.Fatalf("half-open probe should pass through: %v", err)
	}
	// Circuit is closed again: calls flow.
	if _, err := b.GetTransaction(ctx, "bitcoin", "tx"); err != nil {
		t.Fatalf("closed circuit rejected a call: %v", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	stub := &stubProvider{err: &TransportError{Provider: "stub", Err: errors.New("down")}}
	b := newTestBreaker(stub, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	b.GetTransaction(ctx, "bitcoin", "tx") // trips
	time.Sleep(20 * time.Millisecond)

	// Probe fails: one failure in half-open re-opens immediately.
	b.GetTransaction(ctx, "bitcoin", "tx")

	_, err := b.GetTransaction(ctx, "bitcoin", "tx")
	var open *BreakerOpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected re-opened circuit, got %v", err)
	}
}

func TestBreakerDomainErrorsDoNotTrip(t *testing.T) {
	stub := &stubProvider{err: &TxNotFoundError{TxID: "tx", Chain: "bitcoin"}}
	b := newTestBreaker(stub, BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.GetTransaction(ctx, "bitcoin", "tx")
		var notFound *TxNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("call %d: not-found must pass through untouched, got %v", i, err)
		}
	}
	if stub.calls != 5 {
		t.Errorf("domain errors tripped the circuit, provider saw %d calls", stub.calls)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	stub := &stubProvider{err: &TransportError{Provider: "stub", Err: errors.New("down")}}
	b := newTestBreaker(stub, BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	b.GetTransaction(ctx, "bitcoin", "tx") // failure 1
	stub.err = nil
	b.GetTransaction(ctx, "bitcoin", "tx") // success resets
	stub.err = &TransportError{Provider: "stub", Err: errors.New("down")}
	b.GetTransaction(ctx, "bitcoin", "tx") // failure 1 again

	_, err := b.GetTransaction(ctx, "bitcoin", "tx")
	var open *BreakerOpenError
	if errors.As(err, &open) {
		t.Fatal("circuit tripped below threshold after a reset")
	}
}
