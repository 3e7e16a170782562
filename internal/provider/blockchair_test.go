package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/pkg/models"
)

func newTestBlockchair(baseURL string) *Blockchair {
	return NewBlockchair(BlockchairConfig{
		BaseURL:           baseURL,
		RequestsPerSecond: 1000,
		MaxRetries:        3,
		RetryDelay:        time.Millisecond,
		Timeout:           time.Second,
	}, zap.NewNop().Sugar())
}

func TestBlockchairUTXOTransaction(t *testing.T) {
	const payload = `{"data":{"aabbccddee":{
		"transaction":{"block_id":840000,"time":"2024-04-20 01:02:03","fee":"5000","size":250},
		"inputs":[
			{"recipient":"bc1qalice","value":"100000000","transaction_hash":"ffeeddccbb","index":1}
		],
		"outputs":[
			{"recipient":"bc1qbob","value":"99995000"}
		]}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bitcoin/dashboards/transaction/aabbccddee" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	b := newTestBlockchair(srv.URL)
	tx, err := b.GetTransaction(context.Background(), "bitcoin", "aabbccddee")
	if err != nil {
		t.Fatalf("GetTransaction() error: %v", err)
	}

	if tx.Kind != models.ChainKindUTXO {
		t.Errorf("Kind = %s", tx.Kind)
	}
	if len(tx.Inputs) != 1 {
		t.Fatalf("expected 1 input, got %d", len(tx.Inputs))
	}
	in := tx.Inputs[0]
	if in.Address != "bc1qalice" {
		t.Errorf("input address = %s", in.Address)
	}
	// The upstream predecessor is the hash of the transaction that created the
	// spent output.
	if in.PrevTxID != "ffeeddccbb" {
		t.Errorf("PrevTxID = %s, want ffeeddccbb", in.PrevTxID)
	}
	if in.PrevOutputIndex == nil || *in.PrevOutputIndex != 1 {
		t.Errorf("PrevOutputIndex = %v", in.PrevOutputIndex)
	}
	if !in.Value.Equal(decimal.RequireFromString("1")) {
		t.Errorf("input value = %s, want 1 BTC", in.Value)
	}
	if !tx.Fee.Equal(decimal.RequireFromString("0.00005")) {
		t.Errorf("fee = %s, want 0.00005", tx.Fee)
	}
	if tx.BlockTime == nil || tx.BlockTime.Year() != 2024 {
		t.Errorf("BlockTime = %v", tx.BlockTime)
	}
	if tx.BlockHeight == nil || *tx.BlockHeight != 840000 {
		t.Errorf("BlockHeight = %v", tx.BlockHeight)
	}
}

func TestBlockchairAccountTransaction(t *testing.T) {
	const payload = `{"data":{"0xdeadbeef01":{
		"transaction":{
			"block_id":19000000,"time":"2024-01-15 10:00:00","fee":"420000000000000",
			"sender":"0xSenderAddr","recipient":"0xTokenContract",
			"value":"1000000000000000000","gas_used":52000,"gas_price":"20000000000",
			"nonce":7,"input_hex":"0xa9059cbb"
		},
		"calls":[
			{"sender":"0xTokenContract","recipient":"0xTreasury","value":"0","call_type":"delegatecall"}
		]}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	b := newTestBlockchair(srv.URL)
	tx, err := b.GetTransaction(context.Background(), "ethereum", "0xdeadbeef01")
	if err != nil {
		t.Fatalf("GetTransaction() error: %v", err)
	}

	if tx.Kind != models.ChainKindAccount {
		t.Errorf("Kind = %s", tx.Kind)
	}
	if tx.Sender != "0xSenderAddr" || tx.Recipient != "0xTokenContract" {
		t.Errorf("parties = %s -> %s", tx.Sender, tx.Recipient)
	}
	if !tx.Value.Equal(decimal.RequireFromString("1")) {
		t.Errorf("value = %s, want 1 ETH", tx.Value)
	}
	if tx.GasPrice == nil || !tx.GasPrice.Equal(decimal.RequireFromString("20")) {
		t.Errorf("gas price = %v, want 20 gwei", tx.GasPrice)
	}
	if !tx.IsContractCall {
		t.Error("non-empty input_hex must mark a contract call")
	}
	if len(tx.Internals) != 1 || tx.Internals[0].FromAddress != "0xTokenContract" {
		t.Errorf("internals = %+v", tx.Internals)
	}
	if tx.Internals[0].CallType != "delegatecall" {
		t.Errorf("call type = %s", tx.Internals[0].CallType)
	}
}

func TestBlockchairTransactionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	b := newTestBlockchair(srv.URL)
	_, err := b.GetTransaction(context.Background(), "bitcoin", "missing0000")
	var notFound *TxNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TxNotFoundError, got %v", err)
	}
}

func TestBlockchairRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := newTestBlockchair(srv.URL)
	_, err := b.GetTransaction(context.Background(), "bitcoin", "sometxhash1")
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("expected the full retry budget of 3 attempts, got %d", got)
	}
}

func TestBlockchairRetriesServerErrors(t *testing.T) {
	const payload = `{"data":{"aabbccddee":{"transaction":{"block_id":1,"fee":"0"}}}}`
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	b := newTestBlockchair(srv.URL)
	tx, err := b.GetTransaction(context.Background(), "bitcoin", "aabbccddee")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if tx.TxID != "aabbccddee" {
		t.Errorf("TxID = %s", tx.TxID)
	}
	if hits.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestBlockchairAddressMetadata(t *testing.T) {
	const payload = `{"data":{"bc1qmixer":{
		"address":{"type":"pubkeyhash","balance":"50000000","transaction_count":12,"label":"ChipMixer"},
		"labels":["mixer service"],
		"name":"ChipMixer"}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	b := newTestBlockchair(srv.URL)
	meta, err := b.GetAddressMetadata(context.Background(), "bitcoin", "bc1qmixer")
	if err != nil {
		t.Fatalf("GetAddressMetadata() error: %v", err)
	}

	if len(meta.Tags) != 1 || meta.Tags[0] != models.TagMixer {
		t.Errorf("Tags = %v, want [mixer]", meta.Tags)
	}
	if !meta.Balance.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Balance = %s, want 0.5", meta.Balance)
	}
	if meta.TxCount != 12 {
		t.Errorf("TxCount = %d", meta.TxCount)
	}
	if meta.Context == nil || meta.Context["name"] != "ChipMixer" {
		t.Errorf("Context = %v, want raw payload carried through", meta.Context)
	}
}

func TestBlockchairUnknownAddressIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	b := newTestBlockchair(srv.URL)
	meta, err := b.GetAddressMetadata(context.Background(), "bitcoin", "bc1qfresh")
	if err != nil {
		t.Fatalf("unknown address must degrade to empty metadata: %v", err)
	}
	if len(meta.Tags) != 0 || meta.TxCount != 0 {
		t.Errorf("expected empty metadata, got %+v", meta)
	}
}

func TestBlockchairUnsupportedChain(t *testing.T) {
	b := newTestBlockchair("http://127.0.0.1:0")
	_, err := b.GetTransaction(context.Background(), "namecoin", "sometxhash1")
	var unsupported *UnsupportedChainError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedChainError, got %v", err)
	}
}
