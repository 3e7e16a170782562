package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/internal/chains"
	"github.com/rawblock/kyt-engine/pkg/models"
)

// Blockchair serves every registered chain through the Blockchair dashboards
// API, normalizing UTXO and account transactions into the shared model.
type Blockchair struct {
	apiKey  string
	baseURL string
	http    *httpClient
	log     *zap.SugaredLogger
}

// BlockchairConfig tunes the Blockchair provider.
type BlockchairConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	MaxRetries        int
	RetryDelay        time.Duration
	Timeout           time.Duration
}

// NewBlockchair builds a Blockchair provider. The API key is optional but
// raises the upstream rate allowance.
func NewBlockchair(cfg BlockchairConfig, log *zap.SugaredLogger) *Blockchair {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.blockchair.com"
	}
	return &Blockchair{
		apiKey:  cfg.APIKey,
		baseURL: base,
		http: newHTTPClient(httpClientConfig{
			Provider:          "blockchair",
			RequestsPerSecond: cfg.RequestsPerSecond,
			MaxRetries:        cfg.MaxRetries,
			RetryDelay:        cfg.RetryDelay,
			Timeout:           cfg.Timeout,
		}),
		log: log,
	}
}

func (b *Blockchair) Name() string { return "blockchair" }

func (b *Blockchair) SupportedChains() []string {
	cfgs := chains.Supported()
	slugs := make([]string, len(cfgs))
	for i, cfg := range cfgs {
		slugs[i] = cfg.Slug
	}
	return slugs
}

func (b *Blockchair) params() url.Values {
	v := url.Values{}
	if b.apiKey != "" {
		v.Set("key", b.apiKey)
	}
	return v
}

// Wire shapes for the dashboards endpoints. Only the fields the normalizer
// reads are declared; everything else rides along in the raw maps.

type bcTxEnvelope struct {
	Data map[string]bcTxRecord `json:"data"`
}

type bcTxRecord struct {
	Transaction bcTxInfo `json:"transaction"`
	Inputs      []bcTxIO `json:"inputs"`
	Outputs     []bcTxIO `json:"outputs"`
	Calls       []bcCall `json:"calls"`
}

type bcTxInfo struct {
	BlockID   *int64      `json:"block_id"`
	Time      string      `json:"time"`
	Fee       json.Number `json:"fee"`
	Size      *int        `json:"size"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Value     json.Number `json:"value"`
	GasUsed   *int64      `json:"gas_used"`
	GasPrice  json.Number `json:"gas_price"`
	Nonce     *int64      `json:"nonce"`
	InputHex  string      `json:"input_hex"`
}

type bcTxIO struct {
	Recipient string      `json:"recipient"`
	Value     json.Number `json:"value"`
	// TransactionHash on an input record is the hash of the transaction that
	// created the spent output, i.e. the real upstream predecessor. The
	// spending_* fields describe the spending side and must not be used as a
	// predecessor id.
	TransactionHash string `json:"transaction_hash"`
	Index           *int   `json:"index"`
}

type bcCall struct {
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Value     json.Number `json:"value"`
	CallType  string      `json:"call_type"`
}

type bcAddrEnvelope struct {
	Data map[string]json.RawMessage `json:"data"`
}

type bcAddrInfo struct {
	Address bcAddrObject `json:"address"`
	Labels  []string     `json:"labels"`
	Tags    []string     `json:"tags"`
	Name    string       `json:"name"`
	Entity  string       `json:"entity"`
	Owner   string       `json:"owner"`
}

type bcAddrObject struct {
	Type               string      `json:"type"`
	Balance            json.Number `json:"balance"`
	TransactionCount   int         `json:"transaction_count"`
	FirstSeenReceiving string      `json:"first_seen_receiving"`
	LastSeenReceiving  string      `json:"last_seen_receiving"`
	Label              string      `json:"label"`
	Name               string      `json:"name"`
	Entity             string      `json:"entity"`
}

// GetTransaction fetches and normalizes one transaction.
func (b *Blockchair) GetTransaction(ctx context.Context, chain, txID string) (*models.Transaction, error) {
	cfg, ok := chains.Get(strings.ToLower(chain))
	if !ok {
		return nil, &UnsupportedChainError{Chain: chain}
	}

	var env bcTxEnvelope
	path := fmt.Sprintf("%s/%s/dashboards/transaction/%s", b.baseURL, cfg.Slug, txID)
	if err := b.http.getJSON(ctx, path, b.params(), &env); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, &TxNotFoundError{TxID: txID, Chain: chain}
		}
		return nil, err
	}

	rec, ok := lookupRecord(env.Data, txID)
	if !ok {
		return nil, &TxNotFoundError{TxID: txID, Chain: chain}
	}

	if cfg.Kind == models.ChainKindUTXO {
		return b.parseUTXOTx(txID, cfg, rec), nil
	}
	return b.parseAccountTx(txID, cfg, rec), nil
}

func lookupRecord(data map[string]bcTxRecord, txID string) (bcTxRecord, bool) {
	if rec, ok := data[txID]; ok {
		return rec, true
	}
	lower := strings.ToLower(txID)
	for key, rec := range data {
		if strings.ToLower(key) == lower {
			return rec, true
		}
	}
	return bcTxRecord{}, false
}

func (b *Blockchair) parseUTXOTx(txID string, cfg chains.Config, rec bcTxRecord) *models.Transaction {
	inputs := make([]models.TxInput, 0, len(rec.Inputs))
	for _, in := range rec.Inputs {
		inputs = append(inputs, models.TxInput{
			Address:         in.Recipient,
			Value:           baseUnits(in.Value, cfg.Decimals),
			PrevTxID:        in.TransactionHash,
			PrevOutputIndex: in.Index,
		})
	}
	outputs := make([]models.TxOutput, 0, len(rec.Outputs))
	for idx, out := range rec.Outputs {
		outputs = append(outputs, models.TxOutput{
			Address:     out.Recipient,
			Value:       baseUnits(out.Value, cfg.Decimals),
			OutputIndex: idx,
		})
	}
	return &models.Transaction{
		TxID:        txID,
		Chain:       cfg.Slug,
		Kind:        models.ChainKindUTXO,
		BlockHeight: rec.Transaction.BlockID,
		BlockTime:   parseBlockTime(rec.Transaction.Time),
		Fee:         baseUnits(rec.Transaction.Fee, cfg.Decimals),
		Size:        rec.Transaction.Size,
		Inputs:      inputs,
		Outputs:     outputs,
	}
}

func (b *Blockchair) parseAccountTx(txID string, cfg chains.Config, rec bcTxRecord) *models.Transaction {
	internals := make([]models.InternalTx, 0, len(rec.Calls))
	for idx, call := range rec.Calls {
		callType := call.CallType
		if callType == "" {
			callType = "call"
		}
		internals = append(internals, models.InternalTx{
			FromAddress: call.Sender,
			ToAddress:   call.Recipient,
			Value:       baseUnits(call.Value, cfg.Decimals),
			CallType:    callType,
			TraceIndex:  idx,
		})
	}

	var gasPrice *decimal.Decimal
	if rec.Transaction.GasPrice != "" && rec.Transaction.GasPrice != "0" {
		// Gas prices are quoted in gwei regardless of the chain's value decimals.
		gp := baseUnits(rec.Transaction.GasPrice, 9)
		gasPrice = &gp
	}

	isContract := rec.Transaction.InputHex != "" && rec.Transaction.InputHex != "0x"

	return &models.Transaction{
		TxID:           txID,
		Chain:          cfg.Slug,
		Kind:           models.ChainKindAccount,
		BlockHeight:    rec.Transaction.BlockID,
		BlockTime:      parseBlockTime(rec.Transaction.Time),
		Fee:            baseUnits(rec.Transaction.Fee, cfg.Decimals),
		Sender:         rec.Transaction.Sender,
		Recipient:      rec.Transaction.Recipient,
		Value:          baseUnits(rec.Transaction.Value, cfg.Decimals),
		GasUsed:        rec.Transaction.GasUsed,
		GasPrice:       gasPrice,
		Nonce:          rec.Transaction.Nonce,
		IsContractCall: isContract,
		Internals:      internals,
	}
}

// GetTransactionInputs returns funding edges for a UTXO transaction. Inputs
// without an upstream hash are skipped rather than guessed.
func (b *Blockchair) GetTransactionInputs(ctx context.Context, chain, txID string) ([]InputRef, error) {
	cfg, ok := chains.Get(strings.ToLower(chain))
	if !ok {
		return nil, &UnsupportedChainError{Chain: chain}
	}
	if cfg.Kind != models.ChainKindUTXO {
		return nil, nil
	}
	tx, err := b.GetTransaction(ctx, chain, txID)
	if err != nil {
		return nil, err
	}
	refs := make([]InputRef, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if in.Address != "" && in.PrevTxID != "" {
			refs = append(refs, InputRef{Address: in.Address, PrevTxID: in.PrevTxID})
		}
	}
	return refs, nil
}

// GetInternalTransactions returns sub-calls for chains that expose them.
func (b *Blockchair) GetInternalTransactions(ctx context.Context, chain, txID string) ([]models.InternalTx, error) {
	cfg, ok := chains.Get(strings.ToLower(chain))
	if !ok {
		return nil, &UnsupportedChainError{Chain: chain}
	}
	if !cfg.HasInternalTxs {
		return nil, nil
	}
	tx, err := b.GetTransaction(ctx, chain, txID)
	if err != nil {
		return nil, err
	}
	return tx.Internals, nil
}

// GetAddressMetadata fetches attribution data. An address Blockchair has
// never seen comes back as empty metadata, not an error: the trace keeps
// walking even when one hop has no history.
func (b *Blockchair) GetAddressMetadata(ctx context.Context, chain, address string) (*models.AddressMetadata, error) {
	cfg, ok := chains.Get(strings.ToLower(chain))
	if !ok {
		return nil, &UnsupportedChainError{Chain: chain}
	}

	var env bcAddrEnvelope
	path := fmt.Sprintf("%s/%s/dashboards/address/%s", b.baseURL, cfg.Slug, address)
	if err := b.http.getJSON(ctx, path, b.params(), &env); err != nil {
		if errors.Is(err, errNotFound) {
			return &models.AddressMetadata{Address: address, Chain: cfg.Slug}, nil
		}
		return nil, err
	}

	raw, ok := env.Data[address]
	if !ok {
		raw, ok = env.Data[strings.ToLower(address)]
	}
	if !ok {
		for _, v := range env.Data {
			raw = v
			ok = true
			break
		}
	}
	if !ok {
		return &models.AddressMetadata{Address: address, Chain: cfg.Slug}, nil
	}

	var info bcAddrInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		b.log.Warnw("unparseable address payload", "chain", cfg.Slug, "address", address, "error", err)
		return &models.AddressMetadata{Address: address, Chain: cfg.Slug}, nil
	}

	var rawContext map[string]any
	_ = json.Unmarshal(raw, &rawContext)

	return &models.AddressMetadata{
		Address:    address,
		Chain:      cfg.Slug,
		Tags:       ExtractTags(attributionStrings(info)),
		Labels:     collectLabels(info),
		Balance:    baseUnits(info.Address.Balance, cfg.Decimals),
		TxCount:    info.Address.TransactionCount,
		FirstSeen:  parseBlockTime(info.Address.FirstSeenReceiving),
		LastSeen:   parseBlockTime(info.Address.LastSeenReceiving),
		IsContract: info.Address.Type == "contract",
		Context:    rawContext,
	}, nil
}

func attributionStrings(info bcAddrInfo) []string {
	values := []string{info.Name, info.Entity, info.Owner,
		info.Address.Label, info.Address.Name, info.Address.Entity}
	values = append(values, info.Labels...)
	values = append(values, info.Tags...)
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func collectLabels(info bcAddrInfo) []string {
	var labels []string
	seen := make(map[string]struct{})
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		labels = append(labels, v)
	}
	for _, v := range info.Labels {
		add(v)
	}
	add(info.Name)
	add(info.Entity)
	add(info.Owner)
	add(info.Address.Label)
	add(info.Address.Name)
	add(info.Address.Entity)
	return labels
}

// IsContract reports whether the address is a smart contract.
func (b *Blockchair) IsContract(ctx context.Context, chain, address string) (bool, error) {
	cfg, ok := chains.Get(strings.ToLower(chain))
	if !ok {
		return false, &UnsupportedChainError{Chain: chain}
	}
	if cfg.Kind == models.ChainKindUTXO {
		return false, nil
	}
	meta, err := b.GetAddressMetadata(ctx, chain, address)
	if err != nil {
		return false, err
	}
	return meta.IsContract, nil
}

// HealthCheck probes the stats endpoint for the flagship chain.
func (b *Blockchair) HealthCheck(ctx context.Context) error {
	var out map[string]any
	return b.http.getJSON(ctx, b.baseURL+"/bitcoin/stats", b.params(), &out)
}

func (b *Blockchair) Close() error { return nil }

// baseUnits converts an integer base-unit quantity into whole coins.
func baseUnits(n json.Number, decimals int32) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-decimals)
}

func parseBlockTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
