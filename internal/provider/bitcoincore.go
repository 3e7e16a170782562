package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// BitcoinCore serves the bitcoin chain from a Bitcoin Core node over JSON-RPC.
// It is authoritative where Blockchair is best-effort: input provenance comes
// straight from vin[].txid, so backward expansion never dead-ends on an
// attribution gap. Requires txindex=1 on the node.
type BitcoinCore struct {
	rpc *rpcclient.Client
	log *zap.SugaredLogger
}

// BitcoinCoreConfig holds node connection settings.
type BitcoinCoreConfig struct {
	Host string
	User string
	Pass string
}

// NewBitcoinCore connects to the node and verifies the connection.
func NewBitcoinCore(cfg BitcoinCoreConfig, log *zap.SugaredLogger) (*BitcoinCore, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true, // Bitcoin Core only supports HTTP POST mode
		DisableTLS:   true,
	}
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoin rpc connect: %w", err)
	}
	height, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, fmt.Errorf("bitcoin rpc verify: %w", err)
	}
	log.Infow("connected to bitcoin node", "height", height)
	return &BitcoinCore{rpc: client, log: log}, nil
}

func (b *BitcoinCore) Name() string { return "bitcoin-core" }

func (b *BitcoinCore) SupportedChains() []string { return []string{"bitcoin"} }

func (b *BitcoinCore) fetchVerbose(txID string) (*btcjson.TxRawResult, error) {
	hash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return nil, &TxNotFoundError{TxID: txID, Chain: "bitcoin"}
	}
	raw, err := b.rpc.GetRawTransactionVerbose(hash)
	if err != nil {
		if isRPCNoTxInfo(err) {
			return nil, &TxNotFoundError{TxID: txID, Chain: "bitcoin"}
		}
		return nil, &TransportError{Provider: b.Name(), Err: err}
	}
	return raw, nil
}

// GetTransaction fetches a transaction and resolves each input's address and
// value by looking up the spent output in its funding transaction.
func (b *BitcoinCore) GetTransaction(ctx context.Context, chain, txID string) (*models.Transaction, error) {
	if strings.ToLower(chain) != "bitcoin" {
		return nil, &UnsupportedChainError{Chain: chain}
	}
	raw, err := b.fetchVerbose(txID)
	if err != nil {
		return nil, err
	}

	inputs := make([]models.TxInput, 0, len(raw.Vin))
	var inputSum decimal.Decimal
	for _, vin := range raw.Vin {
		if vin.IsCoinBase() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev, err := b.fetchVerbose(vin.Txid)
		if err != nil {
			b.log.Warnw("prevout lookup failed", "txid", txID, "prev", vin.Txid, "error", err)
			continue
		}
		if int(vin.Vout) >= len(prev.Vout) {
			continue
		}
		out := prev.Vout[vin.Vout]
		value := decimal.NewFromFloat(out.Value)
		inputSum = inputSum.Add(value)
		idx := int(vin.Vout)
		inputs = append(inputs, models.TxInput{
			Address:         scriptAddress(out.ScriptPubKey),
			Value:           value,
			PrevTxID:        vin.Txid,
			PrevOutputIndex: &idx,
		})
	}

	outputs := make([]models.TxOutput, 0, len(raw.Vout))
	var outputSum decimal.Decimal
	for _, vout := range raw.Vout {
		value := decimal.NewFromFloat(vout.Value)
		outputSum = outputSum.Add(value)
		outputs = append(outputs, models.TxOutput{
			Address:     scriptAddress(vout.ScriptPubKey),
			Value:       value,
			OutputIndex: int(vout.N),
		})
	}

	var fee decimal.Decimal
	if len(inputs) > 0 && inputSum.GreaterThan(outputSum) {
		fee = inputSum.Sub(outputSum)
	}

	tx := &models.Transaction{
		TxID:    txID,
		Chain:   "bitcoin",
		Kind:    models.ChainKindUTXO,
		Fee:     fee,
		Inputs:  inputs,
		Outputs: outputs,
	}
	if raw.Size > 0 {
		size := int(raw.Size)
		tx.Size = &size
	}
	if raw.Blocktime > 0 {
		t := time.Unix(raw.Blocktime, 0).UTC()
		tx.BlockTime = &t
	}
	return tx, nil
}

// GetTransactionInputs returns funding edges straight from vin[].txid.
func (b *BitcoinCore) GetTransactionInputs(ctx context.Context, chain, txID string) ([]InputRef, error) {
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

// GetInternalTransactions is empty by definition on a UTXO chain.
func (b *BitcoinCore) GetInternalTransactions(context.Context, string, string) ([]models.InternalTx, error) {
	return nil, nil
}

// GetAddressMetadata validates the address and returns bare metadata. A plain
// node carries no attribution data; tags come from other providers.
func (b *BitcoinCore) GetAddressMetadata(_ context.Context, chain, address string) (*models.AddressMetadata, error) {
	if strings.ToLower(chain) != "bitcoin" {
		return nil, &UnsupportedChainError{Chain: chain}
	}
	if _, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams); err != nil {
		return nil, &AddressNotFoundError{Address: address, Chain: "bitcoin"}
	}
	return &models.AddressMetadata{Address: address, Chain: "bitcoin"}, nil
}

// IsContract is always false on bitcoin.
func (b *BitcoinCore) IsContract(context.Context, string, string) (bool, error) {
	return false, nil
}

// HealthCheck verifies the node answers.
func (b *BitcoinCore) HealthCheck(context.Context) error {
	if _, err := b.rpc.GetBlockCount(); err != nil {
		return &TransportError{Provider: b.Name(), Err: err}
	}
	return nil
}

func (b *BitcoinCore) Close() error {
	b.rpc.Shutdown()
	return nil
}

func scriptAddress(script btcjson.ScriptPubKeyResult) string {
	if script.Address != "" {
		return script.Address
	}
	if len(script.Addresses) > 0 {
		return script.Addresses[0]
	}
	return ""
}

func isRPCNoTxInfo(err error) bool {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == btcjson.ErrRPCNoTxInfo || rpcErr.Code == btcjson.ErrRPCInvalidAddressOrKey
	}
	return false
}
