package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChainKind classifies how a blockchain accounts for value.
type ChainKind string

const (
	// ChainKindUTXO covers chains where inputs reference prior outputs (Bitcoin family).
	ChainKindUTXO ChainKind = "utxo"
	// ChainKindAccount covers balance-model chains (EVM and friends).
	ChainKindAccount ChainKind = "account"
)

// TxInput represents a transaction input on a UTXO chain.
type TxInput struct {
	Address string          `json:"address"`
	Value   decimal.Decimal `json:"value"`
	// PrevTxID is the hash of the transaction whose output this input spends.
	// Providers must populate it with the real upstream hash, never an
	// internal row id, or backward expansion silently dead-ends.
	PrevTxID        string `json:"prevTxid,omitempty"`
	PrevOutputIndex *int   `json:"prevOutputIndex,omitempty"`
}

// TxOutput represents a transaction output on a UTXO chain.
type TxOutput struct {
	Address     string          `json:"address"`
	Value       decimal.Decimal `json:"value"`
	OutputIndex int             `json:"outputIndex"`
}

// InternalTx represents a sub-call inside a contract-executing transaction
// on an account-model chain.
type InternalTx struct {
	FromAddress string          `json:"fromAddress"`
	ToAddress   string          `json:"toAddress"`
	Value       decimal.Decimal `json:"value"`
	CallType    string          `json:"callType"`
	TraceIndex  int             `json:"traceIndex"`
}

// Transaction is the normalized transaction record. It carries both the UTXO
// and the account shape; Kind says which half is authoritative.
type Transaction struct {
	TxID        string     `json:"txid"`
	Chain       string     `json:"chain"`
	Kind        ChainKind  `json:"kind"`
	BlockHeight *int64     `json:"blockHeight,omitempty"`
	BlockTime   *time.Time `json:"blockTime,omitempty"`

	Fee  decimal.Decimal `json:"fee"`
	Size *int            `json:"size,omitempty"`

	// UTXO shape
	Inputs  []TxInput  `json:"inputs,omitempty"`
	Outputs []TxOutput `json:"outputs,omitempty"`

	// Account shape
	Sender         string           `json:"sender,omitempty"`
	Recipient      string           `json:"recipient,omitempty"`
	Value          decimal.Decimal  `json:"value"`
	GasUsed        *int64           `json:"gasUsed,omitempty"`
	GasPrice       *decimal.Decimal `json:"gasPrice,omitempty"`
	Nonce          *int64           `json:"nonce,omitempty"`
	IsContractCall bool             `json:"isContractCall"`
	Internals      []InternalTx     `json:"internals,omitempty"`

	// Raw provider payload, kept for audit trails.
	Raw map[string]any `json:"raw,omitempty"`
}

// SourceAddresses returns every address that funded this transaction:
// input addresses for UTXO chains, the sender plus distinct internal-call
// senders for account chains.
func (t *Transaction) SourceAddresses() []string {
	if t.Kind == ChainKindUTXO {
		addrs := make([]string, 0, len(t.Inputs))
		for _, in := range t.Inputs {
			if in.Address != "" {
				addrs = append(addrs, in.Address)
			}
		}
		return addrs
	}

	var addrs []string
	seen := make(map[string]struct{})
	if t.Sender != "" {
		addrs = append(addrs, t.Sender)
		seen[t.Sender] = struct{}{}
	}
	for _, itx := range t.Internals {
		if itx.FromAddress == "" {
			continue
		}
		if _, ok := seen[itx.FromAddress]; ok {
			continue
		}
		seen[itx.FromAddress] = struct{}{}
		addrs = append(addrs, itx.FromAddress)
	}
	return addrs
}
