// Package chains holds the static registry of supported blockchains.
package chains

import (
	"sort"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// Config describes a supported blockchain network.
type Config struct {
	Slug           string           `json:"slug"`
	Name           string           `json:"name"`
	Kind           models.ChainKind `json:"kind"`
	Symbol         string           `json:"symbol"`
	HasInternalTxs bool             `json:"hasInternalTxs"`
	// Decimals converts provider base units into whole coins.
	Decimals int32 `json:"decimals"`
}

func utxo(slug, name, symbol string) Config {
	return Config{Slug: slug, Name: name, Kind: models.ChainKindUTXO, Symbol: symbol, Decimals: 8}
}

func evm(slug, name, symbol string) Config {
	return Config{Slug: slug, Name: name, Kind: models.ChainKindAccount, Symbol: symbol, HasInternalTxs: true, Decimals: 18}
}

func account(slug, name, symbol string, decimals int32) Config {
	return Config{Slug: slug, Name: name, Kind: models.ChainKindAccount, Symbol: symbol, Decimals: decimals}
}

var registry = map[string]Config{
	// UTXO chains
	"bitcoin":      utxo("bitcoin", "Bitcoin", "BTC"),
	"bitcoin-cash": utxo("bitcoin-cash", "Bitcoin Cash", "BCH"),
	"litecoin":     utxo("litecoin", "Litecoin", "LTC"),
	"dogecoin":     utxo("dogecoin", "Dogecoin", "DOGE"),
	"dash":         utxo("dash", "Dash", "DASH"),
	"zcash":        utxo("zcash", "Zcash", "ZEC"),
	"bitcoin-sv":   utxo("bitcoin-sv", "Bitcoin SV", "BSV"),
	"groestlcoin":  utxo("groestlcoin", "Groestlcoin", "GRS"),
	"ecash":        utxo("ecash", "eCash", "XEC"),

	// EVM chains
	"ethereum":            evm("ethereum", "Ethereum", "ETH"),
	"binance-smart-chain": evm("binance-smart-chain", "BNB Smart Chain", "BNB"),
	"polygon":             evm("polygon", "Polygon", "MATIC"),
	"arbitrum":            evm("arbitrum", "Arbitrum", "ETH"),
	"optimism":            evm("optimism", "Optimism", "ETH"),
	"avalanche":           evm("avalanche", "Avalanche", "AVAX"),
	"fantom":              evm("fantom", "Fantom", "FTM"),
	"gnosis":              evm("gnosis", "Gnosis", "xDAI"),
	"base":                evm("base", "Base", "ETH"),
	"moonbeam":            evm("moonbeam", "Moonbeam", "GLMR"),
	"moonriver":           evm("moonriver", "Moonriver", "MOVR"),
	"cronos":              evm("cronos", "Cronos", "CRO"),
	"aurora":              evm("aurora", "Aurora", "ETH"),
	"celo":                evm("celo", "Celo", "CELO"),
	"klaytn":              evm("klaytn", "Klaytn", "KLAY"),
	"harmony":             evm("harmony", "Harmony", "ONE"),
	"boba":                evm("boba", "Boba", "ETH"),
	"metis":               evm("metis", "Metis", "METIS"),
	"zksync":              evm("zksync", "zkSync Era", "ETH"),
	"scroll":              evm("scroll", "Scroll", "ETH"),
	"linea":               evm("linea", "Linea", "ETH"),
	"mantle":              evm("mantle", "Mantle", "MNT"),
	"manta":               evm("manta", "Manta Pacific", "ETH"),
	"blast":               evm("blast", "Blast", "ETH"),

	// Account chains without internal-tx support
	"cardano":  account("cardano", "Cardano", "ADA", 6),
	"solana":   account("solana", "Solana", "SOL", 9),
	"tron":     account("tron", "Tron", "TRX", 6),
	"ripple":   account("ripple", "Ripple", "XRP", 6),
	"stellar":  account("stellar", "Stellar", "XLM", 7),
	"tezos":    account("tezos", "Tezos", "XTZ", 6),
	"cosmos":   account("cosmos", "Cosmos", "ATOM", 6),
	"polkadot": account("polkadot", "Polkadot", "DOT", 10),
	"kusama":   account("kusama", "Kusama", "KSM", 12),
}

// Get returns the configuration for a chain slug.
func Get(slug string) (Config, bool) {
	cfg, ok := registry[slug]
	return cfg, ok
}

// IsSupported reports whether the slug names a registered chain.
func IsSupported(slug string) bool {
	_, ok := registry[slug]
	return ok
}

// Supported returns all registered chain configs sorted by slug.
func Supported() []Config {
	out := make([]Config, 0, len(registry))
	for _, cfg := range registry {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}
