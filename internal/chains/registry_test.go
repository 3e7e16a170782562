package chains

import (
	"sort"
	"testing"

	"github.com/rawblock/kyt-engine/pkg/models"
)

func TestGet(t *testing.T) {
	tests := []struct {
		slug     string
		ok       bool
		kind     models.ChainKind
		decimals int32
		internal bool
	}{
		{"bitcoin", true, models.ChainKindUTXO, 8, false},
		{"litecoin", true, models.ChainKindUTXO, 8, false},
		{"ethereum", true, models.ChainKindAccount, 18, true},
		{"arbitrum", true, models.ChainKindAccount, 18, true},
		{"tron", true, models.ChainKindAccount, 6, false},
		{"solana", true, models.ChainKindAccount, 9, false},
		{"kusama", true, models.ChainKindAccount, 12, false},
		{"namecoin", false, "", 0, false},
		{"", false, "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			cfg, ok := Get(tt.slug)
			if ok != tt.ok {
				t.Fatalf("Get(%q) ok = %v, want %v", tt.slug, ok, tt.ok)
			}
			if !ok {
				return
			}
			if cfg.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", cfg.Kind, tt.kind)
			}
			if cfg.Decimals != tt.decimals {
				t.Errorf("Decimals = %d, want %d", cfg.Decimals, tt.decimals)
			}
			if cfg.HasInternalTxs != tt.internal {
				t.Errorf("HasInternalTxs = %v, want %v", cfg.HasInternalTxs, tt.internal)
			}
		})
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported("bitcoin") {
		t.Error("bitcoin must be supported")
	}
	if IsSupported("BITCOIN") {
		t.Error("slugs are lowercase only")
	}
	if IsSupported("monero") {
		t.Error("unregistered chain reported as supported")
	}
}

func TestSupported(t *testing.T) {
	all := Supported()
	if len(all) != 42 {
		t.Errorf("expected 42 registered chains, got %d", len(all))
	}
	if !sort.SliceIsSorted(all, func(i, j int) bool { return all[i].Slug < all[j].Slug }) {
		t.Error("Supported() must be sorted by slug")
	}
	for _, cfg := range all {
		if cfg.Slug == "" || cfg.Name == "" || cfg.Symbol == "" {
			t.Errorf("incomplete config: %+v", cfg)
		}
		if cfg.Kind == models.ChainKindUTXO && cfg.Decimals != 8 {
			t.Errorf("%s: UTXO chains carry 8 decimals, got %d", cfg.Slug, cfg.Decimals)
		}
		if cfg.HasInternalTxs && cfg.Kind != models.ChainKindAccount {
			t.Errorf("%s: internal txs on a non-account chain", cfg.Slug)
		}
	}
}
