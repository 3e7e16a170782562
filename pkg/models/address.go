package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AddressMetadata holds everything the risk pipeline knows about an address:
// attribution tags, free-form labels, and basic activity statistics.
type AddressMetadata struct {
	Address    string          `json:"address"`
	Chain      string          `json:"chain"`
	Tags       []RiskTag       `json:"tags,omitempty"`
	Labels     []string        `json:"labels,omitempty"`
	Balance    decimal.Decimal `json:"balance"`
	TxCount    int             `json:"txCount"`
	FirstSeen  *time.Time      `json:"firstSeen,omitempty"`
	LastSeen   *time.Time      `json:"lastSeen,omitempty"`
	IsContract bool            `json:"isContract"`
	Context    map[string]any  `json:"context,omitempty"`
}

// IsHighRisk reports whether the address carries any tag that by itself
// warrants escalation.
func (m *AddressMetadata) IsHighRisk() bool {
	for _, tag := range m.Tags {
		switch tag {
		case TagMixer, TagDarknet, TagHack, TagSanctioned, TagRansomware, TagTerroristFinancing:
			return true
		}
	}
	return false
}

// IsExchange reports whether the address is attributed to an exchange.
func (m *AddressMetadata) IsExchange() bool {
	for _, tag := range m.Tags {
		if tag == TagExchange {
			return true
		}
	}
	return false
}
