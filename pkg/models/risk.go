package models

import "time"

// RiskTag is an externally supplied categorical label on an address.
// The set is closed; unknown provider labels map to TagUnknown.
type RiskTag string

const (
	TagMixer              RiskTag = "mixer"
	TagDarknet            RiskTag = "darknet"
	TagHack               RiskTag = "hack"
	TagSanctioned         RiskTag = "sanctioned"
	TagRansomware         RiskTag = "ransomware"
	TagTerroristFinancing RiskTag = "terrorist_financing"
	TagScam               RiskTag = "scam"
	TagGambling           RiskTag = "gambling"
	TagExchange           RiskTag = "exchange"
	TagWhale              RiskTag = "whale"
	TagUnknown            RiskTag = "unknown"
)

// DefaultTagWeights is the scoring weight per tag. Exchange attribution is a
// negative weight: proximity to a regulated off-ramp reduces risk.
func DefaultTagWeights() map[RiskTag]float64 {
	return map[RiskTag]float64{
		TagMixer:              1.0,
		TagDarknet:            1.0,
		TagSanctioned:         1.0,
		TagRansomware:         1.0,
		TagTerroristFinancing: 1.0,
		TagHack:               0.9,
		TagScam:               0.8,
		TagGambling:           0.4,
		TagExchange:           -0.2,
		TagWhale:              0.0,
		TagUnknown:            0.0,
	}
}

// definitiveTags are tags whose presence is sufficient evidence on its own:
// the backward walk stops at the address, deeper ancestry adds nothing.
var definitiveTags = map[RiskTag]struct{}{
	TagExchange:   {},
	TagWhale:      {},
	TagHack:       {},
	TagMixer:      {},
	TagDarknet:    {},
	TagSanctioned: {},
}

// HasDefinitiveTag reports whether any tag in the list stops further
// backward expansion.
func HasDefinitiveTag(tags []RiskTag) bool {
	for _, tag := range tags {
		if _, ok := definitiveTags[tag]; ok {
			return true
		}
	}
	return false
}

// RiskLevel buckets a 0-100 score.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelHigh   RiskLevel = "HIGH"
)

// RiskScore is the scorer output: a bounded integer score, its level, and the
// human-readable reasons that produced it.
type RiskScore struct {
	Score   int       `json:"score"`
	Level   RiskLevel `json:"level"`
	Reasons []string  `json:"reasons"`
}

// NewRiskScore clamps the score into [0, 100] and derives the level.
func NewRiskScore(score int, reasons []string) RiskScore {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	level := RiskLevelHigh
	switch {
	case score <= 30:
		level = RiskLevelLow
	case score <= 70:
		level = RiskLevelMedium
	}
	if reasons == nil {
		reasons = []string{}
	}
	return RiskScore{Score: score, Level: level, Reasons: reasons}
}

// FlaggedEntity is an address the trace found carrying risk tags.
// Distance 0 means the address funded the root transaction directly.
type FlaggedEntity struct {
	Address      string    `json:"address"`
	Chain        string    `json:"chain"`
	Tags         []RiskTag `json:"tags"`
	Distance     int       `json:"distance"`
	ViaTx        string    `json:"viaTx,omitempty"`
	Contribution float64   `json:"contribution"`
}

// RiskReport is the complete analysis result for one (chain, tx, depth).
type RiskReport struct {
	TxID              string          `json:"txid"`
	Chain             string          `json:"chain"`
	AnalyzedAt        time.Time       `json:"analyzedAt"`
	TraceDepth        int             `json:"traceDepth"`
	TotalAddresses    int             `json:"totalAddresses"`
	TotalTransactions int             `json:"totalTransactions"`
	RiskScore         RiskScore       `json:"riskScore"`
	Flagged           []FlaggedEntity `json:"flagged"`
	APICallsUsed      int             `json:"apiCallsUsed"`
}

// HasHighRiskEntities reports whether any flagged entity carries a tag that
// by itself warrants escalation.
func (r *RiskReport) HasHighRiskEntities() bool {
	for _, e := range r.Flagged {
		for _, tag := range e.Tags {
			switch tag {
			case TagMixer, TagDarknet, TagHack, TagSanctioned:
				return true
			}
		}
	}
	return false
}
