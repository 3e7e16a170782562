package risk

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/kyt-engine/pkg/models"
)

func newTestScorer() *Scorer {
	return NewScorer(nil, 0)
}

func metaWith(addr string, txCount int, balance int64, contract bool) *models.AddressMetadata {
	return &models.AddressMetadata{
		Address:    addr,
		Chain:      "ethereum",
		TxCount:    txCount,
		Balance:    decimal.NewFromInt(balance),
		IsContract: contract,
	}
}

func TestEntityContribution(t *testing.T) {
	s := newTestScorer()
	tests := []struct {
		name     string
		tags     []models.RiskTag
		distance int
		expected float64
	}{
		{"MixerAtZero", []models.RiskTag{models.TagMixer}, 0, 100},
		{"MixerAtOne", []models.RiskTag{models.TagMixer}, 1, 50},
		{"MixerAtTwo", []models.RiskTag{models.TagMixer}, 2, 25},
		{"StrongestTagWins", []models.RiskTag{models.TagGambling, models.TagHack}, 0, 90},
		{"ExchangeNegative", []models.RiskTag{models.TagExchange}, 0, -20},
		{"NoTags", nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.EntityContribution(tt.tags, tt.distance)
			if math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("EntityContribution() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCalculateDirectMixerHit(t *testing.T) {
	s := newTestScorer()
	score := s.Calculate(Inputs{
		Flagged: []models.FlaggedEntity{{
			Address:      "0xMixerAddr123",
			Chain:        "ethereum",
			Tags:         []models.RiskTag{models.TagMixer},
			Distance:     0,
			Contribution: 100,
		}},
		AddrMeta: map[string]*models.AddressMetadata{},
		Now:      time.Now(),
	})

	// Base 1.0 * 0.5^0 * 50 = 50, explicit mixer pattern +40.
	if score.Score != 90 {
		t.Fatalf("expected score 90, got %d", score.Score)
	}
	if score.Level != models.RiskLevelHigh {
		t.Errorf("expected HIGH, got %s", score.Level)
	}
	foundMixer := false
	for _, r := range score.Reasons {
		if strings.Contains(r, "explicit_mixer") {
			foundMixer = true
		}
	}
	if !foundMixer {
		t.Errorf("expected an explicit_mixer reason, got %v", score.Reasons)
	}
}

func TestCalculateExchangeCushion(t *testing.T) {
	s := newTestScorer()
	score := s.Calculate(Inputs{
		Flagged: []models.FlaggedEntity{{
			Address:  "0xExchangeAddr1",
			Chain:    "ethereum",
			Tags:     []models.RiskTag{models.TagExchange},
			Distance: 0,
		}},
		Now: time.Now(),
	})

	// Base -0.2*50 = -10, proximity bonus -0.2*100 = -20, clamped to 0.
	if score.Score != 0 {
		t.Fatalf("expected score 0, got %d", score.Score)
	}
	if score.Level != models.RiskLevelLow {
		t.Errorf("expected LOW, got %s", score.Level)
	}
	foundExchange := false
	for _, r := range score.Reasons {
		if strings.Contains(r, "exchange") {
			foundExchange = true
		}
	}
	if !foundExchange {
		t.Errorf("expected a reason mentioning the exchange, got %v", score.Reasons)
	}
}

func TestCalculateCircularOnly(t *testing.T) {
	s := newTestScorer()
	score := s.Calculate(Inputs{
		Circular: [][]string{{"a", "b", "c", "a"}},
		Now:      time.Now(),
	})

	if score.Score != 10 {
		t.Fatalf("expected score 10 for a single cycle, got %d", score.Score)
	}
	if score.Reasons[0] != "No suspicious entities detected" {
		t.Errorf("expected the no-entities reason first, got %v", score.Reasons)
	}
}

func TestCircularPenaltyCaps(t *testing.T) {
	s := newTestScorer()
	score := s.Calculate(Inputs{
		Circular: [][]string{{"a", "b", "a"}, {"c", "d", "c"}, {"e", "f", "e"}},
		Now:      time.Now(),
	})
	if score.Score != 20 {
		t.Errorf("expected circular penalty capped at 20, got %d", score.Score)
	}
}

func TestVelocityBoundary(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("ExactlyOneHourGapIsCalm", func(t *testing.T) {
		_, fired := velocityAnomaly(map[string]time.Time{
			"tx1": base,
			"tx2": base.Add(time.Hour),
		})
		if fired {
			t.Error("avg gap of exactly 3600s must not trigger the anomaly")
		}
	})

	t.Run("UnderOneHourFires", func(t *testing.T) {
		score, fired := velocityAnomaly(map[string]time.Time{
			"tx1": base,
			"tx2": base.Add(30 * time.Minute),
		})
		if !fired {
			t.Fatal("avg gap under 3600s must trigger the anomaly")
		}
		if score <= 0 || score > 30 {
			t.Errorf("velocity score out of range: %v", score)
		}
	})

	t.Run("RapidMovementCapsAtThirty", func(t *testing.T) {
		score, fired := velocityAnomaly(map[string]time.Time{
			"tx1": base,
			"tx2": base.Add(time.Second),
		})
		if !fired || score != 30 {
			t.Errorf("expected capped score 30, got %v (fired=%v)", score, fired)
		}
	})

	t.Run("SingleTimestampNeverFires", func(t *testing.T) {
		if _, fired := velocityAnomaly(map[string]time.Time{"tx1": base}); fired {
			t.Error("one timestamp cannot have a velocity")
		}
	})
}

func TestMixerPatternExclusivity(t *testing.T) {
	flaggedMixer := []models.FlaggedEntity{{
		Address: "0xM", Tags: []models.RiskTag{models.TagMixer},
	}}
	withContract := map[string]*models.AddressMetadata{
		"0xc": metaWith("0xC", 100, 0, true),
	}
	fiveAddrs := map[string]*models.AddressMetadata{
		"a1": metaWith("a1", 5, 0, false),
		"a2": metaWith("a2", 5, 0, false),
		"a3": metaWith("a3", 5, 0, false),
		"a4": metaWith("a4", 5, 0, false),
		"a5": metaWith("a5", 5, 0, false),
	}

	tests := []struct {
		name       string
		flagged    []models.FlaggedEntity
		addrMeta   map[string]*models.AddressMetadata
		clustering float64
		wantScore  float64
		wantType   string
	}{
		{"ExplicitWinsOverEverything", flaggedMixer, withContract, 0.9, 40, "explicit_mixer"},
		{"TornadoPattern", nil, withContract, 0.6, 30, "tornado_cash_pattern"},
		{"TornadoBelowThreshold", nil, withContract, 0.5, 0, ""},
		{"GenericPattern", nil, fiveAddrs, 0.7, 25, "generic_mixer_pattern"},
		{"GenericNeedsFiveAddresses", nil, withContract, 0.7, 30, "tornado_cash_pattern"},
		{"NothingMatches", nil, nil, 0.4, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, pattern, fired := mixerPattern(tt.flagged, tt.addrMeta, tt.clustering)
			if score != tt.wantScore || pattern != tt.wantType {
				t.Errorf("mixerPattern() = (%v, %q, %v), want (%v, %q)",
					score, pattern, fired, tt.wantScore, tt.wantType)
			}
		})
	}
}

func TestDistanceDecayMonotonicity(t *testing.T) {
	s := newTestScorer()
	prev := math.Inf(1)
	for d := 0; d <= 4; d++ {
		score := s.Calculate(Inputs{
			Flagged: []models.FlaggedEntity{{
				Address: "0xHacker1234", Tags: []models.RiskTag{models.TagHack}, Distance: d,
			}},
			Now: time.Now(),
		})
		if float64(score.Score) >= prev {
			t.Fatalf("score at distance %d (%d) not strictly below previous (%v)", d, score.Score, prev)
		}
		prev = float64(score.Score)
	}
}

func TestVolumeAdjustment(t *testing.T) {
	addrMeta := map[string]*models.AddressMetadata{
		"a1": metaWith("a1", 3, 5, false),   // low activity, holds value: suspicious
		"a2": metaWith("a2", 50, 10, false), // active wallet
		"a3": metaWith("a3", 2, 0, false),   // empty wallet
		"a4": metaWith("a4", 1, 1, false),   // suspicious
	}
	got := volumeAdjustment(addrMeta)
	want := 0.5 * 0.5 * 20 // half the wallets are suspicious
	if math.Abs(got-want) > 0.001 {
		t.Errorf("volumeAdjustment() = %v, want %v", got, want)
	}
}

func TestTemporalDecay(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("FreshActivityBarelyMoves", func(t *testing.T) {
		adj, _, ok := temporalDecay(map[string]time.Time{"tx": now.Add(-time.Hour)}, now)
		if !ok {
			t.Fatal("expected a temporal term")
		}
		if math.Abs(adj) > 0.1 {
			t.Errorf("fresh activity should contribute near zero, got %v", adj)
		}
	})

	t.Run("OldActivitySubtracts", func(t *testing.T) {
		adj, ageDays, ok := temporalDecay(map[string]time.Time{"tx": now.AddDate(-2, 0, 0)}, now)
		if !ok {
			t.Fatal("expected a temporal term")
		}
		if adj >= -8 {
			t.Errorf("two-year-old activity should subtract close to 10, got %v", adj)
		}
		if ageDays < 729 || ageDays > 731 {
			t.Errorf("unexpected age: %d days", ageDays)
		}
	})

	t.Run("NoTimestampsNoTerm", func(t *testing.T) {
		if _, _, ok := temporalDecay(nil, now); ok {
			t.Error("no timestamps must produce no temporal term")
		}
	})
}

func TestCalculateDeterminism(t *testing.T) {
	s := newTestScorer()
	in := Inputs{
		Flagged: []models.FlaggedEntity{
			{Address: "0xA", Tags: []models.RiskTag{models.TagScam}, Distance: 1},
			{Address: "0xB", Tags: []models.RiskTag{models.TagGambling}, Distance: 2},
		},
		AddrMeta: map[string]*models.AddressMetadata{
			"0xa": metaWith("0xA", 2, 1, false),
			"0xb": metaWith("0xB", 200, 1, false),
		},
		TxTimestamps: map[string]time.Time{
			"tx1": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			"tx2": time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC),
		},
		Adjacency: map[string]map[string]bool{
			"0xa": {"0xb": true, "0xc": true},
			"0xb": {"0xc": true},
		},
		Circular: [][]string{{"0xa", "0xb", "0xa"}},
		Now:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	first := s.Calculate(in)
	for i := 0; i < 20; i++ {
		again := s.Calculate(in)
		if again.Score != first.Score || again.Level != first.Level {
			t.Fatalf("score drifted across runs: %v vs %v", again, first)
		}
		if len(again.Reasons) != len(first.Reasons) {
			t.Fatalf("reason count drifted: %v vs %v", again.Reasons, first.Reasons)
		}
		for j := range again.Reasons {
			if again.Reasons[j] != first.Reasons[j] {
				t.Fatalf("reason order drifted at %d: %q vs %q", j, again.Reasons[j], first.Reasons[j])
			}
		}
	}
}

func TestEntityDeduplicationFirstWins(t *testing.T) {
	s := newTestScorer()
	score := s.Calculate(Inputs{
		Flagged: []models.FlaggedEntity{
			{Address: "0xSameAddr99", Tags: []models.RiskTag{models.TagGambling}, Distance: 0},
			{Address: "0xsameaddr99", Tags: []models.RiskTag{models.TagGambling}, Distance: 0},
		},
		Now: time.Now(),
	})
	// One gambling entity at distance 0: 0.4*50 = 20. A double count would give 40.
	if score.Score != 20 {
		t.Errorf("expected dedup to 20, got %d", score.Score)
	}
}

func TestScoreBounds(t *testing.T) {
	s := newTestScorer()
	flagged := make([]models.FlaggedEntity, 0, 10)
	for _, addr := range []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9"} {
		flagged = append(flagged, models.FlaggedEntity{
			Address: addr, Tags: []models.RiskTag{models.TagSanctioned, models.TagDarknet}, Distance: 0,
		})
	}
	score := s.Calculate(Inputs{Flagged: flagged, Now: time.Now()})
	if score.Score != 100 {
		t.Errorf("expected clamp at 100, got %d", score.Score)
	}
	if score.Level != models.RiskLevelHigh {
		t.Errorf("expected HIGH, got %s", score.Level)
	}
}
