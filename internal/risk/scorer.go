// Package risk turns trace evidence into a bounded risk score. The scorer is
// a pure function: identical inputs, including the explicit reference time,
// produce identical outputs.
package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// Inputs is everything the scorer looks at. Now is passed in rather than read
// from the clock so scoring stays deterministic and testable.
type Inputs struct {
	Flagged      []models.FlaggedEntity
	AddrMeta     map[string]*models.AddressMetadata
	TraceDepth   int
	TxTimestamps map[string]time.Time
	Adjacency    map[string]map[string]bool
	Circular     [][]string
	Now          time.Time
}

// Scorer computes weighted risk scores from trace evidence.
type Scorer struct {
	weights map[models.RiskTag]float64
	decay   float64
}

// NewScorer builds a scorer. Nil weights take the defaults; decay <= 0 takes
// the standard 0.5 per-hop factor.
func NewScorer(weights map[models.RiskTag]float64, decay float64) *Scorer {
	if weights == nil {
		weights = models.DefaultTagWeights()
	}
	if decay <= 0 {
		decay = 0.5
	}
	return &Scorer{weights: weights, decay: decay}
}

func (s *Scorer) weight(tag models.RiskTag) float64 {
	return s.weights[tag]
}

// EntityContribution is the display quantity attached to each flagged entity:
// the strongest tag's weight decayed by hop distance, on a 0-100 scale.
func (s *Scorer) EntityContribution(tags []models.RiskTag, distance int) float64 {
	if len(tags) == 0 {
		return 0
	}
	maxWeight := math.Inf(-1)
	for _, tag := range tags {
		if w := s.weight(tag); w > maxWeight {
			maxWeight = w
		}
	}
	return maxWeight * math.Pow(s.decay, float64(distance)) * 100
}

// entityScore is the additive per-entity term: all tag weights summed, then
// decayed. Unlike EntityContribution this is what the final score sums.
func (s *Scorer) entityScore(e models.FlaggedEntity) float64 {
	if len(e.Tags) == 0 {
		return 0
	}
	var sum float64
	for _, tag := range e.Tags {
		sum += s.weight(tag)
	}
	return sum * math.Pow(s.decay, float64(e.Distance)) * 50
}

// Calculate produces the final risk score from trace evidence.
func (s *Scorer) Calculate(in Inputs) models.RiskScore {
	var raw float64
	var reasons []string

	if len(in.Flagged) == 0 {
		reasons = append(reasons, "No suspicious entities detected")
	}

	// Per-entity terms, deduplicated by lowercased address. First wins.
	seen := make(map[string]struct{})
	for _, entity := range in.Flagged {
		key := strings.ToLower(entity.Address)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		contribution := s.entityScore(entity)
		raw += contribution
		if contribution != 0 {
			direction := "increases"
			if contribution < 0 {
				direction = "decreases"
			}
			reasons = append(reasons, fmt.Sprintf(
				"Address %s... with tags [%s] at distance %d %s risk by %.1f",
				addressPrefix(entity.Address), joinTags(entity.Tags),
				entity.Distance, direction, math.Abs(contribution)))
		}
	}

	if bonus := s.exchangeProximityBonus(in.Flagged); bonus != 0 {
		raw += bonus
		reasons = append(reasons, fmt.Sprintf(
			"Proximity to exchange reduces risk by %.1f", math.Abs(bonus)))
	}

	if adj := volumeAdjustment(in.AddrMeta); adj != 0 {
		raw += adj
		reasons = append(reasons, fmt.Sprintf(
			"Transaction volume pattern adjustment: %+.1f", adj))
	}

	if adj, ageDays, ok := temporalDecay(in.TxTimestamps, in.Now); ok && adj != 0 {
		raw += adj
		reasons = append(reasons, fmt.Sprintf(
			"Transaction age (%dd) factor: %+.1f", ageDays, adj))
	}

	if score, ok := velocityAnomaly(in.TxTimestamps); ok {
		raw += score
		reasons = append(reasons, fmt.Sprintf(
			"High velocity detected (rapid fund movement): +%.1f", score))
	}

	clustering := ClusteringCoefficient(in.Adjacency)
	if score, pattern, ok := mixerPattern(in.Flagged, in.AddrMeta, clustering); ok {
		raw += score
		reasons = append(reasons, fmt.Sprintf(
			"Mixer pattern detected (%s): +%.1f", pattern, score))
	}

	if n := len(in.Circular); n > 0 {
		score := math.Min(20, float64(n)*10)
		raw += score
		reasons = append(reasons, fmt.Sprintf(
			"Circular transaction paths detected (%d): +%.1f", n, score))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "Risk score based on traced transaction patterns")
	}

	return models.NewRiskScore(int(math.Round(raw)), reasons)
}

// exchangeProximityBonus applies the exchange weight decayed from the closest
// exchange-tagged entity. Negative under default weights.
func (s *Scorer) exchangeProximityBonus(flagged []models.FlaggedEntity) float64 {
	minDistance := -1
	for _, e := range flagged {
		for _, tag := range e.Tags {
			if tag == models.TagExchange {
				if minDistance < 0 || e.Distance < minDistance {
					minDistance = e.Distance
				}
				break
			}
		}
	}
	if minDistance < 0 {
		return 0
	}
	return s.weight(models.TagExchange) * math.Pow(s.decay, float64(minDistance)) * 100
}

// volumeAdjustment penalizes low-activity wallets holding value: the fraction
// of such wallets, at weight 0.5 on a 20-point scale.
func volumeAdjustment(addrMeta map[string]*models.AddressMetadata) float64 {
	if len(addrMeta) == 0 {
		return 0
	}
	suspicious := 0
	for _, meta := range addrMeta {
		if meta.TxCount < 10 && meta.Balance.IsPositive() {
			suspicious++
		}
	}
	ratio := float64(suspicious) / float64(len(addrMeta))
	return ratio * 0.5 * 20
}

// temporalDecay computes (1 - exp(-age/365)) * -10 on the newest timestamp.
// The subtraction grows with age: fresh activity keeps the full score, stale
// activity sheds up to ten points.
func temporalDecay(timestamps map[string]time.Time, now time.Time) (adj float64, ageDays int, ok bool) {
	if len(timestamps) == 0 {
		return 0, 0, false
	}
	var latest time.Time
	for _, t := range timestamps {
		if t.After(latest) {
			latest = t
		}
	}
	age := now.Sub(latest).Hours() / 24
	if age < 0 {
		age = 0
	}
	factor := math.Exp(-age / 365)
	return (1 - factor) * -10, int(age), true
}

// velocityAnomaly fires when the mean gap between successive transaction
// timestamps is under an hour.
func velocityAnomaly(timestamps map[string]time.Time) (float64, bool) {
	if len(timestamps) < 2 {
		return 0, false
	}
	sorted := make([]time.Time, 0, len(timestamps))
	for _, t := range timestamps {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var total float64
	for i := 1; i < len(sorted); i++ {
		total += sorted[i].Sub(sorted[i-1]).Seconds()
	}
	avg := total / float64(len(sorted)-1)
	if avg >= 3600 {
		return 0, false
	}
	return math.Min(30, 3600/(avg+1)*5), true
}

// mixerPattern checks the three mixing signatures in priority order. The
// tornado case is intentionally aggressive: a single contract plus clustering
// above 0.5 is enough.
func mixerPattern(flagged []models.FlaggedEntity, addrMeta map[string]*models.AddressMetadata, clustering float64) (float64, string, bool) {
	for _, e := range flagged {
		for _, tag := range e.Tags {
			if tag == models.TagMixer {
				return 40, "explicit_mixer", true
			}
		}
	}

	contracts := 0
	for _, meta := range addrMeta {
		if meta.IsContract {
			contracts++
		}
	}
	if contracts >= 1 && clustering > 0.5 {
		return 30, "tornado_cash_pattern", true
	}

	if clustering > 0.6 && len(addrMeta) >= 5 {
		return 25, "generic_mixer_pattern", true
	}
	return 0, "", false
}

func addressPrefix(addr string) string {
	if len(addr) > 10 {
		return addr[:10]
	}
	return addr
}

func joinTags(tags []models.RiskTag) string {
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = string(tag)
	}
	return strings.Join(names, ", ")
}
