package tracer

import (
	"time"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// buildReport assembles the final report from a state snapshot. The snapshot
// already carries flagged entities in canonical order (closest first, then by
// descending contribution).
func buildReport(chain, txID string, depth int, snap StateSnapshot, score models.RiskScore) *models.RiskReport {
	flagged := snap.Flagged
	if flagged == nil {
		flagged = []models.FlaggedEntity{}
	}

	return &models.RiskReport{
		TxID:              txID,
		Chain:             chain,
		AnalyzedAt:        time.Now().UTC(),
		TraceDepth:        depth,
		TotalAddresses:    snap.TotalAddresses,
		TotalTransactions: snap.TotalTransactions,
		RiskScore:         score,
		Flagged:           flagged,
		APICallsUsed:      snap.APICalls,
	}
}
