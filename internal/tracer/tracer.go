// Package tracer walks transaction ancestry backward across chains: a
// bounded, priority-ordered BFS over the inverted fund-flow graph, collecting
// the evidence the risk scorer consumes.
package tracer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rawblock/kyt-engine/internal/cache"
	"github.com/rawblock/kyt-engine/internal/chains"
	"github.com/rawblock/kyt-engine/internal/provider"
	"github.com/rawblock/kyt-engine/internal/risk"
	"github.com/rawblock/kyt-engine/pkg/models"
)

// InvalidTransactionError reports a transaction id that failed validation or
// could not be resolved for a reason other than plain absence.
type InvalidTransactionError struct {
	TxID  string
	Chain string
	Err   error
}

func (e *InvalidTransactionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid transaction %s on %s: %v", e.TxID, e.Chain, e.Err)
	}
	return fmt.Sprintf("invalid transaction %s on %s", e.TxID, e.Chain)
}

func (e *InvalidTransactionError) Unwrap() error { return e.Err }

// Config bounds one trace run.
type Config struct {
	// Concurrency caps in-flight node processing per run.
	Concurrency int
	// BatchCap caps how many same-depth nodes one layer batch may hold.
	BatchCap int
	// MaxAddresses caps how many addresses a run may process in total.
	MaxAddresses int
	// MaxDepth caps the requested hop depth.
	MaxDepth int
	// CacheTTL applies to transactions, metadata, and finished reports.
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.BatchCap <= 0 {
		c.BatchCap = 20
	}
	if c.MaxAddresses <= 0 {
		c.MaxAddresses = 1000
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 10
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	return c
}

// Tracer runs backward provenance traces and scores the outcome.
type Tracer struct {
	provider provider.BlockchainProvider
	cache    cache.Backend
	scorer   *risk.Scorer
	cfg      Config
	sem      *semaphore.Weighted
	log      *zap.SugaredLogger
}

// New builds a tracer. Zero config fields take defaults.
func New(p provider.BlockchainProvider, c cache.Backend, s *risk.Scorer, cfg Config, log *zap.SugaredLogger) *Tracer {
	cfg = cfg.withDefaults()
	return &Tracer{
		provider: p,
		cache:    c,
		scorer:   s,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:      log,
	}
}

// Analyze traces the transaction's funding ancestry up to depth hops and
// returns the scored report. Results are cached for the configured TTL, so a
// repeated call for the same (chain, tx, depth) costs no provider traffic.
func (t *Tracer) Analyze(ctx context.Context, chain, txID string, depth int) (*models.RiskReport, error) {
	chain = strings.ToLower(chain)

	chainCfg, ok := chains.Get(chain)
	if !ok {
		return nil, &provider.UnsupportedChainError{Chain: chain}
	}
	if len(txID) < 10 {
		return nil, &InvalidTransactionError{TxID: txID, Chain: chain}
	}
	if depth < 1 || depth > t.cfg.MaxDepth {
		return nil, &InvalidTransactionError{
			TxID: txID, Chain: chain,
			Err: fmt.Errorf("depth %d out of range [1, %d]", depth, t.cfg.MaxDepth),
		}
	}

	reportKey := cache.RiskKey(chain, txID, depth)
	if data, hit, err := t.cache.Get(ctx, reportKey); err == nil && hit {
		var report models.RiskReport
		if err := json.Unmarshal(data, &report); err == nil {
			t.log.Infow("risk report cache hit", "chain", chain, "txid", txID, "depth", depth)
			return &report, nil
		}
	}

	runID := uuid.NewString()
	t.log.Infow("trace started", "run", runID, "chain", chain, "txid", txID, "depth", depth)

	state := NewState()

	root, err := t.fetchTransaction(ctx, chain, txID, state)
	if err != nil {
		var notFound *provider.TxNotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &InvalidTransactionError{TxID: txID, Chain: chain, Err: err}
	}

	// The root tx counts toward the visited set before any expansion, which
	// keeps the api-call bound tight and stops inputs from re-walking it.
	state.MarkTxVisited(chain, txID)

	f := newFrontier()
	for _, address := range root.SourceAddresses() {
		f.Push(node{txID: txID, address: address, depth: 0})
	}

	if err := t.run(ctx, chain, chainCfg, f, depth, state); err != nil {
		return nil, err
	}

	if f.Len() > 0 {
		t.log.Warnw("trace stopped at address cap",
			"run", runID, "processed", state.Processed(), "pending", f.Len())
	}

	snap := state.Snapshot()
	score := t.scorer.Calculate(risk.Inputs{
		Flagged:      snap.Flagged,
		AddrMeta:     snap.AddrMeta,
		TraceDepth:   depth,
		TxTimestamps: snap.TxTimestamps,
		Adjacency:    snap.Adjacency,
		Circular:     snap.Circular,
		Now:          time.Now().UTC(),
	})

	report := buildReport(chain, txID, depth, snap, score)

	if data, err := json.Marshal(report); err == nil {
		if err := t.cache.Set(ctx, reportKey, data, t.cfg.CacheTTL); err != nil {
			t.log.Warnw("report cache write failed", "key", reportKey, "error", err)
		}
	}

	t.log.Infow("trace finished", "run", runID,
		"score", report.RiskScore.Score, "level", report.RiskScore.Level,
		"addresses", report.TotalAddresses, "transactions", report.TotalTransactions,
		"apiCalls", report.APICallsUsed)
	return report, nil
}

// run drains the frontier layer by layer until it empties or the address cap
// is hit. Each layer batch is processed concurrently under the semaphore;
// children are collected per slot so traversal order stays deterministic.
func (t *Tracer) run(ctx context.Context, chain string, chainCfg chains.Config, f *frontier, maxDepth int, state *State) error {
	for f.Len() > 0 && state.Processed() < t.cfg.MaxAddresses {
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := t.cfg.MaxAddresses - state.Processed()
		batchCap := t.cfg.BatchCap
		if remaining < batchCap {
			batchCap = remaining
		}

		popped := f.PopBatch(batchCap)
		batch := popped[:0]
		for _, n := range popped {
			if !state.MarkAddrVisited(chain, n.address) {
				continue
			}
			state.CountProcessed()
			batch = append(batch, n)
		}
		if len(batch) == 0 {
			continue
		}

		children := make([][]node, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, n := range batch {
			g.Go(func() error {
				if err := t.sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer t.sem.Release(1)

				kids, err := t.processNode(gctx, chain, chainCfg, n, maxDepth, state)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					t.log.Warnw("node dropped", "address", n.address, "txid", n.txID,
						"depth", n.depth, "error", err)
					return nil
				}
				children[i] = kids
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, kids := range children {
			for _, child := range kids {
				if child.depth <= maxDepth {
					f.Push(child)
				}
			}
		}
	}
	return nil
}

// processNode resolves one address, flags it if tagged, and expands its
// ancestry unless a definitive tag or the depth limit stops the walk.
func (t *Tracer) processNode(ctx context.Context, chain string, chainCfg chains.Config, n node, maxDepth int, state *State) ([]node, error) {
	meta, err := t.fetchAddressMetadata(ctx, chain, n.address, state)
	if err != nil {
		return nil, err
	}

	if len(meta.Tags) > 0 {
		state.AddFlagged(models.FlaggedEntity{
			Address:      n.address,
			Chain:        chain,
			Tags:         meta.Tags,
			Distance:     n.depth,
			ViaTx:        n.txID,
			Contribution: t.scorer.EntityContribution(meta.Tags, n.depth),
		})
		if models.HasDefinitiveTag(meta.Tags) {
			return nil, nil
		}
	}

	if n.depth >= maxDepth {
		return nil, nil
	}

	if chainCfg.Kind == models.ChainKindUTXO {
		return t.expandUTXO(ctx, chain, n, state)
	}
	return t.expandAccount(ctx, chain, chainCfg, n, state)
}

// expandUTXO walks the node's address one hop up its funding history. The
// node's transaction names, for each input owned by the address, the
// transaction that created the spent output; that funding transaction's own
// input addresses are the predecessors. Both fetches go through the
// transaction cache, so each tx costs at most one provider call per TTL no
// matter how many branches of the walk touch it. Funding edges are read off
// the cached Transaction.Inputs on purpose, not via the provider's
// GetTransactionInputs, which would bypass the cache and re-pay the provider
// call for every branch.
func (t *Tracer) expandUTXO(ctx context.Context, chain string, n node, state *State) ([]node, error) {
	tx, err := t.fetchTransaction(ctx, chain, n.txID, state)
	if err != nil {
		return nil, err
	}

	path := childPath(n)
	var kids []node
	for _, in := range tx.Inputs {
		if in.PrevTxID == "" || !strings.EqualFold(in.Address, n.address) {
			continue
		}
		if !state.MarkTxVisited(chain, in.PrevTxID) {
			continue
		}
		prev, err := t.fetchTransaction(ctx, chain, in.PrevTxID, state)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.log.Warnw("funding tx unresolvable, branch dropped",
				"address", n.address, "txid", in.PrevTxID, "error", err)
			continue
		}
		for _, predecessor := range prev.SourceAddresses() {
			if cycle, found := detectCycle(path, predecessor); found {
				state.RecordCycle(cycle)
				continue
			}
			state.AddEdge(n.address, predecessor)
			kids = append(kids, node{
				txID:     in.PrevTxID,
				address:  predecessor,
				depth:    n.depth + 1,
				parentTx: n.txID,
				priority: knownTagPriority(state, predecessor),
				path:     path,
			})
		}
	}
	return kids, nil
}

// expandAccount walks one hop upstream on a balance-model chain: the sender
// of the node's transaction, plus internal-call senders when the transaction
// executed a contract. A single transaction only names its immediate
// counterparties, so deeper ancestry needs upstream transactions of its own.
func (t *Tracer) expandAccount(ctx context.Context, chain string, chainCfg chains.Config, n node, state *State) ([]node, error) {
	tx, err := t.fetchTransaction(ctx, chain, n.txID, state)
	if err != nil {
		return nil, err
	}
	if tx.BlockTime != nil {
		state.RecordTimestamp(tx.TxID, *tx.BlockTime)
	}

	candidates := []struct {
		address  string
		priority int
	}{}
	if tx.Sender != "" && !strings.EqualFold(tx.Sender, n.address) {
		candidates = append(candidates, struct {
			address  string
			priority int
		}{tx.Sender, 0})
	}
	if tx.IsContractCall && chainCfg.HasInternalTxs {
		seen := map[string]struct{}{strings.ToLower(tx.Sender): {}}
		for _, itx := range tx.Internals {
			if itx.FromAddress == "" || strings.EqualFold(itx.FromAddress, n.address) {
				continue
			}
			key := strings.ToLower(itx.FromAddress)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, struct {
				address  string
				priority int
			}{itx.FromAddress, 5})
		}
	}

	path := childPath(n)
	var kids []node
	for _, c := range candidates {
		if cycle, found := detectCycle(path, c.address); found {
			state.RecordCycle(cycle)
			continue
		}
		if state.AddrVisited(chain, c.address) {
			continue
		}
		state.AddEdge(n.address, c.address)
		state.MarkTxVisited(chain, n.txID)
		kids = append(kids, node{
			txID:     n.txID,
			address:  c.address,
			depth:    n.depth + 1,
			parentTx: n.txID,
			priority: c.priority,
			path:     path,
		})
	}
	return kids, nil
}

// fetchTransaction is the cache-through read for transactions. Cache errors
// degrade to provider reads; only provider errors surface.
func (t *Tracer) fetchTransaction(ctx context.Context, chain, txID string, state *State) (*models.Transaction, error) {
	key := cache.TransactionKey(chain, txID)
	data, hit, err := t.cache.Get(ctx, key)
	if err != nil {
		t.log.Warnw("transaction cache read failed", "key", key, "error", err)
	} else if hit {
		var tx models.Transaction
		if err := json.Unmarshal(data, &tx); err == nil {
			return &tx, nil
		}
	}

	state.CountAPICall()
	tx, err := t.provider.GetTransaction(ctx, chain, txID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(tx); err == nil {
		if err := t.cache.Set(ctx, key, data, t.cfg.CacheTTL); err != nil {
			t.log.Warnw("transaction cache write failed", "key", key, "error", err)
		}
	}
	return tx, nil
}

// fetchAddressMetadata is the three-layer read: per-run map, persistent
// cache, provider. A provider failure degrades to empty metadata so one bad
// address cannot stall the walk; only cancellation is returned.
func (t *Tracer) fetchAddressMetadata(ctx context.Context, chain, address string, state *State) (*models.AddressMetadata, error) {
	if meta, ok := state.Metadata(address); ok {
		return meta, nil
	}

	key := cache.AddressKey(chain, address)
	data, hit, err := t.cache.Get(ctx, key)
	if err != nil {
		t.log.Warnw("metadata cache read failed", "key", key, "error", err)
	} else if hit {
		var meta models.AddressMetadata
		if err := json.Unmarshal(data, &meta); err == nil {
			state.PutMetadata(address, &meta)
			return &meta, nil
		}
	}

	state.CountAPICall()
	meta, err := t.provider.GetAddressMetadata(ctx, chain, address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.log.Warnw("metadata fetch failed, continuing with empty metadata",
			"chain", chain, "address", address, "error", err)
		meta = &models.AddressMetadata{Address: address, Chain: chain}
	}

	state.PutMetadata(address, meta)
	if data, err := json.Marshal(meta); err == nil {
		if err := t.cache.Set(ctx, key, data, t.cfg.CacheTTL); err != nil {
			t.log.Warnw("metadata cache write failed", "key", key, "error", err)
		}
	}
	return meta, nil
}

// childPath extends the ancestor path with the current node's address.
func childPath(n node) []string {
	path := make([]string, 0, len(n.path)+1)
	path = append(path, n.path...)
	path = append(path, strings.ToLower(n.address))
	return path
}

// detectCycle reports whether child already appears on the ancestor path and
// returns the closed loop when it does.
func detectCycle(path []string, child string) ([]string, bool) {
	lower := strings.ToLower(child)
	for i, addr := range path {
		if addr == lower {
			cycle := make([]string, 0, len(path)-i+1)
			cycle = append(cycle, path[i:]...)
			cycle = append(cycle, lower)
			return cycle, true
		}
	}
	return nil, false
}

// knownTagPriority lets predecessors with already-known tagged metadata jump
// ahead within their depth layer.
func knownTagPriority(state *State, address string) int {
	if meta, ok := state.Metadata(address); ok {
		return 10 * len(meta.Tags)
	}
	return 0
}
