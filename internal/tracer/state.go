package tracer

import (
	"sort"
	"sync"
	"time"

	"github.com/rawblock/kyt-engine/pkg/models"
)

// State accumulates everything one trace run learns. A single mutex guards
// all of it; the hot path is provider I/O, not map access.
type State struct {
	mu sync.Mutex

	interner *Interner

	visitedAddrs map[string]struct{} // chain:lower(addr)
	visitedTxs   map[string]struct{} // chain:lower(txid)

	flagged      []models.FlaggedEntity
	addrMeta     map[string]*models.AddressMetadata // lower(addr)
	adjacency    map[string]map[string]bool         // lower(addr) -> neighbors
	txTimestamps map[string]time.Time               // lower(txid)
	circular     [][]string

	apiCalls  int
	processed int
}

// NewState returns an empty trace state.
func NewState() *State {
	return &State{
		interner:     NewInterner(),
		visitedAddrs: make(map[string]struct{}),
		visitedTxs:   make(map[string]struct{}),
		addrMeta:     make(map[string]*models.AddressMetadata),
		adjacency:    make(map[string]map[string]bool),
		txTimestamps: make(map[string]time.Time),
	}
}

// MarkAddrVisited records the address and reports whether it was new.
func (s *State) MarkAddrVisited(chain, address string) bool {
	key := chain + ":" + s.interner.Intern(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visitedAddrs[key]; ok {
		return false
	}
	s.visitedAddrs[key] = struct{}{}
	return true
}

// AddrVisited reports whether the address has been visited, without marking.
func (s *State) AddrVisited(chain, address string) bool {
	key := chain + ":" + s.interner.Intern(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visitedAddrs[key]
	return ok
}

// MarkTxVisited records the transaction and reports whether it was new.
func (s *State) MarkTxVisited(chain, txID string) bool {
	key := chain + ":" + s.interner.Intern(txID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visitedTxs[key]; ok {
		return false
	}
	s.visitedTxs[key] = struct{}{}
	return true
}

// AddFlagged appends a flagged entity.
func (s *State) AddFlagged(e models.FlaggedEntity) {
	s.mu.Lock()
	s.flagged = append(s.flagged, e)
	s.mu.Unlock()
}

// Metadata returns the in-run cached metadata for an address, if any.
func (s *State) Metadata(address string) (*models.AddressMetadata, bool) {
	key := s.interner.Intern(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.addrMeta[key]
	return meta, ok
}

// PutMetadata stores metadata under the canonical address.
func (s *State) PutMetadata(address string, meta *models.AddressMetadata) {
	key := s.interner.Intern(address)
	s.mu.Lock()
	s.addrMeta[key] = meta
	s.mu.Unlock()
}

// AddEdge records a directed fund-flow edge between two addresses.
func (s *State) AddEdge(from, to string) {
	f := s.interner.Intern(from)
	t := s.interner.Intern(to)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adjacency[f] == nil {
		s.adjacency[f] = make(map[string]bool)
	}
	s.adjacency[f][t] = true
}

// RecordTimestamp stores a transaction's block time for velocity analysis.
func (s *State) RecordTimestamp(txID string, t time.Time) {
	key := s.interner.Intern(txID)
	s.mu.Lock()
	s.txTimestamps[key] = t
	s.mu.Unlock()
}

// RecordCycle stores one circular path.
func (s *State) RecordCycle(path []string) {
	s.mu.Lock()
	s.circular = append(s.circular, path)
	s.mu.Unlock()
}

// CountAPICall increments the provider round-trip counter.
func (s *State) CountAPICall() {
	s.mu.Lock()
	s.apiCalls++
	s.mu.Unlock()
}

// CountProcessed increments the processed-address counter and returns the
// new total.
func (s *State) CountProcessed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	return s.processed
}

// Processed returns how many addresses have been accepted for processing.
func (s *State) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

// Snapshot returns the scoring inputs and report totals. The flagged slice
// and maps are copied so the caller can read them without holding the lock.
// Flagged entities are sorted canonically (distance asc, contribution desc,
// address asc): batch workers append in whatever order they finish, and both
// the scorer's reason list and the report must not depend on that order.
func (s *State) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	flagged := make([]models.FlaggedEntity, len(s.flagged))
	copy(flagged, s.flagged)
	sort.SliceStable(flagged, func(i, j int) bool {
		if flagged[i].Distance != flagged[j].Distance {
			return flagged[i].Distance < flagged[j].Distance
		}
		if flagged[i].Contribution != flagged[j].Contribution {
			return flagged[i].Contribution > flagged[j].Contribution
		}
		return flagged[i].Address < flagged[j].Address
	})

	addrMeta := make(map[string]*models.AddressMetadata, len(s.addrMeta))
	for k, v := range s.addrMeta {
		addrMeta[k] = v
	}

	adjacency := make(map[string]map[string]bool, len(s.adjacency))
	for k, neighbors := range s.adjacency {
		inner := make(map[string]bool, len(neighbors))
		for n := range neighbors {
			inner[n] = true
		}
		adjacency[k] = inner
	}

	timestamps := make(map[string]time.Time, len(s.txTimestamps))
	for k, v := range s.txTimestamps {
		timestamps[k] = v
	}

	circular := make([][]string, len(s.circular))
	copy(circular, s.circular)

	return StateSnapshot{
		Flagged:           flagged,
		AddrMeta:          addrMeta,
		Adjacency:         adjacency,
		TxTimestamps:      timestamps,
		Circular:          circular,
		TotalAddresses:    len(s.visitedAddrs),
		TotalTransactions: len(s.visitedTxs),
		APICalls:          s.apiCalls,
	}
}

// StateSnapshot is a consistent copy of the trace outcome.
type StateSnapshot struct {
	Flagged           []models.FlaggedEntity
	AddrMeta          map[string]*models.AddressMetadata
	Adjacency         map[string]map[string]bool
	TxTimestamps      map[string]time.Time
	Circular          [][]string
	TotalAddresses    int
	TotalTransactions int
	APICalls          int
}
