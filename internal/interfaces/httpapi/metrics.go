package httpapi

import (
	"sort"
	"sync"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/domain"
)

// Metrics counts poller and estimator activity per chain. Use Observer to
// attach it to a chain's poller.
type Metrics struct {
	mu        sync.RWMutex
	startTime time.Time
	chains    map[uint64]*chainCounters
	estimates map[string]*estimateCounters
}

type chainCounters struct {
	PollAttempts   uint64
	ProviderErrors uint64
	Confirmed      uint64
	Failed         uint64
	Timeouts       uint64
	LastBlock      uint64
	LastConfirmed  time.Time
}

type estimateCounters struct {
	Succeeded uint64
	Failed    uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
		chains:    make(map[uint64]*chainCounters),
		estimates: make(map[string]*estimateCounters),
	}
}

func (m *Metrics) Observer(chainID uint64) application.PollObserver {
	return chainObserver{metrics: m, chainID: chainID}
}

type chainObserver struct {
	metrics *Metrics
	chainID uint64
}

func (o chainObserver) OnPollAttempt(string, int) {
	o.metrics.update(o.chainID, func(c *chainCounters) { c.PollAttempts++ })
}

func (o chainObserver) OnProviderError(string, error) {
	o.metrics.update(o.chainID, func(c *chainCounters) { c.ProviderErrors++ })
}

func (o chainObserver) OnConfirmed(receipt domain.TransactionReceipt) {
	o.metrics.update(o.chainID, func(c *chainCounters) {
		if receipt.Status == domain.TxStatusSuccess {
			c.Confirmed++
		} else {
			c.Failed++
		}
		if receipt.BlockNumber > c.LastBlock {
			c.LastBlock = receipt.BlockNumber
		}
		c.LastConfirmed = receipt.Timestamp
	})
}

func (o chainObserver) OnTimeout(string, time.Duration) {
	o.metrics.update(o.chainID, func(c *chainCounters) { c.Timeouts++ })
}

func (m *Metrics) update(chainID uint64, fn func(*chainCounters)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counters, ok := m.chains[chainID]
	if !ok {
		counters = &chainCounters{}
		m.chains[chainID] = counters
	}
	fn(counters)
}

func (m *Metrics) ObserveEstimate(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counters, ok := m.estimates[kind]
	if !ok {
		counters = &estimateCounters{}
		m.estimates[kind] = counters
	}
	if err != nil {
		counters.Failed++
		return
	}
	counters.Succeeded++
}

type ChainSnapshot struct {
	ChainID uint64
	chainCounters
}

type EstimateSnapshot struct {
	Kind string
	estimateCounters
}

type Snapshot struct {
	StartTime time.Time
	Chains    []ChainSnapshot
	Estimates []EstimateSnapshot
}

// Snapshot copies the counters, chains and estimate kinds in sorted order.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{StartTime: m.startTime}
	for chainID, counters := range m.chains {
		snap.Chains = append(snap.Chains, ChainSnapshot{ChainID: chainID, chainCounters: *counters})
	}
	for kind, counters := range m.estimates {
		snap.Estimates = append(snap.Estimates, EstimateSnapshot{Kind: kind, estimateCounters: *counters})
	}
	sort.Slice(snap.Chains, func(i, j int) bool { return snap.Chains[i].ChainID < snap.Chains[j].ChainID })
	sort.Slice(snap.Estimates, func(i, j int) bool { return snap.Estimates[i].Kind < snap.Estimates[j].Kind })
	return snap
}
