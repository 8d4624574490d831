package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type settlementKey struct {
	status string
}

type ledgerMetrics struct {
	mu          sync.Mutex
	opened      uint64
	disputed    uint64
	settlements map[settlementKey]uint64
	reputation  uint64
	sweeps      uint64
	sweepErrors uint64
}

var ledgerCollector = &ledgerMetrics{
	settlements: make(map[settlementKey]uint64),
}

// IncAssertionOpened records a newly opened assertion.
func IncAssertionOpened() {
	ledgerCollector.mu.Lock()
	ledgerCollector.opened++
	ledgerCollector.mu.Unlock()
}

// IncAssertionDisputed records an assertion entering the disputed state.
func IncAssertionDisputed() {
	ledgerCollector.mu.Lock()
	ledgerCollector.disputed++
	ledgerCollector.mu.Unlock()
}

// ObserveSettlement records a terminal transition labelled by the final status.
func ObserveSettlement(status string) {
	ledgerCollector.mu.Lock()
	ledgerCollector.settlements[settlementKey{status: status}]++
	ledgerCollector.mu.Unlock()
}

// IncReputationUpdate records one applied reputation delta.
func IncReputationUpdate() {
	ledgerCollector.mu.Lock()
	ledgerCollector.reputation++
	ledgerCollector.mu.Unlock()
}

// IncSweeperRun records one completed sweeper pass.
func IncSweeperRun() {
	ledgerCollector.mu.Lock()
	ledgerCollector.sweeps++
	ledgerCollector.mu.Unlock()
}

// IncSweeperFailure records a sweeper pass that hit a storage or settlement error.
func IncSweeperFailure() {
	ledgerCollector.mu.Lock()
	ledgerCollector.sweepErrors++
	ledgerCollector.mu.Unlock()
}

func (c *ledgerMetrics) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type settlementMetric struct {
		settlementKey
		value uint64
	}
	settled := make([]settlementMetric, 0, len(c.settlements))
	for key, value := range c.settlements {
		settled = append(settled, settlementMetric{settlementKey: key, value: value})
	}
	sort.Slice(settled, func(i, j int) bool {
		return settled[i].status < settled[j].status
	})

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP openoracle_assertions_opened_total Total number of assertions opened.\n")
	builder.WriteString("# TYPE openoracle_assertions_opened_total counter\n")
	builder.WriteString(fmt.Sprintf("openoracle_assertions_opened_total %d\n", c.opened))

	builder.WriteString("# HELP openoracle_assertions_disputed_total Total number of assertions disputed.\n")
	builder.WriteString("# TYPE openoracle_assertions_disputed_total counter\n")
	builder.WriteString(fmt.Sprintf("openoracle_assertions_disputed_total %d\n", c.disputed))

	builder.WriteString("# HELP openoracle_assertions_settled_total Total number of assertions reaching a terminal status.\n")
	builder.WriteString("# TYPE openoracle_assertions_settled_total counter\n")
	for _, metric := range settled {
		builder.WriteString(fmt.Sprintf("openoracle_assertions_settled_total{status=\"%s\"} %d\n",
			escape(metric.status), metric.value))
	}

	builder.WriteString("# HELP openoracle_reputation_updates_total Total number of reputation deltas applied.\n")
	builder.WriteString("# TYPE openoracle_reputation_updates_total counter\n")
	builder.WriteString(fmt.Sprintf("openoracle_reputation_updates_total %d\n", c.reputation))

	builder.WriteString("# HELP openoracle_sweeper_runs_total Total number of settlement sweeper passes.\n")
	builder.WriteString("# TYPE openoracle_sweeper_runs_total counter\n")
	builder.WriteString(fmt.Sprintf("openoracle_sweeper_runs_total %d\n", c.sweeps))

	builder.WriteString("# HELP openoracle_sweeper_failures_total Total number of sweeper passes that reported errors.\n")
	builder.WriteString("# TYPE openoracle_sweeper_failures_total counter\n")
	builder.WriteString(fmt.Sprintf("openoracle_sweeper_failures_total %d\n", c.sweepErrors))

	return builder.String()
}
