package metrics

import "time"

// StatsSource is the narrow view a Collector needs into the running server
// to publish gauges that aren't naturally updated event-by-event. Kept as
// an interface (rather than importing pkg/txn directly, as the teacher's
// collector imports *manager.Manager) because pkg/ccm and pkg/txn already
// import pkg/metrics for their counters/histograms; a concrete dependency
// back onto those packages would be an import cycle.
type StatsSource interface {
	ActiveTransactions() int
	RetryQueueDepth() int
}

// Collector periodically polls a StatsSource and republishes its state as
// prometheus gauges, the same ticker-driven pattern the teacher's
// pkg/metrics.Collector uses against *manager.Manager.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over src.
func NewCollector(src StatsSource) *Collector {
	return &Collector{source: src, stopCh: make(chan struct{})}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	TransactionsActive.Set(float64(c.source.ActiveTransactions()))
	RetryQueueDepth.Set(float64(c.source.RetryQueueDepth()))
}
