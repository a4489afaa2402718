// Package metrics collects real-time counters for the tally service and
// exports them in Prometheus text format.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector holds atomic counters for both roles. Share-node counters stay
// zero on a coordinator and vice versa.
type Collector struct {
	castsAttempted  uint64
	castsSucceeded  uint64
	castsRejected   uint64 // failed preconditions, no external effect
	prepareFailures uint64
	commitFailures  uint64
	abortsSent      uint64

	talliesServed uint64
	tallyFailures uint64

	sharePrepared   uint64
	shareCommitted  uint64
	shareAborted    uint64
	snapshotsServed uint64

	authRejections uint64

	startTime time.Time
}

// NewCollector creates a collector with the uptime clock started.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) IncCastAttempted()  { atomic.AddUint64(&c.castsAttempted, 1) }
func (c *Collector) IncCastSucceeded()  { atomic.AddUint64(&c.castsSucceeded, 1) }
func (c *Collector) IncCastRejected()   { atomic.AddUint64(&c.castsRejected, 1) }
func (c *Collector) IncPrepareFailure() { atomic.AddUint64(&c.prepareFailures, 1) }
func (c *Collector) IncCommitFailure()  { atomic.AddUint64(&c.commitFailures, 1) }
func (c *Collector) IncAbortSent()      { atomic.AddUint64(&c.abortsSent, 1) }
func (c *Collector) IncTallyServed()    { atomic.AddUint64(&c.talliesServed, 1) }
func (c *Collector) IncTallyFailure()   { atomic.AddUint64(&c.tallyFailures, 1) }
func (c *Collector) IncSharePrepared()  { atomic.AddUint64(&c.sharePrepared, 1) }
func (c *Collector) IncShareCommitted() { atomic.AddUint64(&c.shareCommitted, 1) }
func (c *Collector) IncShareAborted()   { atomic.AddUint64(&c.shareAborted, 1) }
func (c *Collector) IncSnapshotServed() { atomic.AddUint64(&c.snapshotsServed, 1) }
func (c *Collector) IncAuthRejection()  { atomic.AddUint64(&c.authRejections, 1) }

// Stats is a point-in-time copy of all counters.
type Stats struct {
	CastsAttempted  uint64  `json:"casts_attempted"`
	CastsSucceeded  uint64  `json:"casts_succeeded"`
	CastsRejected   uint64  `json:"casts_rejected"`
	PrepareFailures uint64  `json:"prepare_failures"`
	CommitFailures  uint64  `json:"commit_failures"`
	AbortsSent      uint64  `json:"aborts_sent"`
	TalliesServed   uint64  `json:"tallies_served"`
	TallyFailures   uint64  `json:"tally_failures"`
	SharePrepared   uint64  `json:"share_prepared"`
	ShareCommitted  uint64  `json:"share_committed"`
	ShareAborted    uint64  `json:"share_aborted"`
	SnapshotsServed uint64  `json:"snapshots_served"`
	AuthRejections  uint64  `json:"auth_rejections"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// GetStats returns a snapshot of the counters. Individual loads are atomic;
// the snapshot as a whole is not, which is fine for monitoring.
func (c *Collector) GetStats() Stats {
	return Stats{
		CastsAttempted:  atomic.LoadUint64(&c.castsAttempted),
		CastsSucceeded:  atomic.LoadUint64(&c.castsSucceeded),
		CastsRejected:   atomic.LoadUint64(&c.castsRejected),
		PrepareFailures: atomic.LoadUint64(&c.prepareFailures),
		CommitFailures:  atomic.LoadUint64(&c.commitFailures),
		AbortsSent:      atomic.LoadUint64(&c.abortsSent),
		TalliesServed:   atomic.LoadUint64(&c.talliesServed),
		TallyFailures:   atomic.LoadUint64(&c.tallyFailures),
		SharePrepared:   atomic.LoadUint64(&c.sharePrepared),
		ShareCommitted:  atomic.LoadUint64(&c.shareCommitted),
		ShareAborted:    atomic.LoadUint64(&c.shareAborted),
		SnapshotsServed: atomic.LoadUint64(&c.snapshotsServed),
		AuthRejections:  atomic.LoadUint64(&c.authRejections),
		UptimeSeconds:   time.Since(c.startTime).Seconds(),
	}
}
