package metrics

import (
	"fmt"
	"io"
)

const namespace = "mpcvote"

// WriteMetrics renders all counters in Prometheus text exposition format.
func (c *Collector) WriteMetrics(w io.Writer) error {
	s := c.GetStats()

	pairs := []struct {
		name  string
		help  string
		value uint64
	}{
		{"casts_attempted_total", "Ballot cast requests received", s.CastsAttempted},
		{"casts_succeeded_total", "Ballots recorded on both share nodes", s.CastsSucceeded},
		{"casts_rejected_total", "Ballot casts rejected before any share was sent", s.CastsRejected},
		{"prepare_failures_total", "Prepare calls that failed on a share node", s.PrepareFailures},
		{"commit_failures_total", "Commit calls that failed on a share node", s.CommitFailures},
		{"aborts_sent_total", "Abort calls sent to share nodes during cleanup", s.AbortsSent},
		{"tallies_served_total", "Successful tally reconstructions", s.TalliesServed},
		{"tally_failures_total", "Tally requests that failed", s.TallyFailures},
		{"share_prepared_total", "Share transactions accepted in prepare", s.SharePrepared},
		{"share_committed_total", "Share transactions folded into running totals", s.ShareCommitted},
		{"share_aborted_total", "Share transactions marked aborted", s.ShareAborted},
		{"snapshots_served_total", "Share snapshots served to the coordinator", s.SnapshotsServed},
		{"auth_rejections_total", "Requests rejected by signature verification", s.AuthRejections},
	}

	for _, p := range pairs {
		if err := writeCounter(w, p.name, p.help, p.value); err != nil {
			return err
		}
	}
	return writeGauge(w, "uptime_seconds", "Seconds since the process started", s.UptimeSeconds)
}

func writeCounter(w io.Writer, name, help string, value uint64) error {
	full := namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", full, help, full, full, value)
	return err
}

func writeGauge(w io.Writer, name, help string, value float64) error {
	full := namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", full, help, full, full, value)
	return err
}
