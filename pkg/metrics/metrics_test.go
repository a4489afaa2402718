package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestCountersIncrement(t *testing.T) {
	c := NewCollector()

	c.IncCastAttempted()
	c.IncCastAttempted()
	c.IncCastSucceeded()
	c.IncPrepareFailure()
	c.IncAuthRejection()

	s := c.GetStats()
	if s.CastsAttempted != 2 {
		t.Errorf("CastsAttempted = %d, want 2", s.CastsAttempted)
	}
	if s.CastsSucceeded != 1 {
		t.Errorf("CastsSucceeded = %d, want 1", s.CastsSucceeded)
	}
	if s.PrepareFailures != 1 || s.AuthRejections != 1 {
		t.Errorf("got %+v", s)
	}
	if s.CastsRejected != 0 {
		t.Errorf("untouched counter = %d, want 0", s.CastsRejected)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.IncShareCommitted()
			}
		}()
	}
	wg.Wait()

	if got := c.GetStats().ShareCommitted; got != 1000 {
		t.Errorf("ShareCommitted = %d, want 1000", got)
	}
}

func TestWriteMetricsFormat(t *testing.T) {
	c := NewCollector()
	c.IncCastSucceeded()
	c.IncCastSucceeded()
	c.IncCastSucceeded()

	var buf bytes.Buffer
	if err := c.WriteMetrics(&buf); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "# TYPE mpcvote_casts_succeeded_total counter") {
		t.Error("missing TYPE line for casts_succeeded_total")
	}
	if !strings.Contains(out, "mpcvote_casts_succeeded_total 3\n") {
		t.Errorf("counter value missing from output:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE mpcvote_uptime_seconds gauge") {
		t.Error("missing uptime gauge")
	}

	// Every metric has HELP and TYPE preceding its sample.
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "mpcvote_") {
			t.Errorf("unexpected line %q", line)
		}
	}
}
