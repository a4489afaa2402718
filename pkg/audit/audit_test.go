package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mpcvote/mpcvote/pkg/secret"
	"github.com/mpcvote/mpcvote/pkg/store"
)

func newTestTrail(t *testing.T, out *bytes.Buffer) *Trail {
	t.Helper()
	s, err := store.Open(&store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if out == nil {
		return NewTrail(s, nil)
	}
	return NewTrail(s, out)
}

func TestRecordAndGet(t *testing.T) {
	trail := newTestTrail(t, nil)

	deltaA, deltaB, err := secret.SplitOne(nil)
	if err != nil {
		t.Fatalf("SplitOne failed: %v", err)
	}

	e := &Entry{
		TxRoot:  "deadbeef",
		VoteID:  7,
		PartyID: 3,
		VoterID: 11,
		DeltaA:  deltaA,
		DeltaB:  deltaB,
		Outcome: OutcomeSuccess,
	}
	if err := trail.Record(e); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := trail.Get("deadbeef")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.VoterID != 11 || got.Outcome != OutcomeSuccess {
		t.Errorf("got %+v", got)
	}
	if got.RecordedAt.IsZero() {
		t.Error("RecordedAt not set")
	}
}

func TestRecordRejectsBrokenShareSum(t *testing.T) {
	trail := newTestTrail(t, nil)

	e := &Entry{
		TxRoot:  "deadbeef",
		VoteID:  7,
		PartyID: 3,
		DeltaA:  1,
		DeltaB:  1, // sums to 2, not 1
		Outcome: OutcomeSuccess,
	}
	if err := trail.Record(e); err == nil {
		t.Error("success entry with broken share sum accepted")
	}
}

func TestAbortedEntrySkipsShareCheck(t *testing.T) {
	trail := newTestTrail(t, nil)

	e := &Entry{
		TxRoot:  "cafebabe",
		VoteID:  7,
		PartyID: 3,
		DeltaA:  5,
		DeltaB:  5,
		Outcome: OutcomeAborted,
		Detail:  "commit failed on node B",
	}
	if err := trail.Record(e); err != nil {
		t.Errorf("aborted entry rejected: %v", err)
	}
}

func TestStreamEmitsJSONLines(t *testing.T) {
	var out bytes.Buffer
	trail := newTestTrail(t, &out)

	for i := 0; i < 2; i++ {
		a, b, _ := secret.SplitOne(nil)
		trail.Record(&Entry{
			TxRoot:  string(rune('a' + i)),
			VoteID:  7,
			PartyID: 3,
			DeltaA:  a,
			DeltaB:  b,
			Outcome: OutcomeSuccess,
		})
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("streamed %d lines, want 2", len(lines))
	}
	var decoded Entry
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("stream line is not valid JSON: %v", err)
	}
}

func TestCountSuccess(t *testing.T) {
	trail := newTestTrail(t, nil)

	add := func(txRoot string, voteID, partyID int64, outcome Outcome) {
		a, b, _ := secret.SplitOne(nil)
		e := &Entry{TxRoot: txRoot, VoteID: voteID, PartyID: partyID, DeltaA: a, DeltaB: b, Outcome: outcome}
		if err := trail.Record(e); err != nil {
			t.Fatalf("Record(%s) failed: %v", txRoot, err)
		}
	}

	add("t1", 7, 3, OutcomeSuccess)
	add("t2", 7, 3, OutcomeSuccess)
	add("t3", 7, 4, OutcomeSuccess)
	add("t4", 7, 3, OutcomeAborted)
	add("t5", 8, 3, OutcomeSuccess)

	n, err := trail.CountSuccess(7, 3)
	if err != nil {
		t.Fatalf("CountSuccess failed: %v", err)
	}
	if n != 2 {
		t.Errorf("CountSuccess(7,3) = %d, want 2", n)
	}
}
