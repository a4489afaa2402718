// Package audit keeps the coordinator's per-ballot 2PC trail. Every terminal
// decision is recorded under its tx_root with both raw shares retained, so
// any later disagreement between share nodes can be diagnosed and a hanging
// commit replayed by an operator.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mpcvote/mpcvote/pkg/secret"
	"github.com/mpcvote/mpcvote/pkg/store"
)

// Collection is the store collection the trail persists to.
const Collection = "audit"

// Outcome is the terminal decision of a ballot's 2PC run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeAborted Outcome = "aborted"
)

// Entry is one audited ballot. For OutcomeSuccess the shares must satisfy
// (DeltaA + DeltaB) mod p = 1.
type Entry struct {
	TxRoot     string    `json:"tx_root"`
	VoteID     int64     `json:"vote_id"`
	PartyID    int64     `json:"party_id"`
	VoterID    int64     `json:"voter_id"`
	DeltaA     int64     `json:"delta_a"`
	DeltaB     int64     `json:"delta_b"`
	Outcome    Outcome   `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Validate checks the share-sum invariant on success entries.
func (e *Entry) Validate() error {
	if e.TxRoot == "" {
		return fmt.Errorf("audit entry missing tx_root")
	}
	if e.Outcome == OutcomeSuccess && secret.Combine(e.DeltaA, e.DeltaB) != 1 {
		return fmt.Errorf("audit entry %s: shares do not reconstruct 1", e.TxRoot)
	}
	return nil
}

// Trail persists audit entries and optionally streams them as JSON lines.
type Trail struct {
	store *store.Store

	mu  sync.Mutex
	out io.Writer
}

// NewTrail creates a trail over s. out may be nil to disable streaming.
func NewTrail(s *store.Store, out io.Writer) *Trail {
	return &Trail{store: s, out: out}
}

// Record persists an entry in its own transaction and streams it.
func (t *Trail) Record(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.RecordedAt = time.Now().UTC()
	if err := t.store.Put(Collection, e.TxRoot, e); err != nil {
		return fmt.Errorf("failed to persist audit entry: %w", err)
	}
	t.stream(e)
	return nil
}

// WriteTo buffers an entry inside a caller-owned store transaction. The
// caller should invoke Stream after the transaction commits.
func (t *Trail) WriteTo(tx *store.Txn, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.RecordedAt = time.Now().UTC()
	return tx.Put(Collection, e.TxRoot, e)
}

// Stream emits an entry as one JSON line to the configured writer.
func (t *Trail) Stream(e *Entry) {
	t.stream(e)
}

func (t *Trail) stream(e *Entry) {
	if t.out == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	t.out.Write(append(data, '\n'))
}

// Get fetches an entry by tx_root.
func (t *Trail) Get(txRoot string) (*Entry, error) {
	var e Entry
	if err := t.store.Get(Collection, txRoot, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// CountSuccess counts successful ballots for a (vote, party) pair. The tally
// reported by reconstruction must equal this count when both nodes saw every
// commit.
func (t *Trail) CountSuccess(voteID, partyID int64) (int64, error) {
	var n int64
	err := t.store.ForEach(Collection, func(_ string, raw json.RawMessage) error {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		if e.Outcome == OutcomeSuccess && e.VoteID == voteID && e.PartyID == partyID {
			n++
		}
		return nil
	})
	return n, err
}

// ForEach visits every audit entry.
func (t *Trail) ForEach(fn func(e *Entry) error) error {
	return t.store.ForEach(Collection, func(_ string, raw json.RawMessage) error {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		return fn(&e)
	})
}
