// Package coordinator drives the two-phase ballot protocol across the two
// share nodes and reconstructs tallies from their snapshots. It owns the
// vote_records collection, the at-most-once witness for (vote, voter).
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"

	"github.com/mpcvote/mpcvote/pkg/audit"
	"github.com/mpcvote/mpcvote/pkg/metrics"
	"github.com/mpcvote/mpcvote/pkg/registry"
	"github.com/mpcvote/mpcvote/pkg/secret"
	"github.com/mpcvote/mpcvote/pkg/signing"
	"github.com/mpcvote/mpcvote/pkg/store"
)

var log = logging.Logger("mpcvote/coordinator")

const collVoteRecords = "vote_records"

// cleanupTimeout bounds the best-effort abort calls on failure paths. They
// use a fresh context because the request context may already be dead.
const cleanupTimeout = 5 * time.Second

// VoteRecord witnesses that a voter cast a ballot in a vote. Its document id
// is "<vote_id>:<voter_id>", so the store's duplicate-id check enforces
// at-most-once.
type VoteRecord struct {
	VoteID    int64     `json:"vote_id"`
	VoterID   int64     `json:"voter_id"`
	TxRoot    string    `json:"tx_root"`
	CreatedAt time.Time `json:"created_at"`
}

// Coordinator runs ballot casts and tallies against share nodes A and B.
type Coordinator struct {
	registry *registry.Registry
	store    *store.Store
	trail    *audit.Trail
	nodeA    *signing.Client
	nodeB    *signing.Client
	metrics  *metrics.Collector

	locks *keyedLocks
	now   func() time.Time
}

// New wires a coordinator. All arguments are required.
func New(reg *registry.Registry, s *store.Store, trail *audit.Trail, nodeA, nodeB *signing.Client, m *metrics.Collector) *Coordinator {
	return &Coordinator{
		registry: reg,
		store:    s,
		trail:    trail,
		nodeA:    nodeA,
		nodeB:    nodeB,
		metrics:  m,
		locks:    newKeyedLocks(),
		now:      time.Now,
	}
}

func recordKey(voteID, voterID int64) string {
	return fmt.Sprintf("%d:%d", voteID, voterID)
}

// Cast runs the full ballot algorithm: eligibility, share generation, 2PC
// against both nodes, local finalization. Returns the transaction root on
// success.
func (c *Coordinator) Cast(ctx context.Context, fingerprint string, voteID, partyID int64) (string, error) {
	c.metrics.IncCastAttempted()

	// Election state is checked first: a closed vote rejects with its own
	// conflict before the fingerprint resolves.
	if err := c.registry.EnsureVoteOpen(voteID, c.now()); err != nil {
		c.metrics.IncCastRejected()
		return "", err
	}

	voter, err := c.registry.VoterByFingerprint(fingerprint)
	if err != nil {
		c.metrics.IncCastRejected()
		return "", err
	}

	// The (vote, voter) lock is held through both 2PC phases and the local
	// write, so a concurrent duplicate cast waits and then fails the
	// vote-record pre-check instead of double-counting shares.
	unlock := c.locks.lock(recordKey(voteID, voter.ID))
	defer unlock()

	if err := c.checkPreconditions(voteID, partyID, voter.ID); err != nil {
		c.metrics.IncCastRejected()
		return "", err
	}

	deltaA, deltaB, err := secret.SplitOne(nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate shares: %w", err)
	}

	txRoot := strings.ReplaceAll(uuid.New().String(), "-", "")
	txA, txB := txRoot+"-A", txRoot+"-B"

	ballot := &audit.Entry{
		TxRoot:  txRoot,
		VoteID:  voteID,
		PartyID: partyID,
		VoterID: voter.ID,
		DeltaA:  deltaA,
		DeltaB:  deltaB,
	}

	// Phase 1: prepare on A, then B.
	if err := c.prepare(ctx, c.nodeA, "A", txA, voteID, partyID, deltaA); err != nil {
		c.metrics.IncPrepareFailure()
		return "", c.failBallot(ballot, txA, txB, &GatewayError{Node: "A", Op: "prepare", Err: err})
	}
	if err := c.prepare(ctx, c.nodeB, "B", txB, voteID, partyID, deltaB); err != nil {
		c.metrics.IncPrepareFailure()
		return "", c.failBallot(ballot, txA, txB, &GatewayError{Node: "B", Op: "prepare", Err: err})
	}

	// Phase 2: commit on A, then B. A failure here after A committed leaves
	// the nodes inconsistent; the aborted audit entry retains both shares so
	// an operator can replay the missing commit.
	if err := c.commit(ctx, c.nodeA, txA); err != nil {
		c.metrics.IncCommitFailure()
		return "", c.failBallot(ballot, txA, txB, &GatewayError{Node: "A", Op: "commit", Err: err})
	}
	if err := c.commit(ctx, c.nodeB, txB); err != nil {
		c.metrics.IncCommitFailure()
		return "", c.failBallot(ballot, txA, txB, &GatewayError{Node: "B", Op: "commit", Err: err})
	}

	// Local finalization: vote record and success audit entry in one
	// transaction.
	ballot.Outcome = audit.OutcomeSuccess
	rec := VoteRecord{VoteID: voteID, VoterID: voter.ID, TxRoot: txRoot, CreatedAt: c.now().UTC()}
	err = c.store.Update(func(tx *store.Txn) error {
		if err := tx.Insert(collVoteRecords, recordKey(voteID, voter.ID), rec); err != nil {
			return err
		}
		return c.trail.WriteTo(tx, ballot)
	})
	if err != nil {
		// Both nodes committed, so the shares are in the totals either way.
		// The audit entry still records success. Abort is a no-op on a
		// committed transaction, so the cleanup below cannot undo it.
		log.Errorw("local finalization failed after both commits",
			"tx_root", txRoot, "vote_id", voteID, "voter_id", voter.ID, "error", err)
		c.abortBoth(txA, txB)
		if recErr := c.trail.Record(ballot); recErr != nil {
			log.Errorw("failed to record post-commit audit entry", "tx_root", txRoot, "error", recErr)
		}
		if errors.Is(err, store.ErrDuplicateID) {
			return "", ErrAlreadyVoted
		}
		return "", fmt.Errorf("failed to record ballot: %w", err)
	}
	c.trail.Stream(ballot)

	c.metrics.IncCastSucceeded()
	log.Infow("ballot recorded", "tx_root", txRoot, "vote_id", voteID)
	return txRoot, nil
}

// checkPreconditions fails fast with no external effect. Caller holds the
// (vote, voter) lock.
func (c *Coordinator) checkPreconditions(voteID, partyID, voterID int64) error {
	if err := c.registry.EnsureVoteOpen(voteID, c.now()); err != nil {
		return err
	}
	if err := c.registry.EnsureActiveParty(partyID, voteID); err != nil {
		return err
	}
	if c.store.Exists(collVoteRecords, recordKey(voteID, voterID)) {
		return ErrAlreadyVoted
	}
	return nil
}

func (c *Coordinator) prepare(ctx context.Context, node *signing.Client, label, txID string, voteID, partyID, delta int64) error {
	err := node.PostJSON(ctx, "/internal/share/prepare", map[string]interface{}{
		"tx_id":    txID,
		"vote_id":  voteID,
		"party_id": partyID,
		"delta":    delta,
	})
	if err != nil {
		log.Warnw("prepare failed", "node", label, "tx_id", txID, "error", err)
	}
	return err
}

func (c *Coordinator) commit(ctx context.Context, node *signing.Client, txID string) error {
	return node.PostJSON(ctx, "/internal/share/commit", map[string]interface{}{"tx_id": txID})
}

// failBallot runs the 2PC failure path: best-effort aborts on both nodes and
// an aborted audit entry retaining the raw shares. It returns cause for the
// caller to propagate.
func (c *Coordinator) failBallot(ballot *audit.Entry, txA, txB string, cause *GatewayError) error {
	c.abortBoth(txA, txB)

	ballot.Outcome = audit.OutcomeAborted
	ballot.Detail = cause.Error()
	if err := c.trail.Record(ballot); err != nil {
		log.Errorw("failed to record aborted audit entry", "tx_root", ballot.TxRoot, "error", err)
	}
	return cause
}

// abortBoth sends abort to both nodes, swallowing failures. A node that
// misses its abort keeps a garbage prepared transaction that can never reach
// a total.
func (c *Coordinator) abortBoth(txA, txB string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	var errs *multierror.Error
	for _, target := range []struct {
		node   string
		client *signing.Client
		txID   string
	}{
		{"A", c.nodeA, txA},
		{"B", c.nodeB, txB},
	} {
		c.metrics.IncAbortSent()
		err := target.client.PostJSON(ctx, "/internal/share/abort", map[string]interface{}{"tx_id": target.txID})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("abort %s on node %s: %w", target.txID, target.node, err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		log.Warnw("best-effort abort cleanup incomplete", "error", err)
	}
}

// PartyTally is one reconstructed per-party count.
type PartyTally struct {
	PartyID    int64 `json:"party_id"`
	TotalVotes int64 `json:"total_votes"`
}

// TallyResult is the reconstructed outcome of one vote.
type TallyResult struct {
	VoteID  int64             `json:"vote_id"`
	Tally   []PartyTally      `json:"tally"`
	Modulus int64             `json:"modulus"`
	Nodes   map[string]string `json:"nodes"`
}

// nodeSnapshot is the coordinator's view of a share node snapshot.
type nodeSnapshot struct {
	NodeID  string `json:"node_id"`
	Modulus int64  `json:"modulus"`
	Shares  []struct {
		VoteID  int64 `json:"vote_id"`
		PartyID int64 `json:"party_id"`
		Share   int64 `json:"share"`
	} `json:"shares"`
}

// Tally fetches both node snapshots, checks modulus agreement and
// reconstructs per-party totals for one vote. Missing shares default to 0.
func (c *Coordinator) Tally(ctx context.Context, voteID int64) (*TallyResult, error) {
	if _, err := c.registry.GetVote(voteID); err != nil {
		c.metrics.IncTallyFailure()
		return nil, err
	}

	var snapA, snapB nodeSnapshot
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = c.nodeA.GetJSON(ctx, "/internal/share/snapshot", &snapA)
	}()
	go func() {
		defer wg.Done()
		errB = c.nodeB.GetJSON(ctx, "/internal/share/snapshot", &snapB)
	}()
	wg.Wait()

	if errA != nil {
		c.metrics.IncTallyFailure()
		return nil, &GatewayError{Node: "A", Op: "snapshot", Err: errA}
	}
	if errB != nil {
		c.metrics.IncTallyFailure()
		return nil, &GatewayError{Node: "B", Op: "snapshot", Err: errB}
	}

	if snapA.Modulus != secret.Modulus || snapB.Modulus != secret.Modulus {
		c.metrics.IncTallyFailure()
		log.Errorw("modulus mismatch between nodes",
			"node_a", snapA.Modulus, "node_b", snapB.Modulus, "expected", secret.Modulus)
		return nil, ErrModulusMismatch
	}

	totals := make(map[int64]int64)
	for _, s := range snapA.Shares {
		if s.VoteID == voteID {
			totals[s.PartyID] = secret.Reduce(s.Share)
		}
	}
	for _, s := range snapB.Shares {
		if s.VoteID == voteID {
			totals[s.PartyID] = secret.Add(totals[s.PartyID], s.Share)
		}
	}

	partyIDs := make([]int64, 0, len(totals))
	for id := range totals {
		partyIDs = append(partyIDs, id)
	}
	sort.Slice(partyIDs, func(i, j int) bool { return partyIDs[i] < partyIDs[j] })

	tally := make([]PartyTally, 0, len(partyIDs))
	for _, id := range partyIDs {
		tally = append(tally, PartyTally{PartyID: id, TotalVotes: totals[id]})
	}

	c.metrics.IncTallyServed()
	return &TallyResult{
		VoteID:  voteID,
		Tally:   tally,
		Modulus: secret.Modulus,
		Nodes:   map[string]string{"A": snapA.NodeID, "B": snapB.NodeID},
	}, nil
}

// VoteRecordFor fetches the uniqueness witness for one (vote, voter) pair.
func (c *Coordinator) VoteRecordFor(voteID, voterID int64) (*VoteRecord, error) {
	var rec VoteRecord
	if err := c.store.Get(collVoteRecords, recordKey(voteID, voterID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
