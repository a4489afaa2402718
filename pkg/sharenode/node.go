// Package sharenode implements one half of the additive-sharing pair: a
// transaction log with prepare/commit/abort semantics and a running modular
// share accumulator per (vote, party).
package sharenode

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/mpcvote/mpcvote/pkg/secret"
	"github.com/mpcvote/mpcvote/pkg/store"
)

var log = logging.Logger("mpcvote/sharenode")

const (
	collTransactions = "share_transactions"
	collTotals       = "share_totals"
)

var (
	// ErrUnknownTransaction is returned by Commit for a tx_id never prepared.
	ErrUnknownTransaction = errors.New("unknown transaction")
	// ErrTransactionAborted is returned when a tx_id in the aborted state is
	// prepared or committed again. Aborted transactions cannot be resurrected.
	ErrTransactionAborted = errors.New("transaction aborted")
)

// TxStatus is the state of one share transaction. prepared may move to
// committed or aborted; both of those are terminal.
type TxStatus string

const (
	StatusPrepared  TxStatus = "prepared"
	StatusCommitted TxStatus = "committed"
	StatusAborted   TxStatus = "aborted"
)

// ParseTxStatus rejects anything outside the closed enumeration.
func ParseTxStatus(s string) (TxStatus, error) {
	switch TxStatus(s) {
	case StatusPrepared, StatusCommitted, StatusAborted:
		return TxStatus(s), nil
	}
	return "", fmt.Errorf("invalid transaction status %q", s)
}

// UnmarshalJSON enforces the enumeration at the storage boundary.
func (st *TxStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTxStatus(raw)
	if err != nil {
		return err
	}
	*st = parsed
	return nil
}

// Transaction is one logged share delivery, keyed by tx_id.
type Transaction struct {
	TxID      string    `json:"tx_id"`
	VoteID    int64     `json:"vote_id"`
	PartyID   int64     `json:"party_id"`
	Delta     int64     `json:"delta"`
	Status    TxStatus  `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Total is this node's accumulated share for one (vote, party) pair.
type Total struct {
	VoteID  int64 `json:"vote_id"`
	PartyID int64 `json:"party_id"`
	Share   int64 `json:"share"`
}

// Snapshot is the full accumulator state handed to the coordinator at tally
// time. Modulus is included so the coordinator can detect disagreement.
type Snapshot struct {
	NodeID  string  `json:"node_id"`
	Modulus int64   `json:"modulus"`
	Shares  []Total `json:"shares"`
}

// Node owns the transaction log and totals of one share node.
type Node struct {
	id    string
	store *store.Store
}

// New creates a node with the given identifier ("A" or "B") over s.
func New(id string, s *store.Store) *Node {
	return &Node{id: id, store: s}
}

// ID returns the node identifier.
func (n *Node) ID() string {
	return n.id
}

func totalKey(voteID, partyID int64) string {
	return fmt.Sprintf("%d:%d", voteID, partyID)
}

// Prepare logs a share delta under tx_id. Replays of a prepared or committed
// transaction succeed without effect; an aborted transaction conflicts.
func (n *Node) Prepare(txID string, voteID, partyID, delta int64) error {
	return n.store.Update(func(tx *store.Txn) error {
		var existing Transaction
		err := tx.Get(collTransactions, txID, &existing)
		if err == nil {
			if existing.Status == StatusAborted {
				return ErrTransactionAborted
			}
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		t := Transaction{
			TxID:      txID,
			VoteID:    voteID,
			PartyID:   partyID,
			Delta:     secret.Reduce(delta),
			Status:    StatusPrepared,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Insert(collTransactions, txID, t)
	})
}

// Commit folds a prepared transaction's delta into the running total and
// marks it committed, atomically. Committing a committed transaction is a
// no-op; an unknown or aborted one fails.
func (n *Node) Commit(txID string) error {
	return n.store.Update(func(tx *store.Txn) error {
		var t Transaction
		if err := tx.Get(collTransactions, txID, &t); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnknownTransaction
			}
			return err
		}

		switch t.Status {
		case StatusAborted:
			return ErrTransactionAborted
		case StatusCommitted:
			return nil
		}

		key := totalKey(t.VoteID, t.PartyID)
		var total Total
		switch err := tx.Get(collTotals, key, &total); {
		case errors.Is(err, store.ErrNotFound):
			total = Total{VoteID: t.VoteID, PartyID: t.PartyID, Share: t.Delta}
		case err != nil:
			return err
		default:
			total.Share = secret.Add(total.Share, t.Delta)
		}
		if err := tx.Put(collTotals, key, total); err != nil {
			return err
		}

		t.Status = StatusCommitted
		t.UpdatedAt = time.Now().UTC()
		return tx.Put(collTransactions, txID, t)
	})
}

// Abort transitions a prepared transaction to aborted. Absent, already
// aborted, and committed transactions are all tolerated: a commit cannot be
// undone, and the coordinator only sends abort on its failure paths.
func (n *Node) Abort(txID string) error {
	return n.store.Update(func(tx *store.Txn) error {
		var t Transaction
		if err := tx.Get(collTransactions, txID, &t); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if t.Status != StatusPrepared {
			return nil
		}

		t.Status = StatusAborted
		t.UpdatedAt = time.Now().UTC()
		return tx.Put(collTransactions, txID, t)
	})
}

// Snapshot returns every accumulated total plus this node's identity and
// modulus.
func (n *Node) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{NodeID: n.id, Modulus: secret.Modulus, Shares: []Total{}}
	err := n.store.View(func(tx *store.Txn) error {
		return tx.ForEach(collTotals, func(_ string, raw json.RawMessage) error {
			var t Total
			if err := json.Unmarshal(raw, &t); err != nil {
				return err
			}
			snap.Shares = append(snap.Shares, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Transaction fetches one logged transaction by tx_id.
func (n *Node) Transaction(txID string) (*Transaction, error) {
	var t Transaction
	err := n.store.View(func(tx *store.Txn) error {
		if err := tx.Get(collTransactions, txID, &t); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnknownTransaction
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}
