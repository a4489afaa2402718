// Package registry manages the entities the tally core treats as external
// collaborators: votes (elections), parties (candidates), voters and admin
// accounts, plus the single-slot fingerprint capture buffer. Its contract
// with the core is eligibility: resolve a fingerprint to a voter id, check a
// vote is open in its time window, and check a party is active in that vote.
package registry

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mpcvote/mpcvote/pkg/store"
)

const (
	collVotes   = "votes"
	collParties = "parties"
	collVoters  = "voters"
	collAdmins  = "admins"
)

// Registry provides CRUD over the collaborator entities on top of the
// embedded store. Uniqueness indexes (voter fingerprint, admin email) are
// kept in memory and rebuilt at load.
type Registry struct {
	store *store.Store

	mu           sync.Mutex
	nextID       map[string]int64
	fingerprints map[string]int64 // fingerprint -> voter id
	adminEmails  map[string]int64 // email -> admin id

	Fingerprint *Buffer
}

// New builds a registry over s, scanning existing collections to restore id
// counters and uniqueness indexes.
func New(s *store.Store) (*Registry, error) {
	r := &Registry{
		store:        s,
		nextID:       make(map[string]int64),
		fingerprints: make(map[string]int64),
		adminEmails:  make(map[string]int64),
		Fingerprint:  NewBuffer(),
	}

	for _, coll := range []string{collVotes, collParties, collVoters, collAdmins} {
		err := s.ForEach(coll, func(id string, raw json.RawMessage) error {
			n, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				return nil // ignore foreign ids
			}
			if n >= r.nextID[coll] {
				r.nextID[coll] = n + 1
			}
			switch coll {
			case collVoters:
				var v Voter
				if err := json.Unmarshal(raw, &v); err == nil && v.Fingerprint != "" {
					r.fingerprints[v.Fingerprint] = v.ID
				}
			case collAdmins:
				var a Admin
				if err := json.Unmarshal(raw, &a); err == nil {
					r.adminEmails[a.Email] = a.ID
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// allocate reserves the next numeric id for a collection. Caller holds r.mu.
func (r *Registry) allocate(coll string) int64 {
	if r.nextID[coll] == 0 {
		r.nextID[coll] = 1
	}
	id := r.nextID[coll]
	r.nextID[coll]++
	return id
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ---- Votes ----

// CreateVote stores a new vote. An empty status defaults to draft.
func (r *Registry) CreateVote(v Vote) (*Vote, error) {
	if v.Status == "" {
		v.Status = StatusDraft
	}
	if _, err := ParseVoteStatus(string(v.Status)); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v.ID = r.allocate(collVotes)
	v.CreatedAt = time.Now().UTC()
	if err := r.store.Insert(collVotes, key(v.ID), v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVote fetches one vote.
func (r *Registry) GetVote(id int64) (*Vote, error) {
	var v Vote
	if err := r.store.Get(collVotes, key(id), &v); err != nil {
		return nil, ErrVoteNotFound
	}
	return &v, nil
}

// ListVotes returns all votes, newest first.
func (r *Registry) ListVotes() ([]Vote, error) {
	var votes []Vote
	err := r.store.ForEach(collVotes, func(_ string, raw json.RawMessage) error {
		var v Vote
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		votes = append(votes, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].ID > votes[j].ID })
	return votes, nil
}

// UpdateVote applies the non-nil fields of u.
func (r *Registry) UpdateVote(id int64, u VoteUpdate) (*Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.GetVote(id)
	if err != nil {
		return nil, err
	}
	if u.Title != nil {
		v.Title = *u.Title
	}
	if u.Description != nil {
		v.Description = *u.Description
	}
	if u.StartAt != nil {
		v.StartAt = u.StartAt
	}
	if u.EndAt != nil {
		v.EndAt = u.EndAt
	}
	if err := r.store.Put(collVotes, key(id), v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetVoteStatus transitions a vote's lifecycle status.
func (r *Registry) SetVoteStatus(id int64, status VoteStatus) (*Vote, error) {
	if _, err := ParseVoteStatus(string(status)); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.GetVote(id)
	if err != nil {
		return nil, err
	}
	v.Status = status
	if err := r.store.Put(collVotes, key(id), v); err != nil {
		return nil, err
	}
	return v, nil
}

// DeleteVote removes a vote.
func (r *Registry) DeleteVote(id int64) error {
	if err := r.store.Delete(collVotes, key(id)); err != nil {
		return ErrVoteNotFound
	}
	return nil
}

// EnsureVoteOpen verifies the vote exists, is open, and that now falls
// inside its optional [start, end] window.
func (r *Registry) EnsureVoteOpen(id int64, now time.Time) error {
	v, err := r.GetVote(id)
	if err != nil {
		return err
	}
	if v.Status != StatusOpen {
		return ErrVoteNotOpen
	}
	if v.StartAt != nil && now.Before(*v.StartAt) {
		return ErrVoteNotStarted
	}
	if v.EndAt != nil && now.After(*v.EndAt) {
		return ErrVoteEnded
	}
	return nil
}

// ---- Parties ----

// CreateParty stores a new party after checking its vote exists and the
// name/code are unique within that vote.
func (r *Registry) CreateParty(p Party) (*Party, error) {
	if _, err := r.GetVote(p.VoteID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPartyUnique(p.VoteID, p.Name, p.Code, 0); err != nil {
		return nil, err
	}

	p.ID = r.allocate(collParties)
	if err := r.store.Insert(collParties, key(p.ID), p); err != nil {
		return nil, err
	}
	return &p, nil
}

// checkPartyUnique scans a vote's parties for a name/code collision,
// skipping excludeID. Caller holds r.mu.
func (r *Registry) checkPartyUnique(voteID int64, name, code string, excludeID int64) error {
	var conflict bool
	r.store.ForEach(collParties, func(_ string, raw json.RawMessage) error {
		var other Party
		if err := json.Unmarshal(raw, &other); err != nil {
			return nil
		}
		if other.VoteID != voteID || other.ID == excludeID {
			return nil
		}
		if other.Name == name || (code != "" && other.Code == code) {
			conflict = true
		}
		return nil
	})
	if conflict {
		return ErrDuplicateParty
	}
	return nil
}

// GetParty fetches one party.
func (r *Registry) GetParty(id int64) (*Party, error) {
	var p Party
	if err := r.store.Get(collParties, key(id), &p); err != nil {
		return nil, ErrPartyNotFound
	}
	return &p, nil
}

// ListParties returns a vote's parties ordered by id. activeOnly filters to
// active parties.
func (r *Registry) ListParties(voteID int64, activeOnly bool) ([]Party, error) {
	if _, err := r.GetVote(voteID); err != nil {
		return nil, err
	}

	var parties []Party
	err := r.store.ForEach(collParties, func(_ string, raw json.RawMessage) error {
		var p Party
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.VoteID != voteID {
			return nil
		}
		if activeOnly && !p.IsActive {
			return nil
		}
		parties = append(parties, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(parties, func(i, j int) bool { return parties[i].ID < parties[j].ID })
	return parties, nil
}

// UpdateParty applies the non-nil fields of u.
func (r *Registry) UpdateParty(id int64, u PartyUpdate) (*Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.GetParty(id)
	if err != nil {
		return nil, err
	}

	name, code := p.Name, p.Code
	if u.Name != nil {
		name = *u.Name
	}
	if u.Code != nil {
		code = *u.Code
	}
	if err := r.checkPartyUnique(p.VoteID, name, code, p.ID); err != nil {
		return nil, err
	}

	p.Name, p.Code = name, code
	if u.SymbolURL != nil {
		p.SymbolURL = *u.SymbolURL
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}
	if err := r.store.Put(collParties, key(id), p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteParty removes a party.
func (r *Registry) DeleteParty(id int64) error {
	if err := r.store.Delete(collParties, key(id)); err != nil {
		return ErrPartyNotFound
	}
	return nil
}

// EnsureActiveParty verifies the party exists, belongs to the vote, and is
// active.
func (r *Registry) EnsureActiveParty(partyID, voteID int64) error {
	p, err := r.GetParty(partyID)
	if err != nil {
		return err
	}
	if p.VoteID != voteID || !p.IsActive {
		return ErrPartyNotFound
	}
	return nil
}

// ---- Voters ----

// CreateVoter registers a voter; a non-empty fingerprint must be unique.
func (r *Registry) CreateVoter(v Voter) (*Voter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Fingerprint != "" {
		if _, taken := r.fingerprints[v.Fingerprint]; taken {
			return nil, ErrDuplicateFingerprint
		}
	}

	v.ID = r.allocate(collVoters)
	v.CreatedAt = time.Now().UTC()
	if err := r.store.Insert(collVoters, key(v.ID), v); err != nil {
		return nil, err
	}
	if v.Fingerprint != "" {
		r.fingerprints[v.Fingerprint] = v.ID
	}
	return &v, nil
}

// GetVoter fetches one voter.
func (r *Registry) GetVoter(id int64) (*Voter, error) {
	var v Voter
	if err := r.store.Get(collVoters, key(id), &v); err != nil {
		return nil, ErrVoterNotFound
	}
	return &v, nil
}

// VoterByFingerprint resolves a fingerprint to its voter.
func (r *Registry) VoterByFingerprint(fingerprint string) (*Voter, error) {
	r.mu.Lock()
	id, ok := r.fingerprints[fingerprint]
	r.mu.Unlock()

	if !ok {
		return nil, ErrVoterNotFound
	}
	return r.GetVoter(id)
}

// ListVoters returns voters newest first, optionally filtered by a
// substring match over name, NIC, email and mobile, with limit/offset
// paging.
func (r *Registry) ListVoters(q string, limit, offset int) ([]Voter, error) {
	var voters []Voter
	needle := strings.ToLower(q)

	err := r.store.ForEach(collVoters, func(_ string, raw json.RawMessage) error {
		var v Voter
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if needle != "" && !voterMatches(&v, needle) {
			return nil
		}
		voters = append(voters, v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(voters, func(i, j int) bool { return voters[i].ID > voters[j].ID })
	if offset >= len(voters) {
		return []Voter{}, nil
	}
	voters = voters[offset:]
	if limit > 0 && limit < len(voters) {
		voters = voters[:limit]
	}
	return voters, nil
}

func voterMatches(v *Voter, needle string) bool {
	for _, field := range []string{v.FullName, v.NIC, v.Email, v.Mobile} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// VoterUpdate carries optional voter field changes; nil means unchanged.
type VoterUpdate struct {
	FullName       *string `json:"full_name,omitempty"`
	NIC            *string `json:"nic,omitempty"`
	DOB            *string `json:"dob,omitempty"`
	Gender         *string `json:"gender,omitempty"`
	Household      *string `json:"household,omitempty"`
	Mobile         *string `json:"mobile,omitempty"`
	Email          *string `json:"email,omitempty"`
	LocationID     *string `json:"location_id,omitempty"`
	Administration *string `json:"administration,omitempty"`
	Electoral      *string `json:"electoral,omitempty"`
	Polling        *string `json:"polling,omitempty"`
	GN             *string `json:"gn,omitempty"`
	Fingerprint    *string `json:"fingerprint,omitempty"`
}

// UpdateVoter applies the non-nil fields of u, keeping the fingerprint
// index consistent.
func (r *Registry) UpdateVoter(id int64, u VoterUpdate) (*Voter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.GetVoter(id)
	if err != nil {
		return nil, err
	}

	if u.Fingerprint != nil && *u.Fingerprint != v.Fingerprint {
		if owner, taken := r.fingerprints[*u.Fingerprint]; taken && owner != id {
			return nil, ErrDuplicateFingerprint
		}
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&v.FullName, u.FullName)
	apply(&v.NIC, u.NIC)
	apply(&v.DOB, u.DOB)
	apply(&v.Gender, u.Gender)
	apply(&v.Household, u.Household)
	apply(&v.Mobile, u.Mobile)
	apply(&v.Email, u.Email)
	apply(&v.LocationID, u.LocationID)
	apply(&v.Administration, u.Administration)
	apply(&v.Electoral, u.Electoral)
	apply(&v.Polling, u.Polling)
	apply(&v.GN, u.GN)

	oldFingerprint := v.Fingerprint
	apply(&v.Fingerprint, u.Fingerprint)

	if err := r.store.Put(collVoters, key(id), v); err != nil {
		return nil, err
	}
	if oldFingerprint != v.Fingerprint {
		delete(r.fingerprints, oldFingerprint)
		if v.Fingerprint != "" {
			r.fingerprints[v.Fingerprint] = id
		}
	}
	return v, nil
}

// DeleteVoter removes a voter and its fingerprint index entry.
func (r *Registry) DeleteVoter(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.GetVoter(id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(collVoters, key(id)); err != nil {
		return ErrVoterNotFound
	}
	if v.Fingerprint != "" {
		delete(r.fingerprints, v.Fingerprint)
	}
	return nil
}
