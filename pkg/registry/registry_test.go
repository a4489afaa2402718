package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mpcvote/mpcvote/pkg/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(&store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	r, err := New(s)
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	return r
}

func TestVoteStatusRejectsUnknown(t *testing.T) {
	var s VoteStatus
	if err := json.Unmarshal([]byte(`"open"`), &s); err != nil {
		t.Fatalf("valid status rejected: %v", err)
	}
	if err := json.Unmarshal([]byte(`"paused"`), &s); err == nil {
		t.Error("unknown status accepted")
	}
}

func TestCreateAndGetVote(t *testing.T) {
	r := newTestRegistry(t)

	v, err := r.CreateVote(Vote{Title: "General Election"})
	if err != nil {
		t.Fatalf("CreateVote failed: %v", err)
	}
	if v.ID == 0 {
		t.Error("vote id not allocated")
	}
	if v.Status != StatusDraft {
		t.Errorf("status = %s, want draft default", v.Status)
	}

	got, err := r.GetVote(v.ID)
	if err != nil {
		t.Fatalf("GetVote failed: %v", err)
	}
	if got.Title != "General Election" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestEnsureVoteOpen(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now()

	v, _ := r.CreateVote(Vote{Title: "t"})
	if err := r.EnsureVoteOpen(v.ID, now); !errors.Is(err, ErrVoteNotOpen) {
		t.Errorf("draft vote: got %v, want ErrVoteNotOpen", err)
	}

	r.SetVoteStatus(v.ID, StatusOpen)
	if err := r.EnsureVoteOpen(v.ID, now); err != nil {
		t.Errorf("open vote without window: got %v", err)
	}

	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	r.UpdateVote(v.ID, VoteUpdate{StartAt: &future})
	if err := r.EnsureVoteOpen(v.ID, now); !errors.Is(err, ErrVoteNotStarted) {
		t.Errorf("not started: got %v, want ErrVoteNotStarted", err)
	}

	r.UpdateVote(v.ID, VoteUpdate{StartAt: &past, EndAt: &past})
	if err := r.EnsureVoteOpen(v.ID, now); !errors.Is(err, ErrVoteEnded) {
		t.Errorf("ended: got %v, want ErrVoteEnded", err)
	}

	if err := r.EnsureVoteOpen(999, now); !errors.Is(err, ErrVoteNotFound) {
		t.Errorf("missing vote: got %v, want ErrVoteNotFound", err)
	}
}

func TestPartyUniquenessWithinVote(t *testing.T) {
	r := newTestRegistry(t)
	v, _ := r.CreateVote(Vote{Title: "t"})

	if _, err := r.CreateParty(Party{VoteID: v.ID, Name: "Red", Code: "RD", IsActive: true}); err != nil {
		t.Fatalf("CreateParty failed: %v", err)
	}
	if _, err := r.CreateParty(Party{VoteID: v.ID, Name: "Red", Code: "R2", IsActive: true}); !errors.Is(err, ErrDuplicateParty) {
		t.Errorf("duplicate name: got %v, want ErrDuplicateParty", err)
	}
	if _, err := r.CreateParty(Party{VoteID: v.ID, Name: "Crimson", Code: "RD", IsActive: true}); !errors.Is(err, ErrDuplicateParty) {
		t.Errorf("duplicate code: got %v, want ErrDuplicateParty", err)
	}

	// Same name in a different vote is fine.
	v2, _ := r.CreateVote(Vote{Title: "other"})
	if _, err := r.CreateParty(Party{VoteID: v2.ID, Name: "Red", Code: "RD", IsActive: true}); err != nil {
		t.Errorf("same name in other vote rejected: %v", err)
	}
}

func TestEnsureActiveParty(t *testing.T) {
	r := newTestRegistry(t)
	v, _ := r.CreateVote(Vote{Title: "t"})
	p, _ := r.CreateParty(Party{VoteID: v.ID, Name: "Red", IsActive: true})

	if err := r.EnsureActiveParty(p.ID, v.ID); err != nil {
		t.Errorf("active party rejected: %v", err)
	}

	inactive := false
	r.UpdateParty(p.ID, PartyUpdate{IsActive: &inactive})
	if err := r.EnsureActiveParty(p.ID, v.ID); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("inactive party: got %v, want ErrPartyNotFound", err)
	}

	if err := r.EnsureActiveParty(p.ID, v.ID+1); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("wrong vote: got %v, want ErrPartyNotFound", err)
	}
}

func TestVoterFingerprintUniqueness(t *testing.T) {
	r := newTestRegistry(t)

	v1, err := r.CreateVoter(Voter{FullName: "A", NIC: "1", Fingerprint: "fp-42"})
	if err != nil {
		t.Fatalf("CreateVoter failed: %v", err)
	}
	if _, err := r.CreateVoter(Voter{FullName: "B", NIC: "2", Fingerprint: "fp-42"}); !errors.Is(err, ErrDuplicateFingerprint) {
		t.Errorf("duplicate fingerprint: got %v, want ErrDuplicateFingerprint", err)
	}

	got, err := r.VoterByFingerprint("fp-42")
	if err != nil {
		t.Fatalf("VoterByFingerprint failed: %v", err)
	}
	if got.ID != v1.ID {
		t.Errorf("resolved voter %d, want %d", got.ID, v1.ID)
	}

	if _, err := r.VoterByFingerprint("fp-unknown"); !errors.Is(err, ErrVoterNotFound) {
		t.Errorf("unknown fingerprint: got %v, want ErrVoterNotFound", err)
	}
}

func TestUpdateVoterFingerprintIndex(t *testing.T) {
	r := newTestRegistry(t)
	v, _ := r.CreateVoter(Voter{FullName: "A", Fingerprint: "fp-old"})

	newFP := "fp-new"
	if _, err := r.UpdateVoter(v.ID, VoterUpdate{Fingerprint: &newFP}); err != nil {
		t.Fatalf("UpdateVoter failed: %v", err)
	}

	if _, err := r.VoterByFingerprint("fp-old"); !errors.Is(err, ErrVoterNotFound) {
		t.Error("old fingerprint still resolves")
	}
	if _, err := r.VoterByFingerprint("fp-new"); err != nil {
		t.Errorf("new fingerprint does not resolve: %v", err)
	}
}

func TestListVotersSearchAndPaging(t *testing.T) {
	r := newTestRegistry(t)
	r.CreateVoter(Voter{FullName: "Alice Smith", NIC: "100"})
	r.CreateVoter(Voter{FullName: "Bob Smith", NIC: "200"})
	r.CreateVoter(Voter{FullName: "Carol Jones", NIC: "300"})

	smiths, err := r.ListVoters("smith", 50, 0)
	if err != nil {
		t.Fatalf("ListVoters failed: %v", err)
	}
	if len(smiths) != 2 {
		t.Errorf("search returned %d voters, want 2", len(smiths))
	}

	page, _ := r.ListVoters("", 2, 0)
	if len(page) != 2 {
		t.Errorf("limit=2 returned %d", len(page))
	}
	// Newest first.
	if page[0].FullName != "Carol Jones" {
		t.Errorf("first voter = %q, want Carol Jones", page[0].FullName)
	}

	rest, _ := r.ListVoters("", 2, 2)
	if len(rest) != 1 {
		t.Errorf("offset=2 returned %d, want 1", len(rest))
	}
}

func TestAdminCreateAndLogin(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.CreateAdmin("Admin", "a@example.com", "s3cret"); err != nil {
		t.Fatalf("CreateAdmin failed: %v", err)
	}
	if _, err := r.CreateAdmin("Other", "a@example.com", "x"); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("duplicate email: got %v, want ErrDuplicateEmail", err)
	}

	a, err := r.AuthenticateAdmin("a@example.com", "s3cret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if a.FullName != "Admin" {
		t.Errorf("full name = %q", a.FullName)
	}

	if _, err := r.AuthenticateAdmin("a@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := r.AuthenticateAdmin("nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestFingerprintBuffer(t *testing.T) {
	b := NewBuffer()

	if v, _ := b.Get(); v != "" {
		t.Errorf("fresh buffer holds %q", v)
	}

	b.Set("fp-1")
	v1, t1 := b.Get()
	if v1 != "fp-1" {
		t.Errorf("Get = %q, want fp-1", v1)
	}

	// Last write wins.
	b.Set("fp-2")
	v2, t2 := b.Get()
	if v2 != "fp-2" {
		t.Errorf("Get = %q, want fp-2", v2)
	}
	if t2.Before(t1) {
		t.Error("updatedAt went backwards")
	}

	b.Clear()
	if v, _ := b.Get(); v != "" {
		t.Errorf("buffer not cleared, holds %q", v)
	}
}

func TestRegistryReloadRestoresIndexes(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(&store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	r, _ := New(s)
	v, _ := r.CreateVoter(Voter{FullName: "A", Fingerprint: "fp-42"})
	r.CreateAdmin("Admin", "a@example.com", "pw")
	s.Close()

	s2, err := store.Open(&store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	r2, err := New(s2)
	if err != nil {
		t.Fatalf("registry reload failed: %v", err)
	}

	got, err := r2.VoterByFingerprint("fp-42")
	if err != nil || got.ID != v.ID {
		t.Errorf("fingerprint index not restored: %v", err)
	}
	if _, err := r2.CreateAdmin("Dup", "a@example.com", "pw"); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("email index not restored: got %v", err)
	}

	// Id counter continues past existing ids.
	v2, _ := r2.CreateVoter(Voter{FullName: "B"})
	if v2.ID <= v.ID {
		t.Errorf("id counter regressed: %d <= %d", v2.ID, v.ID)
	}
}
