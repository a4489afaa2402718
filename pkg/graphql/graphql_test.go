package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mpcvote/mpcvote/pkg/coordinator"
	"github.com/mpcvote/mpcvote/pkg/registry"
	"github.com/mpcvote/mpcvote/pkg/secret"
	"github.com/mpcvote/mpcvote/pkg/store"
)

// stubTallies serves a canned tally without touching share nodes.
type stubTallies struct {
	result *coordinator.TallyResult
	err    error
}

func (s *stubTallies) Tally(_ context.Context, voteID int64) (*coordinator.TallyResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestHandler(t *testing.T, tallies TallyProvider) (*Handler, *registry.Registry) {
	t.Helper()
	s, err := store.Open(&store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg, err := registry.New(s)
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}

	h, err := NewHandler(reg, tallies)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	return h, reg
}

func query(t *testing.T, srv *httptest.Server, q string) map[string]interface{} {
	t.Helper()

	body, _ := json.Marshal(Request{Query: q})
	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return decoded
}

func TestVoteAndPartiesQuery(t *testing.T) {
	h, reg := newTestHandler(t, &stubTallies{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	v, _ := reg.CreateVote(registry.Vote{Title: "General Election", Status: registry.StatusOpen})
	reg.CreateParty(registry.Party{VoteID: v.ID, Name: "Red", Code: "RD", IsActive: true})
	reg.CreateParty(registry.Party{VoteID: v.ID, Name: "Blue", Code: "BL", IsActive: false})

	resp := query(t, srv, `{ vote(id: 1) { id title status } }`)
	if resp["errors"] != nil {
		t.Fatalf("errors: %v", resp["errors"])
	}
	vote := resp["data"].(map[string]interface{})["vote"].(map[string]interface{})
	if vote["title"] != "General Election" || vote["status"] != "open" {
		t.Errorf("vote = %v", vote)
	}

	resp = query(t, srv, `{ parties(voteId: 1, activeOnly: true) { name isActive } }`)
	parties := resp["data"].(map[string]interface{})["parties"].([]interface{})
	if len(parties) != 1 {
		t.Fatalf("parties = %v", parties)
	}
	if parties[0].(map[string]interface{})["name"] != "Red" {
		t.Errorf("parties = %v", parties)
	}
}

func TestTallyQuery(t *testing.T) {
	stub := &stubTallies{result: &coordinator.TallyResult{
		VoteID:  1,
		Tally:   []coordinator.PartyTally{{PartyID: 3, TotalVotes: 2}},
		Modulus: secret.Modulus,
		Nodes:   map[string]string{"A": "A", "B": "B"},
	}}
	h, reg := newTestHandler(t, stub)
	srv := httptest.NewServer(h)
	defer srv.Close()

	reg.CreateVote(registry.Vote{Title: "t", Status: registry.StatusOpen})

	resp := query(t, srv, `{ tally(voteId: 1) { voteId modulus tally { partyId totalVotes } nodeA } }`)
	if resp["errors"] != nil {
		t.Fatalf("errors: %v", resp["errors"])
	}
	tally := resp["data"].(map[string]interface{})["tally"].(map[string]interface{})
	if tally["modulus"] != "2305843009213693951" {
		t.Errorf("modulus = %v", tally["modulus"])
	}
	rows := tally["tally"].([]interface{})
	if len(rows) != 1 || rows[0].(map[string]interface{})["totalVotes"].(float64) != 2 {
		t.Errorf("rows = %v", rows)
	}
}

func TestUnknownVoteQueryReturnsError(t *testing.T) {
	h, _ := newTestHandler(t, &stubTallies{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp := query(t, srv, `{ vote(id: 999) { id } }`)
	if resp["errors"] == nil {
		t.Error("unknown vote produced no error")
	}
}

func TestNonPostRejected(t *testing.T) {
	h, _ := newTestHandler(t, &stubTallies{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
