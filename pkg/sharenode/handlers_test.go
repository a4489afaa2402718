package sharenode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mpcvote/mpcvote/pkg/metrics"
	"github.com/mpcvote/mpcvote/pkg/secret"
	"github.com/mpcvote/mpcvote/pkg/signing"
	"github.com/mpcvote/mpcvote/pkg/store"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T) (*httptest.Server, *Node, *metrics.Collector) {
	t.Helper()
	s, err := store.Open(&store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	node := New("B", s)
	collector := metrics.NewCollector()
	h := NewHandler(node, collector)

	r := chi.NewRouter()
	r.Mount("/internal/share", h.Routes(signing.New(testKey)))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, node, collector
}

func TestSignedPrepareCommitSnapshot(t *testing.T) {
	srv, _, collector := newTestServer(t)
	client := signing.NewClient(srv.URL, testKey, 5*time.Second)
	ctx := context.Background()

	err := client.PostJSON(ctx, "/internal/share/prepare", map[string]interface{}{
		"tx_id":    "abc-B",
		"vote_id":  int64(7),
		"party_id": int64(3),
		"delta":    int64(99),
	})
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	err = client.PostJSON(ctx, "/internal/share/commit", map[string]interface{}{"tx_id": "abc-B"})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	var snap Snapshot
	if err := client.GetJSON(ctx, "/internal/share/snapshot", &snap); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap.NodeID != "B" || snap.Modulus != secret.Modulus {
		t.Errorf("snapshot identity = %q modulus = %d", snap.NodeID, snap.Modulus)
	}
	if len(snap.Shares) != 1 || snap.Shares[0].Share != 99 {
		t.Errorf("shares = %+v", snap.Shares)
	}

	stats := collector.GetStats()
	if stats.SharePrepared != 1 || stats.ShareCommitted != 1 || stats.SnapshotsServed != 1 {
		t.Errorf("counters = %+v", stats)
	}
}

func TestUnsignedRequestRejected(t *testing.T) {
	srv, _, collector := newTestServer(t)

	resp, err := http.Post(srv.URL+"/internal/share/commit", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if collector.GetStats().AuthRejections != 1 {
		t.Error("auth rejection not counted")
	}
}

func TestWrongKeyRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := signing.NewClient(srv.URL, []byte("wrong-key-wrong-key-wrong-key-00"), 5*time.Second)

	err := client.PostJSON(context.Background(), "/internal/share/commit", map[string]interface{}{"tx_id": "x"})
	var se *signing.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("got %v, want 401 StatusError", err)
	}
}

func TestCommitUnknownTxReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := signing.NewClient(srv.URL, testKey, 5*time.Second)

	err := client.PostJSON(context.Background(), "/internal/share/commit", map[string]interface{}{"tx_id": "nope"})
	var se *signing.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("got %v, want 404 StatusError", err)
	}
}

func TestCommitAbortedTxReturns409(t *testing.T) {
	srv, node, _ := newTestServer(t)
	client := signing.NewClient(srv.URL, testKey, 5*time.Second)

	node.Prepare("abc-B", 7, 3, 1)
	node.Abort("abc-B")

	err := client.PostJSON(context.Background(), "/internal/share/commit", map[string]interface{}{"tx_id": "abc-B"})
	var se *signing.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusConflict {
		t.Errorf("got %v, want 409 StatusError", err)
	}
}

func TestPrepareWithoutTxIDReturns400(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := signing.NewClient(srv.URL, testKey, 5*time.Second)

	err := client.PostJSON(context.Background(), "/internal/share/prepare", map[string]interface{}{
		"vote_id":  int64(7),
		"party_id": int64(3),
		"delta":    int64(1),
	})
	var se *signing.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("got %v, want 400 StatusError", err)
	}
}
