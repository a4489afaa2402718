package signing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newSignedTestServer(t *testing.T, key []byte, onReject func()) (*httptest.Server, *[]byte) {
	t.Helper()

	var lastBody []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("handler failed to read body: %v", err)
		}
		lastBody = body
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	srv := httptest.NewServer(Middleware(New(key), onReject)(handler))
	t.Cleanup(srv.Close)
	return srv, &lastBody
}

func TestMiddlewareAcceptsSignedRequest(t *testing.T) {
	srv, lastBody := newSignedTestServer(t, testKey, nil)

	client := NewClient(srv.URL, testKey, 5*time.Second)
	payload := map[string]interface{}{"tx_id": "abc-A", "vote_id": int64(7), "party_id": int64(3), "delta": int64(123)}
	if err := client.PostJSON(context.Background(), "/internal/share/prepare", payload); err != nil {
		t.Fatalf("signed POST rejected: %v", err)
	}

	// The handler must see the exact bytes the client signed.
	if !strings.Contains(string(*lastBody), `"tx_id":"abc-A"`) {
		t.Errorf("handler saw unexpected body: %s", *lastBody)
	}
}

func TestMiddlewareAcceptsSignedGet(t *testing.T) {
	srv, _ := newSignedTestServer(t, testKey, nil)

	client := NewClient(srv.URL, testKey, 5*time.Second)
	var out map[string]interface{}
	if err := client.GetJSON(context.Background(), "/internal/share/snapshot", &out); err != nil {
		t.Fatalf("signed GET rejected: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("unexpected response: %v", out)
	}
}

func TestMiddlewareRejectsUnsignedRequest(t *testing.T) {
	rejected := 0
	srv, _ := newSignedTestServer(t, testKey, func() { rejected++ })

	resp, err := http.Post(srv.URL+"/internal/share/commit", "application/json", strings.NewReader(`{"tx_id":"x"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if rejected != 1 {
		t.Errorf("onReject called %d times, want 1", rejected)
	}
}

func TestMiddlewareRejectsWrongKey(t *testing.T) {
	srv, _ := newSignedTestServer(t, testKey, nil)

	client := NewClient(srv.URL, []byte("wrong-key-wrong-key-wrong-key-ww"), 5*time.Second)
	err := client.PostJSON(context.Background(), "/internal/share/abort", map[string]interface{}{"tx_id": "x"})

	var statusErr *StatusError
	if err == nil {
		t.Fatal("expected rejection with wrong key")
	}
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Errorf("got %v, want 401 StatusError", err)
	}
}

func TestMiddlewareRejectsReplayedRequest(t *testing.T) {
	srv, _ := newSignedTestServer(t, testKey, nil)

	// Capture a valid request and resend it with a 90s old timestamp.
	body := []byte(`{"tx_id":"abc-A"}`)
	canonical, err := Canonicalize(body)
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}

	s := New(testKey)
	old := time.Now().Add(-90 * time.Second)
	ts := strconv.FormatInt(old.Unix(), 10)
	sig := s.signAt(ts, canonical)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/internal/share/prepare", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("replayed request: status = %d, want 401", resp.StatusCode)
	}
}
