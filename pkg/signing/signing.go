// Package signing implements the authenticated envelope used on every
// inter-node request: an HMAC-SHA256 signature over
// "<unix seconds>.<canonical body>" carried in the X-Timestamp and
// X-Signature headers, with a bounded freshness window to limit replay.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// HeaderTimestamp carries the request's unix-seconds timestamp.
	HeaderTimestamp = "X-Timestamp"
	// HeaderSignature carries the lowercase hex HMAC-SHA256 signature.
	HeaderSignature = "X-Signature"

	// FreshnessWindow is the maximum allowed skew between the request
	// timestamp and the receiver's clock.
	FreshnessWindow = 60 * time.Second
)

var (
	// ErrMissingSignature is returned when either transport header is absent
	ErrMissingSignature = errors.New("missing signature headers")

	// ErrStaleTimestamp is returned when the timestamp is unparsable or
	// outside the freshness window
	ErrStaleTimestamp = errors.New("timestamp outside freshness window")

	// ErrBadSignature is returned when the recomputed signature does not
	// match the provided one
	ErrBadSignature = errors.New("signature mismatch")
)

// Canonicalize returns the canonical form of a JSON request body: a compact
// object with lexicographically sorted keys and no insignificant whitespace.
// An empty body canonicalizes to the literal {}. Numbers are preserved
// digit-for-digit so 61-bit share deltas survive the round trip.
func Canonicalize(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	// encoding/json writes map keys sorted and output compact, which is
	// exactly the canonical form the signature is defined over.
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Signer signs and verifies timestamped payloads with the process-wide
// shared HMAC key.
type Signer struct {
	key []byte
	now func() time.Time
}

// New creates a Signer for the given shared key. Keys of at least 32 bytes
// are recommended.
func New(key []byte) *Signer {
	return &Signer{key: key, now: time.Now}
}

// Sign returns the timestamp and signature headers for an already-canonical
// body.
func (s *Signer) Sign(canonical []byte) (ts, sig string) {
	ts = strconv.FormatInt(s.now().Unix(), 10)
	return ts, s.signAt(ts, canonical)
}

func (s *Signer) signAt(ts string, canonical []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the transport headers against a canonical body. The checks
// run in contract order: header presence, freshness, then a constant-time
// signature comparison. Callers must report all failures to external peers
// as a generic authentication error; the distinct sentinels are for logs.
func (s *Signer) Verify(ts, sig string, canonical []byte) error {
	if ts == "" || sig == "" {
		return ErrMissingSignature
	}

	tsec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	skew := s.now().Unix() - tsec
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(FreshnessWindow/time.Second) {
		return ErrStaleTimestamp
	}

	expected := s.signAt(ts, canonical)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}
