package signing

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("mpcvote/signing")

// Middleware enforces the signed-transport contract on every request it
// wraps. The request body is buffered so downstream handlers can read it
// again. onReject, if non-nil, is invoked once per rejected request (metrics
// hook). External callers always receive the same generic 401; the specific
// reason goes to the log only.
func Middleware(s *Signer, onReject func()) func(http.Handler) http.Handler {
	reject := func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warnw("rejected unsigned or invalid request",
			"method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "reason", err)
		if onReject != nil {
			onReject()
		}
		writeAuthError(w)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				reject(w, r, err)
				return
			}
			r.Body.Close()

			canonical, err := Canonicalize(body)
			if err != nil {
				reject(w, r, err)
				return
			}

			ts := r.Header.Get(HeaderTimestamp)
			sig := r.Header.Get(HeaderSignature)
			if err := s.Verify(ts, sig, canonical); err != nil {
				reject(w, r, err)
				return
			}

			// Hand the original bytes back to the handler.
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes the generic authentication failure response. It does
// not distinguish missing, stale or mismatched signatures to the caller.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":    false,
		"error": "authentication failed",
		"code":  http.StatusUnauthorized,
	})
}
