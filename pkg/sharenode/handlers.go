package sharenode

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mpcvote/mpcvote/pkg/metrics"
	"github.com/mpcvote/mpcvote/pkg/signing"
)

// Handler exposes the node's four operations over HTTP. Every route sits
// behind the signed-transport middleware.
type Handler struct {
	node    *Node
	metrics *metrics.Collector
}

// NewHandler creates a handler for n. The collector must not be nil.
func NewHandler(n *Node, m *metrics.Collector) *Handler {
	return &Handler{node: n, metrics: m}
}

// Routes builds the router for /internal/share.
func (h *Handler) Routes(signer *signing.Signer) chi.Router {
	r := chi.NewRouter()
	r.Use(signing.Middleware(signer, h.metrics.IncAuthRejection))
	r.Post("/prepare", h.handlePrepare)
	r.Post("/commit", h.handleCommit)
	r.Post("/abort", h.handleAbort)
	r.Get("/snapshot", h.handleSnapshot)
	return r
}

type prepareRequest struct {
	TxID    string `json:"tx_id"`
	VoteID  int64  `json:"vote_id"`
	PartyID int64  `json:"party_id"`
	Delta   int64  `json:"delta"`
}

type txRequest struct {
	TxID string `json:"tx_id"`
}

func (h *Handler) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxID == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "tx_id, vote_id, party_id and delta are required")
		return
	}

	if err := h.node.Prepare(req.TxID, req.VoteID, req.PartyID, req.Delta); err != nil {
		h.writeNodeError(w, r, req.TxID, err)
		return
	}
	h.metrics.IncSharePrepared()
	writeStatus(w, "prepared")
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxID == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "tx_id is required")
		return
	}

	if err := h.node.Commit(req.TxID); err != nil {
		h.writeNodeError(w, r, req.TxID, err)
		return
	}
	h.metrics.IncShareCommitted()
	writeStatus(w, "committed")
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxID == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "tx_id is required")
		return
	}

	if err := h.node.Abort(req.TxID); err != nil {
		h.writeNodeError(w, r, req.TxID, err)
		return
	}
	h.metrics.IncShareAborted()
	writeStatus(w, "aborted")
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.node.Snapshot()
	if err != nil {
		h.writeNodeError(w, r, "", err)
		return
	}
	h.metrics.IncSnapshotServed()
	writeJSON(w, http.StatusOK, snap)
}

// writeNodeError maps node errors onto the HTTP taxonomy.
func (h *Handler) writeNodeError(w http.ResponseWriter, r *http.Request, txID string, err error) {
	log.Warnw("share operation failed", "path", r.URL.Path, "tx_id", txID, "error", err)

	switch {
	case errors.Is(err, ErrUnknownTransaction):
		writeError(w, http.StatusNotFound, "UnknownTransaction", err.Error())
	case errors.Is(err, ErrTransactionAborted):
		writeError(w, http.StatusConflict, "TransactionAborted", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
	}
}

func writeStatus(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"status": status,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorw("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorType, message string) {
	writeJSON(w, statusCode, map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": message,
		"code":    statusCode,
	})
}
