package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mpcvote/mpcvote/pkg/livefeed"
	"github.com/mpcvote/mpcvote/pkg/registry"
	"github.com/mpcvote/mpcvote/pkg/store"
)

// Handler exposes the coordinator's public API: ballot cast and tally plus
// the registry CRUD the voting frontends depend on.
type Handler struct {
	coord *Coordinator
	reg   *registry.Registry
	feed  *livefeed.Hub // nil disables the live feed
}

// NewHandler wires the public handler. feed may be nil.
func NewHandler(c *Coordinator, reg *registry.Registry, feed *livefeed.Hub) *Handler {
	return &Handler{coord: c, reg: reg, feed: feed}
}

// Routes builds the coordinator's public router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Ballot protocol
	r.Post("/api/vote/cast_mpc", h.handleCast)
	r.Get("/api/vote/tally_mpc/{vote_id}", h.handleTally)

	// Votes
	r.Post("/api/vote/create", h.handleCreateVote)
	r.Get("/api/votes", h.handleListVotes)
	r.Get("/api/vote/{id}", h.handleGetVote)
	r.Get("/api/vote/{id}/public", h.handlePublicVote)
	r.Put("/api/vote/{id}", h.handleUpdateVote)
	r.Patch("/api/vote/{id}/status", h.handleVoteStatus)
	r.Delete("/api/vote/{id}", h.handleDeleteVote)

	// Parties
	r.Post("/api/party/create", h.handleCreateParty)
	r.Put("/api/party/{id}", h.handleUpdateParty)
	r.Delete("/api/party/{id}", h.handleDeleteParty)
	r.Get("/api/parties/{vote_id}", h.handleListParties)

	// Voters
	r.Post("/api/register", h.handleRegister)
	r.Post("/api/fingerprint/verify", h.handleFingerprintVerify)
	r.Post("/api/fingerprint/scan", h.handleFingerprintScan)
	r.Get("/api/fingerprint/scan", h.handleFingerprintRead)
	r.Get("/api/admin/voters", h.handleListVoters)
	r.Post("/api/admin/voters", h.handleCreateVoter)
	r.Get("/api/admin/voters/{id}", h.handleGetVoter)
	r.Put("/api/admin/voters/{id}", h.handleUpdateVoter)
	r.Delete("/api/admin/voters/{id}", h.handleDeleteVoter)

	// Admin accounts
	r.Post("/api/admin/create", h.handleAdminCreate)
	r.Post("/api/admin/login", h.handleAdminLogin)

	if h.feed != nil {
		r.Get("/ws/feed", h.feed.HandleFeed)
	}

	return r
}

// ---- Ballot protocol ----

type castRequest struct {
	Fingerprint string `json:"fingerprint"`
	VoteID      int64  `json:"vote_id"`
	PartyID     int64  `json:"party_id"`
}

func (h *Handler) handleCast(w http.ResponseWriter, r *http.Request) {
	var req castRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Fingerprint == "" || req.VoteID <= 0 || req.PartyID <= 0 {
		writeError(w, http.StatusBadRequest, "BadRequest", "fingerprint, vote_id and party_id are required")
		return
	}

	txRoot, err := h.coord.Cast(r.Context(), req.Fingerprint, req.VoteID, req.PartyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.feed != nil {
		h.feed.BallotRecorded(req.VoteID, txRoot)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"tx_id":  txRoot,
	})
}

func (h *Handler) handleTally(w http.ResponseWriter, r *http.Request) {
	voteID, ok := pathID(w, r, "vote_id")
	if !ok {
		return
	}

	result, err := h.coord.Tally(r.Context(), voteID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---- Votes ----

func (h *Handler) handleCreateVote(w http.ResponseWriter, r *http.Request) {
	var v registry.Vote
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil || v.Title == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "title is required")
		return
	}

	created, err := h.reg.CreateVote(v)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := h.reg.ListVotes()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"votes": votes, "count": len(votes)})
}

func (h *Handler) handleGetVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.reg.GetVote(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handlePublicVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.reg.GetVote(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	parties, err := h.reg.ListParties(id, true)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vote":    v,
		"parties": parties,
		"is_open": h.reg.EnsureVoteOpen(id, h.coord.now()) == nil,
	})
}

func (h *Handler) handleUpdateVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var u registry.VoteUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed payload")
		return
	}
	v, err := h.reg.UpdateVote(id, u)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleVoteStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed payload")
		return
	}
	status, err := registry.ParseVoteStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	v, err := h.reg.SetVoteStatus(id, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleDeleteVote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reg.DeleteVote(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// ---- Parties ----

func (h *Handler) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	var p registry.Party
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Name == "" || p.VoteID <= 0 {
		writeError(w, http.StatusBadRequest, "BadRequest", "name and vote_id are required")
		return
	}

	created, err := h.reg.CreateParty(p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateParty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var u registry.PartyUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed payload")
		return
	}
	p, err := h.reg.UpdateParty(id, u)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleDeleteParty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reg.DeleteParty(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handler) handleListParties(w http.ResponseWriter, r *http.Request) {
	voteID, ok := pathID(w, r, "vote_id")
	if !ok {
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	parties, err := h.reg.ListParties(voteID, activeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"parties": parties, "count": len(parties)})
}

// ---- Voters ----

// handleRegister creates a voter. When the payload carries no fingerprint,
// the capture buffer's current value is consumed; the buffer is cleared on
// success either way.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var v registry.Voter
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil || v.FullName == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "full_name is required")
		return
	}

	if v.Fingerprint == "" {
		v.Fingerprint, _ = h.reg.Fingerprint.Get()
	}

	created, err := h.reg.CreateVoter(v)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.reg.Fingerprint.Clear()
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleFingerprintVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fingerprint == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "fingerprint is required")
		return
	}

	voter, err := h.reg.VoterByFingerprint(req.Fingerprint)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"voter_id":  voter.ID,
		"full_name": voter.FullName,
	})
}

func (h *Handler) handleFingerprintScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fingerprint == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "fingerprint is required")
		return
	}

	h.reg.Fingerprint.Set(req.Fingerprint)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handler) handleFingerprintRead(w http.ResponseWriter, r *http.Request) {
	value, updatedAt := h.reg.Fingerprint.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fingerprint": value,
		"updated_at":  updatedAt,
	})
}

func (h *Handler) handleListVoters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	voters, err := h.reg.ListVoters(q, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"voters": voters, "count": len(voters)})
}

func (h *Handler) handleCreateVoter(w http.ResponseWriter, r *http.Request) {
	var v registry.Voter
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil || v.FullName == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "full_name is required")
		return
	}

	created, err := h.reg.CreateVoter(v)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetVoter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.reg.GetVoter(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleUpdateVoter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var u registry.VoterUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed payload")
		return
	}
	v, err := h.reg.UpdateVoter(id, u)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleDeleteVoter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reg.DeleteVoter(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// ---- Admin accounts ----

// adminView is the admin representation handed to clients; the password hash
// never leaves the server.
type adminView struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func (h *Handler) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "email and password are required")
		return
	}

	a, err := h.reg.CreateAdmin(req.FullName, req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adminView{ID: a.ID, FullName: a.FullName, Email: a.Email})
}

func (h *Handler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "email and password are required")
		return
	}

	a, err := h.reg.AuthenticateAdmin(req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"admin": adminView{ID: a.ID, FullName: a.FullName, Email: a.Email},
	})
}

// ---- Helpers ----

// pathID parses a numeric URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// writeDomainError maps domain errors onto the HTTP error taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	var gw *GatewayError
	switch {
	case errors.Is(err, registry.ErrVoteNotFound),
		errors.Is(err, registry.ErrPartyNotFound),
		errors.Is(err, registry.ErrVoterNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, ErrAlreadyVoted),
		errors.Is(err, registry.ErrDuplicateParty),
		errors.Is(err, registry.ErrDuplicateFingerprint),
		errors.Is(err, registry.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, registry.ErrVoteNotOpen),
		errors.Is(err, registry.ErrVoteNotStarted),
		errors.Is(err, registry.ErrVoteEnded):
		writeError(w, http.StatusConflict, "Precondition", err.Error())
	case errors.Is(err, registry.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "AuthFailure", err.Error())
	case errors.As(err, &gw):
		writeError(w, http.StatusBadGateway, "Gateway", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
	}
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
