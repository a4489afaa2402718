package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// VoteStatus is the closed lifecycle enumeration of a vote. Unknown values
// are rejected at the boundary rather than stored.
type VoteStatus string

const (
	StatusDraft    VoteStatus = "draft"
	StatusOpen     VoteStatus = "open"
	StatusClosed   VoteStatus = "closed"
	StatusArchived VoteStatus = "archived"
)

// ParseVoteStatus validates a raw status string.
func ParseVoteStatus(s string) (VoteStatus, error) {
	switch VoteStatus(s) {
	case StatusDraft, StatusOpen, StatusClosed, StatusArchived:
		return VoteStatus(s), nil
	}
	return "", fmt.Errorf("invalid vote status %q", s)
}

// UnmarshalJSON rejects unknown status values.
func (s *VoteStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseVoteStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Vote is an election. The tally core only ever reads it through GetVote
// and EnsureVoteOpen.
type Vote struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	CreatedBy   *int64     `json:"created_by,omitempty"`
	Status      VoteStatus `json:"status"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Party is a candidate within one vote.
type Party struct {
	ID        int64  `json:"id"`
	VoteID    int64  `json:"vote_id"`
	Name      string `json:"name"`
	Code      string `json:"code,omitempty"`
	SymbolURL string `json:"symbol_url,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// Voter is a registered voter. The fingerprint is an opaque external id,
// unique across voters; the core maps it to the numeric voter id.
type Voter struct {
	ID             int64     `json:"id"`
	FullName       string    `json:"full_name"`
	NIC            string    `json:"nic"`
	DOB            string    `json:"dob"`
	Gender         string    `json:"gender,omitempty"`
	Household      string    `json:"household,omitempty"`
	Mobile         string    `json:"mobile,omitempty"`
	Email          string    `json:"email,omitempty"`
	LocationID     string    `json:"location_id,omitempty"`
	Administration string    `json:"administration,omitempty"`
	Electoral      string    `json:"electoral,omitempty"`
	Polling        string    `json:"polling,omitempty"`
	GN             string    `json:"gn,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Admin is an administrative account; passwords are stored as bcrypt hashes
// only.
type Admin struct {
	ID           int64     `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// VoteUpdate carries optional vote field changes; nil means unchanged.
type VoteUpdate struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
}

// PartyUpdate carries optional party field changes; nil means unchanged.
type PartyUpdate struct {
	Name      *string `json:"name,omitempty"`
	Code      *string `json:"code,omitempty"`
	SymbolURL *string `json:"symbol_url,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}
