package registry

import "errors"

var (
	// ErrVoteNotFound is returned when a vote is not found
	ErrVoteNotFound = errors.New("vote not found")

	// ErrPartyNotFound is returned when a party is not found in the vote or
	// is inactive
	ErrPartyNotFound = errors.New("party not found in this vote or inactive")

	// ErrVoterNotFound is returned when no voter matches
	ErrVoterNotFound = errors.New("voter not found")

	// ErrVoteNotOpen is returned when the vote's status is not open
	ErrVoteNotOpen = errors.New("vote is not open")

	// ErrVoteNotStarted is returned when now is before the vote's start time
	ErrVoteNotStarted = errors.New("vote not started")

	// ErrVoteEnded is returned when now is after the vote's end time
	ErrVoteEnded = errors.New("vote ended")

	// ErrDuplicateFingerprint is returned when a fingerprint is already
	// registered to another voter
	ErrDuplicateFingerprint = errors.New("fingerprint already registered")

	// ErrDuplicateParty is returned on a duplicate party name or code within
	// one vote
	ErrDuplicateParty = errors.New("duplicate party name/code in this vote")

	// ErrDuplicateEmail is returned when an admin email is already taken
	ErrDuplicateEmail = errors.New("email exists")

	// ErrInvalidCredentials is returned on a failed admin login
	ErrInvalidCredentials = errors.New("invalid credentials")
)
