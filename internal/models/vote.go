package models

import (
	"time"

	"github.com/google/uuid"
)

// Vote is a ledger entry: one voter, one contestant, one post.
type Vote struct {
	ID           uuid.UUID `json:"id"`
	VoterID      uuid.UUID `json:"voter_id"`
	ContestantID uuid.UUID `json:"contestant_id"`
	PostID       uuid.UUID `json:"post_id"`
	CastAt       time.Time `json:"cast_at"`
}

// VoteRecord is a vote joined with voter and contestant details for history views.
type VoteRecord struct {
	Vote
	VoterName       string `json:"voter_name"`
	VoterEmail      string `json:"voter_email"`
	ContestantName  string `json:"contestant_name"`
	ContestantImage string `json:"contestant_image,omitempty"`
	PostName        string `json:"post_name"`
}
