package models

import (
	"time"

	"github.com/google/uuid"
)

// ElectionState is whether voting is open or results are public.
type ElectionState string

const (
	StateLive      ElectionState = "live"
	StateAnnounced ElectionState = "announced"
)

// ElectionStatus is the singleton election_status row.
type ElectionStatus struct {
	ResultsAnnounced bool      `json:"results_announced"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// State maps the stored flag onto ElectionState.
func (s ElectionStatus) State() ElectionState {
	if s.ResultsAnnounced {
		return StateAnnounced
	}
	return StateLive
}

// AdjustmentKind identifies an admin override.
type AdjustmentKind string

const (
	AdjustmentDelta AdjustmentKind = "adjust"
	AdjustmentSet   AdjustmentKind = "set"
	AdjustmentReset AdjustmentKind = "reset"
)

// TallyAdjustment records an admin write to a contestant counter that bypassed the ledger.
type TallyAdjustment struct {
	ID uuid.UUID `json:"id"`
	// ContestantID is uuid.Nil once the contestant has been deleted; ContestantName remains.
	ContestantID   uuid.UUID      `json:"contestant_id"`
	ContestantName string         `json:"contestant_name"`
	AdminID        uuid.UUID      `json:"admin_id"`
	Kind           AdjustmentKind `json:"kind"`
	Delta          int64          `json:"delta"`
	Requested      int64          `json:"requested"`
	VotesBefore    int64          `json:"votes_before"`
	VotesAfter     int64          `json:"votes_after"`
	Reason         string         `json:"reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ElectionStats summarizes the election for the admin overview.
type ElectionStats struct {
	TotalVotes       int64 `json:"total_votes"`
	LedgerVotes      int64 `json:"ledger_votes"`
	TotalContestants int64 `json:"total_contestants"`
	TotalPosts       int64 `json:"total_posts"`
	TotalVoters      int64 `json:"total_voters"`
}

// PostTally compares ledger votes with the counter sum for one post.
type PostTally struct {
	PostID       uuid.UUID `json:"post_id"`
	PostName     string    `json:"post_name"`
	LedgerVotes  int64     `json:"ledger_votes"`
	CounterVotes int64     `json:"counter_votes"`
}

// Drift is how far the counters are ahead of (positive) or behind the ledger.
func (t PostTally) Drift() int64 { return t.CounterVotes - t.LedgerVotes }
