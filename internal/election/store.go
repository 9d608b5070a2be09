package election

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/univote/backend/internal/models"
)

// Store is the transactional state behind the election. Implementations must enforce
// UNIQUE (voter_id, post_id) on votes, increment counters in storage (never read-modify-write)
// and run RecordVote and ResetAll as single transactions.
type Store interface {
	Status(ctx context.Context) (models.ElectionStatus, error)
	// SetResultsAnnounced stores the flag and reports whether it changed.
	SetResultsAnnounced(ctx context.Context, announced bool) (bool, error)

	CreatePost(ctx context.Context, p *models.Post) error
	GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error)
	ListPosts(ctx context.Context) ([]models.Post, error)
	// DeletePost removes the post and returns the contestants removed with it.
	DeletePost(ctx context.Context, id uuid.UUID) ([]models.Contestant, error)

	CreateContestant(ctx context.Context, c *models.Contestant) error
	GetContestant(ctx context.Context, id uuid.UUID) (*models.Contestant, error)
	ListContestants(ctx context.Context, postID *uuid.UUID) ([]models.Contestant, error)
	DeleteContestant(ctx context.Context, id uuid.UUID) (*models.Contestant, error)

	HasVoted(ctx context.Context, voterID, postID uuid.UUID) (bool, error)
	// RecordVote checks the election is live, inserts the ledger row and increments the
	// contestant counter in one transaction. A conflicting (voter, post) row yields ErrDuplicateVote.
	RecordVote(ctx context.Context, voterID, contestantID uuid.UUID) (*models.Vote, error)
	VotedPosts(ctx context.Context, voterID uuid.UUID) ([]uuid.UUID, error)
	ListVotes(ctx context.Context, f VoteFilter) ([]models.VoteRecord, error)

	// AdjustVotes applies votes = max(0, votes + adj.Delta) and stores adj as audit.
	AdjustVotes(ctx context.Context, adj *models.TallyAdjustment) error
	// SetVotes applies votes = adj.Requested unless it already holds that value.
	SetVotes(ctx context.Context, adj *models.TallyAdjustment) (changed bool, err error)
	ResetAll(ctx context.Context, adminID uuid.UUID) (resetContestants int64, err error)
	ListAdjustments(ctx context.Context, limit int) ([]models.TallyAdjustment, error)

	Stats(ctx context.Context) (*models.ElectionStats, error)
	PostTallies(ctx context.Context) ([]models.PostTally, error)
}

// VoteFilter narrows vote history queries. Zero values mean "any".
type VoteFilter struct {
	PostID       *uuid.UUID
	ContestantID *uuid.UUID
	VoterID      *uuid.UUID
	Limit        int
}

// Notifier publishes change events to subscribed viewers.
type Notifier interface {
	Publish(topic, event string, payload interface{})
}

// ImageStore uploads contestant images and returns their public URL and storage key.
type ImageStore interface {
	UploadContestantImage(ctx context.Context, filename, contentType string, body io.Reader, size int64) (url, key string, err error)
}

// CleanupQueue schedules removal of stored images that no contestant references anymore.
type CleanupQueue interface {
	EnqueueImageCleanup(ctx context.Context, key string) error
}

// Change feed topics and events.
const (
	TopicContestants = "contestants"
	TopicVotes       = "votes"
	TopicElection    = "election"

	EventVoteCast          = "vote_cast"
	EventContestantUpdated = "contestant_updated"
	EventContestantCreated = "contestant_created"
	EventContestantDeleted = "contestant_deleted"
	EventPostCreated       = "post_created"
	EventPostDeleted       = "post_deleted"
	EventVotesReset        = "votes_reset"
	EventResultsAnnounced  = "results_announced"
	EventResultsWithdrawn  = "results_withdrawn"
)

type nopNotifier struct{}

func (nopNotifier) Publish(string, string, interface{}) {}
