package election

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univote/backend/internal/models"
)

const maxHistoryLimit = 1000

// CastVote records voterID's vote for contestantID.
//
// The status and has-voted checks here only avoid needless writes. The guarantee comes from
// Store.RecordVote, which re-checks the status and relies on the (voter, post) unique
// constraint inside its transaction.
func (s *Service) CastVote(ctx context.Context, voterID, contestantID uuid.UUID) (*models.Vote, error) {
	st, err := s.store.Status(ctx)
	if err != nil {
		return nil, storageErr("election status", err)
	}
	if st.ResultsAnnounced {
		return nil, ErrElectionClosed
	}

	c, err := s.store.GetContestant(ctx, contestantID)
	if err != nil {
		return nil, storageErr("get contestant", err)
	}

	voted, err := s.store.HasVoted(ctx, voterID, c.PostID)
	if err != nil {
		return nil, storageErr("check vote", err)
	}
	if voted {
		return nil, ErrDuplicateVote
	}

	v, err := s.store.RecordVote(ctx, voterID, contestantID)
	if err != nil {
		if errors.Is(err, ErrDuplicateVote) {
			s.logger.Info("concurrent duplicate vote rejected",
				zap.String("voter_id", voterID.String()), zap.String("post_id", c.PostID.String()))
		}
		return nil, storageErr("record vote", err)
	}

	s.cache.invalidateContestants()
	s.notifier.Publish(TopicVotes, EventVoteCast, v)
	s.notifier.Publish(TopicContestants, EventContestantUpdated, map[string]interface{}{
		"id": v.ContestantID, "post_id": v.PostID, "delta": 1,
	})
	s.logger.Debug("vote recorded",
		zap.String("vote_id", v.ID.String()),
		zap.String("contestant_id", v.ContestantID.String()),
		zap.String("post_id", v.PostID.String()))
	return v, nil
}

// VotedPosts returns the posts voterID has already voted for, read from the ledger.
func (s *Service) VotedPosts(ctx context.Context, voterID uuid.UUID) ([]uuid.UUID, error) {
	posts, err := s.store.VotedPosts(ctx, voterID)
	if err != nil {
		return nil, storageErr("voted posts", err)
	}
	if posts == nil {
		posts = []uuid.UUID{}
	}
	return posts, nil
}

// History lists ledger entries newest first.
func (s *Service) History(ctx context.Context, f VoteFilter) ([]models.VoteRecord, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = s.historyLimit
	case f.Limit > maxHistoryLimit:
		f.Limit = maxHistoryLimit
	}
	list, err := s.store.ListVotes(ctx, f)
	if err != nil {
		return nil, storageErr("list votes", err)
	}
	if list == nil {
		list = []models.VoteRecord{}
	}
	return list, nil
}
