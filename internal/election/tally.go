package election

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univote/backend/internal/models"
)

// MaxCounter bounds admin-supplied increments and targets so counters cannot overflow.
const MaxCounter int64 = 1_000_000_000

// AdjustVotes adds delta to a contestant's counter, clamping at zero.
//
// The ledger is not touched, so after an adjustment the counter no longer equals the number
// of ledger votes for that contestant. That is the purpose of the operation (e.g. paper
// ballots counted out of band); each call leaves an audit row and shows up in Reconcile.
// A zero delta only reports the current counter: no audit row, no event.
func (s *Service) AdjustVotes(ctx context.Context, adminID, contestantID uuid.UUID, delta int64, reason string) (*models.TallyAdjustment, error) {
	if delta > MaxCounter {
		return nil, invalid("delta", "too large")
	}
	if delta == 0 {
		c, err := s.store.GetContestant(ctx, contestantID)
		if err != nil {
			return nil, storageErr("get contestant", err)
		}
		return &models.TallyAdjustment{
			ContestantID:   c.ID,
			ContestantName: c.Name,
			AdminID:        adminID,
			Kind:           models.AdjustmentDelta,
			VotesBefore:    c.Votes,
			VotesAfter:     c.Votes,
			Reason:         strings.TrimSpace(reason),
		}, nil
	}
	adj := &models.TallyAdjustment{
		ContestantID: contestantID,
		AdminID:      adminID,
		Kind:         models.AdjustmentDelta,
		Delta:        delta,
		Reason:       strings.TrimSpace(reason),
	}
	if err := s.store.AdjustVotes(ctx, adj); err != nil {
		return nil, storageErr("adjust votes", err)
	}
	s.afterOverride(adj)
	return adj, nil
}

// SetVotes overwrites a contestant's counter with max(0, value). When the counter already
// holds that value nothing is written and nothing is published; changed is false.
func (s *Service) SetVotes(ctx context.Context, adminID, contestantID uuid.UUID, value int64, reason string) (adj *models.TallyAdjustment, changed bool, err error) {
	if value > MaxCounter {
		return nil, false, invalid("votes", "too large")
	}
	if value < 0 {
		value = 0
	}
	adj = &models.TallyAdjustment{
		ContestantID: contestantID,
		AdminID:      adminID,
		Kind:         models.AdjustmentSet,
		Requested:    value,
		Reason:       strings.TrimSpace(reason),
	}
	changed, err = s.store.SetVotes(ctx, adj)
	if err != nil {
		return nil, false, storageErr("set votes", err)
	}
	if changed {
		s.afterOverride(adj)
	}
	return adj, changed, nil
}

func (s *Service) afterOverride(adj *models.TallyAdjustment) {
	s.cache.invalidateContestants()
	s.notifier.Publish(TopicContestants, EventContestantUpdated, map[string]interface{}{
		"id": adj.ContestantID, "votes": adj.VotesAfter, "kind": adj.Kind,
	})
	s.logger.Info("tally override",
		zap.String("kind", string(adj.Kind)),
		zap.String("contestant_id", adj.ContestantID.String()),
		zap.String("admin_id", adj.AdminID.String()),
		zap.Int64("before", adj.VotesBefore),
		zap.Int64("after", adj.VotesAfter),
		zap.String("reason", adj.Reason))
}

// ResetAll empties the ledger and zeroes every counter in one transaction.
func (s *Service) ResetAll(ctx context.Context, adminID uuid.UUID) error {
	n, err := s.store.ResetAll(ctx, adminID)
	if err != nil {
		return storageErr("reset votes", err)
	}
	s.cache.invalidateContestants()
	s.notifier.Publish(TopicVotes, EventVotesReset, map[string]interface{}{"reset_contestants": n})
	s.notifier.Publish(TopicContestants, EventVotesReset, map[string]interface{}{"reset_contestants": n})
	s.logger.Warn("all votes reset", zap.String("admin_id", adminID.String()), zap.Int64("contestants", n))
	return nil
}

// Adjustments returns the most recent admin overrides.
func (s *Service) Adjustments(ctx context.Context, limit int) ([]models.TallyAdjustment, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = 100
	}
	list, err := s.store.ListAdjustments(ctx, limit)
	if err != nil {
		return nil, storageErr("list adjustments", err)
	}
	if list == nil {
		list = []models.TallyAdjustment{}
	}
	return list, nil
}

// Reconcile compares ledger counts with counter sums per post.
func (s *Service) Reconcile(ctx context.Context) ([]models.PostTally, error) {
	list, err := s.store.PostTallies(ctx)
	if err != nil {
		return nil, storageErr("post tallies", err)
	}
	for _, t := range list {
		if t.Drift() != 0 {
			s.logger.Debug("tally drift",
				zap.String("post_id", t.PostID.String()),
				zap.Int64("ledger", t.LedgerVotes),
				zap.Int64("counter", t.CounterVotes))
		}
	}
	if list == nil {
		list = []models.PostTally{}
	}
	return list, nil
}
