package election

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univote/backend/internal/models"
)

// State returns whether voting is live or results are announced.
func (s *Service) State(ctx context.Context) (models.ElectionStatus, error) {
	st, err := s.store.Status(ctx)
	if err != nil {
		return models.ElectionStatus{}, storageErr("election status", err)
	}
	return st, nil
}

// Announce closes voting and makes results public. Ties may be announced.
func (s *Service) Announce(ctx context.Context, adminID uuid.UUID) error {
	return s.transition(ctx, adminID, true)
}

// Withdraw reopens voting and hides results again.
func (s *Service) Withdraw(ctx context.Context, adminID uuid.UUID) error {
	return s.transition(ctx, adminID, false)
}

func (s *Service) transition(ctx context.Context, adminID uuid.UUID, announce bool) error {
	changed, err := s.store.SetResultsAnnounced(ctx, announce)
	if err != nil {
		return storageErr("set election status", err)
	}
	if !changed {
		return nil
	}
	event, state := EventResultsWithdrawn, models.StateLive
	if announce {
		event, state = EventResultsAnnounced, models.StateAnnounced
	}
	s.notifier.Publish(TopicElection, event, map[string]interface{}{"state": state})
	s.logger.Info("election state changed", zap.String("state", string(state)), zap.String("admin_id", adminID.String()))
	return nil
}
