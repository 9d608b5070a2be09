package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/univote/backend/internal/models"
)

// Reconciler compares ledger counts with counters. *election.Service implements it.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]models.PostTally, error)
}

// Locker runs fn only while holding a lock shared with other worker instances.
// *redis.Locker implements it.
type Locker interface {
	TryRun(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) (bool, error)
}

const auditLockName = "tally_audit"

// TallyAuditor periodically reports posts whose counters differ from the ledger.
// Drift is expected after admin overrides, so it is reported and never corrected.
type TallyAuditor struct {
	source   Reconciler
	interval time.Duration
	locker   Locker
	logger   *zap.Logger
}

// NewTallyAuditor creates an auditor. interval <= 0 defaults to five minutes.
func NewTallyAuditor(source Reconciler, interval time.Duration, logger *zap.Logger) *TallyAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &TallyAuditor{source: source, interval: interval, logger: logger}
}

// WithLocker makes each scheduled audit run on at most one worker instance.
func (a *TallyAuditor) WithLocker(l Locker) *TallyAuditor {
	a.locker = l
	return a
}

// Check runs one audit and returns the drifting posts.
func (a *TallyAuditor) Check(ctx context.Context) ([]models.PostTally, error) {
	tallies, err := a.source.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	var drifting []models.PostTally
	for _, t := range tallies {
		if t.Drift() == 0 {
			continue
		}
		drifting = append(drifting, t)
		a.logger.Warn("tally drift",
			zap.String("post_id", t.PostID.String()),
			zap.String("post", t.PostName),
			zap.Int64("ledger", t.LedgerVotes),
			zap.Int64("counter", t.CounterVotes),
			zap.Int64("drift", t.Drift()))
	}
	return drifting, nil
}

// Run audits every interval until ctx is done.
func (a *TallyAuditor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if err := a.runOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("tally audit failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			a.logger.Info("tally auditor stopping")
			return
		case <-ticker.C:
		}
	}
}

func (a *TallyAuditor) runOnce(ctx context.Context) error {
	check := func(ctx context.Context) error {
		_, err := a.Check(ctx)
		return err
	}
	if a.locker == nil {
		return check(ctx)
	}
	ran, err := a.locker.TryRun(ctx, auditLockName, a.interval, check)
	if err == nil && !ran {
		a.logger.Debug("tally audit skipped: running on another instance")
	}
	return err
}
