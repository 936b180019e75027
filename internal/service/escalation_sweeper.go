package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/manit-portal/grievance-api/internal/escalation"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
)

// EscalationSweeper periodically applies the time policy to records nobody
// is reading. The lazy at-access policy keeps actively viewed grievances
// current; the sweeper exists so abandoned ones still escalate and their
// notifications still go out.
type EscalationSweeper struct {
	repo     grievanceRepository
	notifier escalationNotifier
	metrics  *MetricsService
	logger   *zap.Logger

	interval time.Duration
	batch    int
	now      func() time.Time
}

// NewEscalationSweeper constructs the sweeper.
func NewEscalationSweeper(repo grievanceRepository, notifier escalationNotifier, metrics *MetricsService, interval time.Duration, batch int, logger *zap.Logger) *EscalationSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationSweeper{
		repo:     repo,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, sweeping on each tick until ctx is cancelled.
func (s *EscalationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("escalation sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("escalation sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Sweeping a record the policy would not change, or
// losing a write race to a concurrent request, is not an error.
func (s *EscalationSweeper) Sweep(ctx context.Context) {
	now := s.now()
	stale, err := s.repo.FindStale(ctx, now.Add(-escalation.InactivityThreshold), s.batch)
	if err != nil {
		s.logger.Error("sweep query failed", zap.Error(err))
		return
	}

	var escalated, overdue, conflicts int
	for _, g := range stale {
		result := escalation.Apply(g, now)
		if !result.Changed() {
			continue
		}
		if err := s.repo.Update(ctx, g); err != nil {
			if appErrors.Is(err, appErrors.ErrConflict) {
				conflicts++
				continue
			}
			s.logger.Error("sweep update failed", zap.String("grievance_id", g.ID), zap.Error(err))
			continue
		}
		if result.Escalated {
			escalated++
			s.metrics.RecordEscalation(EscalationTriggerInactivity)
			if s.notifier != nil {
				s.notifier.NotifyEscalation(g, g.Level, escalation.InactivityReason)
			}
		}
		if result.Overdue {
			overdue++
			s.metrics.RecordEscalation(EscalationTriggerDueDate)
		}
	}

	if escalated > 0 || overdue > 0 || conflicts > 0 {
		s.logger.Info("escalation sweep finished",
			zap.Int("scanned", len(stale)),
			zap.Int("escalated", escalated),
			zap.Int("overdue", overdue),
			zap.Int("conflicts", conflicts))
	}
}
