package jobs

import (
	"context"
	"time"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
)

// Scheduler runs the lifecycle cleanup: expire stale approvals, then
// hard-delete terminal jobs past retention.
type Scheduler struct {
	jobs repos.IngestionJobRepo
	log  *logger.Logger

	interval           time.Duration
	approvalTimeout    time.Duration
	completedRetention time.Duration
	failedRetention    time.Duration
}

func NewScheduler(jobRepo repos.IngestionJobRepo, log *logger.Logger) *Scheduler {
	lg := log.With("service", "LifecycleScheduler")
	return &Scheduler{
		jobs:               jobRepo,
		log:                lg,
		interval:           utils.GetEnvAsDuration("CLEANUP_INTERVAL", time.Hour, lg),
		approvalTimeout:    utils.GetEnvAsDuration("APPROVAL_TIMEOUT", 24*time.Hour, lg),
		completedRetention: utils.GetEnvAsDuration("COMPLETED_RETENTION", 48*time.Hour, lg),
		failedRetention:    utils.GetEnvAsDuration("FAILED_RETENTION", 168*time.Hour, lg),
	}
}

// Start blocks until ctx is done. One sweep runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("lifecycle scheduler starting", "interval", s.interval.String())
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now()

	expired, err := s.jobs.ExpireAwaitingApproval(ctx, nil, now.Add(-s.approvalTimeout))
	if err != nil {
		s.log.Error("approval expiry sweep failed", "error", err)
	} else if expired > 0 {
		s.log.Info("approvals expired", "count", expired)
	}

	deleted, err := s.jobs.DeleteTerminalOlderThan(ctx, nil,
		[]string{types.JobStatusCompleted, types.JobStatusCancelled}, now.Add(-s.completedRetention))
	if err != nil {
		s.log.Error("completed retention sweep failed", "error", err)
	} else if deleted > 0 {
		s.log.Info("completed jobs deleted", "count", deleted)
	}

	deleted, err = s.jobs.DeleteTerminalOlderThan(ctx, nil,
		[]string{types.JobStatusFailed}, now.Add(-s.failedRetention))
	if err != nil {
		s.log.Error("failed retention sweep failed", "error", err)
	} else if deleted > 0 {
		s.log.Info("failed jobs deleted", "count", deleted)
	}
}
