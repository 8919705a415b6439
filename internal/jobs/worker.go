package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knowgraph/knowgraph-backend/internal/logger"
	apperr "github.com/knowgraph/knowgraph-backend/internal/pkg/errors"
	"github.com/knowgraph/knowgraph-backend/internal/repos"
	"github.com/knowgraph/knowgraph-backend/internal/types"
	"github.com/knowgraph/knowgraph-backend/internal/utils"
)

// Runner executes one claimed job to a terminal state.
type Runner interface {
	Run(ctx context.Context, job *types.IngestionJob) error
}

// WorkerPool claims approved jobs FIFO and hands each to the engine.
// Jobs run concurrently across workers; chunks within a job stay serial
// inside the engine.
type WorkerPool struct {
	jobs   repos.IngestionJobRepo
	runner Runner
	log    *logger.Logger

	size int
	poll time.Duration
}

func NewWorkerPool(jobRepo repos.IngestionJobRepo, runner Runner, log *logger.Logger) (*WorkerPool, error) {
	if jobRepo == nil || runner == nil {
		return nil, fmt.Errorf("jobs: worker pool needs repo and runner")
	}
	lg := log.With("service", "WorkerPool")
	return &WorkerPool{
		jobs:   jobRepo,
		runner: runner,
		log:    lg,
		size:   utils.GetEnvAsInt("WORKER_POOL_SIZE", 4, lg),
		poll:   utils.GetEnvAsDuration("WORKER_POLL_INTERVAL", 2*time.Second, lg),
	}, nil
}

// Start blocks until ctx is done; workers drain their current job first.
func (w *WorkerPool) Start(ctx context.Context) error {
	w.log.Info("worker pool starting", "size", w.size, "poll", w.poll.String())
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.size; i++ {
		worker := i
		g.Go(func() error {
			w.loop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (w *WorkerPool) loop(ctx context.Context, worker int) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			job, err := w.jobs.ClaimNextApproved(ctx, nil)
			if err != nil {
				w.log.Error("claim failed", "worker", worker, "error", err)
				break
			}
			if job == nil {
				break
			}
			w.execute(ctx, worker, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (w *WorkerPool) execute(ctx context.Context, worker int, job *types.IngestionJob) {
	log := w.log.With("worker", worker, "job_id", job.ID.String())
	log.Info("job claimed")

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", r)
			w.fail(ctx, job, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := w.runner.Run(ctx, job); err != nil {
		if errors.Is(err, apperr.ErrLLMParse) {
			// Recoverable: leave the job processing, an operator restart
			// resumes from the last checkpoint.
			log.Warn("job paused on parse exhaustion", "error", err)
			if uerr := w.jobs.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
				"error":      err.Error(),
				"updated_at": time.Now(),
			}); uerr != nil {
				log.Error("error note write failed", "error", uerr)
			}
			return
		}
		log.Error("job failed", "error", err)
		w.fail(ctx, job, err.Error())
		return
	}
	log.Info("job finished")
}

func (w *WorkerPool) fail(ctx context.Context, job *types.IngestionJob, errText string) {
	now := time.Now()
	if err := w.jobs.Transition(ctx, nil, job.ID, []string{types.JobStatusProcessing}, map[string]interface{}{
		"status":       types.JobStatusFailed,
		"error":        errText,
		"completed_at": &now,
		"updated_at":   now,
	}); err != nil {
		w.log.Error("failed-state transition lost", "job_id", job.ID.String(), "error", err)
	}
}
