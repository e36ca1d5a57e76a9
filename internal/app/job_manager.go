package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/internal/infrastructure"
	"github.com/yourusername/course-extract-go/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrJobFinished is returned when cancelling a job that already ended
	ErrJobFinished = errors.New("job already finished")
	// ErrJobActive is returned when deleting a job that is still running
	ErrJobActive = errors.New("job is still running")
)

const defaultPersistInterval = 500 * time.Millisecond

// JobManager runs jobs through the controller and keeps their rows current
type JobManager struct {
	repo       domain.JobRepository
	controller *JobController
	store      domain.ArtifactStore
	notifier   *infrastructure.NotificationService
	logger     *logger.LoggerAdapter
	semaphore  chan struct{}

	// persistInterval throttles progress writes within one phase
	persistInterval time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewJobManager creates a new job manager
func NewJobManager(
	repo domain.JobRepository,
	controller *JobController,
	store domain.ArtifactStore,
	notifier *infrastructure.NotificationService,
	config *domain.QueueConfig,
	log *logger.LoggerAdapter,
) *JobManager {
	parallel := config.MaxParallelJobs
	if parallel < 1 {
		parallel = 1
	}
	return &JobManager{
		repo:            repo,
		controller:      controller,
		store:           store,
		notifier:        notifier,
		logger:          log,
		semaphore:       make(chan struct{}, parallel),
		persistInterval: defaultPersistInterval,
		cancels:         make(map[string]context.CancelFunc),
	}
}

// Controller returns the job controller
func (jm *JobManager) Controller() *JobController {
	return jm.controller
}

// RunSync creates a job row for url and runs it to completion
func (jm *JobManager) RunSync(ctx context.Context, url string, creds domain.Credentials) (*domain.Job, *domain.JobResult, error) {
	job := domain.NewJob(url)
	if err := jm.repo.Create(job); err != nil {
		return nil, nil, fmt.Errorf("failed to create job: %w", err)
	}
	result, err := jm.RunJob(ctx, job, creds)
	return job, result, err
}

// RunJob runs a persisted job. At most queue.max_parallel_jobs jobs run at
// once; the others wait here.
func (jm *JobManager) RunJob(ctx context.Context, job *domain.Job, creds domain.Credentials) (*domain.JobResult, error) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jm.track(job.ID, cancel)
	defer jm.untrack(job.ID)

	select {
	case jm.semaphore <- struct{}{}:
		defer func() { <-jm.semaphore }()
	case <-jobCtx.Done():
		job.MarkFailed(domain.WrapError(domain.KindCancelled, "run job", jobCtx.Err()))
		return jm.finish(job, &domain.JobResult{
			JobID:        job.ID,
			Phase:        job.Phase,
			ErrorKind:    job.ErrorKind,
			ErrorMessage: job.ErrorMessage,
		})
	}

	jm.logger.General().Info("Processing job",
		zap.String("id", job.ID),
		zap.String("url", job.URL))
	jm.logger.LogJobEvent("job_started",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL))

	job.MarkStarted()
	if err := jm.repo.Update(job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	var mu sync.Mutex
	lastPhase := job.Phase
	lastWrite := time.Now()
	progress := func(p domain.JobProgress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Phase.IsTerminal() {
			return
		}
		job.ApplyProgress(p)

		phaseChanged := p.Phase != lastPhase
		if !phaseChanged && time.Since(lastWrite) < jm.persistInterval {
			return
		}
		if phaseChanged {
			jm.logger.LogJobEvent("job_phase",
				zap.String("job_id", job.ID),
				zap.String("phase", string(p.Phase)))
		}
		lastPhase, lastWrite = p.Phase, time.Now()
		if err := jm.repo.Update(job); err != nil {
			jm.logger.LogError(logger.CategoryJob, "Failed to persist job progress",
				zap.String("job_id", job.ID),
				zap.Error(err))
		}
	}

	result := jm.controller.Run(jobCtx, domain.JobRequest{ID: job.ID, URL: job.URL, Credentials: creds}, progress)

	mu.Lock()
	defer mu.Unlock()
	job.ApplyResult(result)
	return jm.finish(job, result)
}

// finish persists a terminal job, logs it and sends a notification
func (jm *JobManager) finish(job *domain.Job, result *domain.JobResult) (*domain.JobResult, error) {
	updateErr := jm.repo.Update(job)

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("phase", string(job.Phase)),
		zap.Int("segments_ok", job.SegmentsOK),
		zap.Int("segments_total", job.SegmentsTotal),
		zap.Float64("completion_ratio", job.CompletionRatio),
	}
	if job.Phase == domain.PhaseFailed {
		jm.logger.LogError(logger.CategoryJob, "job_failed",
			append(fields, zap.String("error_kind", string(job.ErrorKind)))...)
	} else {
		jm.logger.LogJobEvent("job_finished",
			append(fields, zap.String("artifact", job.ArtifactPath), zap.String("error_kind", string(job.ErrorKind)))...)
	}

	jm.notifier.NotifyJobFinished(job)

	if updateErr != nil {
		return result, fmt.Errorf("failed to update job: %w", updateErr)
	}
	return result, nil
}

func (jm *JobManager) track(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

func (jm *JobManager) untrack(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	delete(jm.cancels, id)
}

// IsActive reports whether a job is running or waiting for a slot
func (jm *JobManager) IsActive(id string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	_, ok := jm.cancels[id]
	return ok
}

// CancelJob cancels a running job, or fails a pending one
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	cancel, running := jm.cancels[id]
	jm.mu.Unlock()
	if running {
		cancel()
		jm.logger.LogJobEvent("job_cancel_requested", zap.String("job_id", id))
		return nil
	}

	job, err := jm.repo.FindByID(id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobFinished
	}

	job.MarkFailed(domain.NewError(domain.KindCancelled, "cancel job", "job was cancelled before it started"))
	if err := jm.repo.Update(job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	jm.logger.LogJobEvent("job_cancelled", zap.String("job_id", id))
	return nil
}

// DeleteJob removes a finished or pending job and its artifact
func (jm *JobManager) DeleteJob(id string) error {
	if jm.IsActive(id) {
		return ErrJobActive
	}

	job, err := jm.repo.FindByID(id)
	if err != nil {
		return err
	}
	if job.ArtifactPath != "" {
		if err := jm.store.Remove(job.ArtifactPath); err != nil {
			return err
		}
	}
	if err := jm.repo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	jm.logger.LogJobEvent("job_deleted", zap.String("job_id", id))
	return nil
}
