package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/course-extract-go/internal/domain"
	"github.com/yourusername/course-extract-go/internal/infrastructure"
	"github.com/yourusername/course-extract-go/pkg/logger"
)

const orphanReason = "process restarted before the job finished"

// QueueManager runs asynchronous jobs. Credentials of queued jobs are held
// in memory only, so jobs queued by an earlier process cannot run.
type QueueManager struct {
	repo     domain.JobRepository
	jobMgr   *JobManager
	notifier *infrastructure.NotificationService
	config   *domain.QueueConfig
	logger   *logger.LoggerAdapter

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	stopChan chan struct{}
	workerWg sync.WaitGroup

	credsMu     sync.Mutex
	credentials map[string]domain.Credentials
	inFlight    map[string]bool
}

// NewQueueManager creates a new queue manager
func NewQueueManager(
	repo domain.JobRepository,
	jobMgr *JobManager,
	notifier *infrastructure.NotificationService,
	config *domain.QueueConfig,
	log *logger.LoggerAdapter,
) *QueueManager {
	return &QueueManager{
		repo:        repo,
		jobMgr:      jobMgr,
		notifier:    notifier,
		config:      config,
		logger:      log,
		credentials: make(map[string]domain.Credentials),
		inFlight:    make(map[string]bool),
	}
}

// Start fails jobs orphaned by a previous process and starts polling
func (qm *QueueManager) Start(ctx context.Context) error {
	qm.mu.Lock()
	if qm.running {
		qm.mu.Unlock()
		return fmt.Errorf("queue manager already running")
	}

	orphaned, err := qm.repo.FailOrphaned(orphanReason)
	if err != nil {
		qm.mu.Unlock()
		return fmt.Errorf("failed to fail orphaned jobs: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	qm.cancel = cancel
	qm.stopChan = make(chan struct{})
	qm.running = true
	qm.mu.Unlock()

	qm.logger.LogQueueEvent("queue_started", zap.Int64("orphaned_jobs_failed", orphaned))

	qm.workerWg.Add(1)
	go qm.processQueue(runCtx)

	return nil
}

// Stop stops polling and cancels running jobs, waiting for them to settle
func (qm *QueueManager) Stop() error {
	qm.mu.Lock()
	if !qm.running {
		qm.mu.Unlock()
		return fmt.Errorf("queue manager not running")
	}
	qm.running = false
	close(qm.stopChan)
	qm.cancel()
	qm.mu.Unlock()

	qm.workerWg.Wait()
	qm.logger.LogQueueEvent("queue_stopped")
	return nil
}

// IsRunning returns whether the queue manager is running
func (qm *QueueManager) IsRunning() bool {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.running
}

// AddJob queues a download of url. creds stay in memory until the job starts.
func (qm *QueueManager) AddJob(url string, creds domain.Credentials) (*domain.Job, error) {
	job := domain.NewJob(url)

	qm.credsMu.Lock()
	qm.credentials[job.ID] = creds
	qm.credsMu.Unlock()

	if err := qm.repo.Create(job); err != nil {
		qm.forget(job.ID)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	qm.logger.LogQueueEvent("job_added",
		zap.String("job_id", job.ID),
		zap.String("url", url))
	qm.notifier.NotifyJobQueued(job)

	return job, nil
}

// GetJob retrieves a job by ID
func (qm *QueueManager) GetJob(id string) (*domain.Job, error) {
	return qm.repo.FindByID(id)
}

// ListJobs lists all jobs with optional filters
func (qm *QueueManager) ListJobs(filters map[string]interface{}) ([]*domain.Job, error) {
	return qm.repo.FindAll(filters)
}

// GetStats returns queue statistics
func (qm *QueueManager) GetStats() (*domain.JobStats, error) {
	return qm.repo.GetStats()
}

// CancelJob cancels a queued or running job
func (qm *QueueManager) CancelJob(id string) error {
	if err := qm.jobMgr.CancelJob(id); err != nil {
		return err
	}
	qm.forget(id)
	return nil
}

// DeleteJob deletes a job that is not running
func (qm *QueueManager) DeleteJob(id string) error {
	if err := qm.jobMgr.DeleteJob(id); err != nil {
		return err
	}
	qm.forget(id)
	return nil
}

func (qm *QueueManager) forget(id string) {
	qm.credsMu.Lock()
	defer qm.credsMu.Unlock()
	delete(qm.credentials, id)
}

// claim marks a pending job as taken and returns its credentials
func (qm *QueueManager) claim(id string) (domain.Credentials, bool, bool) {
	qm.credsMu.Lock()
	defer qm.credsMu.Unlock()
	if qm.inFlight[id] {
		return domain.Credentials{}, false, false
	}
	qm.inFlight[id] = true
	creds, ok := qm.credentials[id]
	delete(qm.credentials, id)
	return creds, ok, true
}

func (qm *QueueManager) release(id string) {
	qm.credsMu.Lock()
	defer qm.credsMu.Unlock()
	delete(qm.inFlight, id)
}

func (qm *QueueManager) activeCount() int {
	qm.credsMu.Lock()
	defer qm.credsMu.Unlock()
	return len(qm.inFlight)
}

// processQueue polls for pending jobs until stopped
func (qm *QueueManager) processQueue(ctx context.Context) {
	defer qm.workerWg.Done()

	ticker := time.NewTicker(qm.config.CheckInterval)
	defer ticker.Stop()

	hadWork := false
	for {
		select {
		case <-ctx.Done():
			qm.logger.LogQueueEvent("queue_processor_stopped", zap.String("reason", "context_cancelled"))
			return
		case <-qm.stopChan:
			qm.logger.LogQueueEvent("queue_processor_stopped", zap.String("reason", "stop_signal"))
			return
		case <-ticker.C:
			pending, err := qm.repo.FindPending()
			if err != nil {
				qm.logger.LogError(logger.CategoryQueue, "Failed to fetch pending jobs", zap.Error(err))
				continue
			}

			if len(pending) == 0 {
				if hadWork && qm.activeCount() == 0 {
					hadWork = false
					qm.logger.LogQueueEvent("queue_empty")
					qm.notifier.NotifyQueueEmpty()
				}
				continue
			}
			hadWork = true

			for _, job := range pending {
				qm.dispatch(ctx, job)
			}
		}
	}
}

// dispatch starts one pending job unless it is already running
func (qm *QueueManager) dispatch(ctx context.Context, job *domain.Job) {
	creds, ok, claimed := qm.claim(job.ID)
	if !claimed {
		return
	}

	// The job may have been cancelled or deleted since it was listed
	current, err := qm.repo.FindByID(job.ID)
	if err != nil || !current.IsPending() {
		qm.release(job.ID)
		return
	}
	job = current

	if !ok {
		qm.release(job.ID)
		job.MarkFailed(domain.NewError(domain.KindConfigError, "queue",
			"credentials for this job are no longer available"))
		if err := qm.repo.Update(job); err != nil {
			qm.logger.LogError(logger.CategoryQueue, "Failed to fail job without credentials",
				zap.String("job_id", job.ID),
				zap.Error(err))
		}
		qm.logger.LogQueueEvent("job_dropped",
			zap.String("job_id", job.ID),
			zap.String("reason", "credentials_missing"))
		return
	}

	qm.logger.LogQueueEvent("job_dispatched",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL))

	qm.workerWg.Add(1)
	go func() {
		defer qm.workerWg.Done()
		defer qm.release(job.ID)

		result, err := qm.jobMgr.RunJob(ctx, job, creds)
		if err != nil {
			qm.logger.LogError(logger.CategoryQueue, "Failed to process job",
				zap.String("job_id", job.ID),
				zap.Error(err))
			return
		}
		qm.logger.LogQueueEvent("job_completed",
			zap.String("job_id", job.ID),
			zap.String("phase", string(result.Phase)))
	}()
}
