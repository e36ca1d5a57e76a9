package domain

// JobRepository defines the interface for job persistence
type JobRepository interface {
	// Create creates a new job
	Create(job *Job) error

	// Update updates an existing job
	Update(job *Job) error

	// Delete deletes a job by ID
	Delete(id string) error

	// FindByID finds a job by ID
	FindByID(id string) (*Job, error)

	// FindPending finds all pending jobs ordered by creation time
	FindPending() ([]*Job, error)

	// FindAll finds all jobs with optional filters
	FindAll(filters map[string]interface{}) ([]*Job, error)

	// FailOrphaned marks jobs left in a non-terminal phase as failed
	FailOrphaned(reason string) (int64, error)

	// GetStats returns job statistics
	GetStats() (*JobStats, error)
}

// JobStats represents job statistics
type JobStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Partial   int64 `json:"partial"`
	Failed    int64 `json:"failed"`
}
