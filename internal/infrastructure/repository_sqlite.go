package infrastructure

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/course-extract-go/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// runningPhases are the non-terminal phases after a job was picked up
var runningPhases = []domain.Phase{
	domain.PhaseClassifying,
	domain.PhaseResolving,
	domain.PhaseParsing,
	domain.PhaseFetching,
	domain.PhaseAssembling,
}

// allowedJobFilters are the columns FindAll accepts as filter keys
var allowedJobFilters = map[string]bool{
	"phase":      true,
	"platform":   true,
	"link_kind":  true,
	"error_kind": true,
}

// SQLiteJobRepository implements domain.JobRepository using SQLite
type SQLiteJobRepository struct {
	db *gorm.DB
}

// NewSQLiteJobRepository creates a new SQLite repository
func NewSQLiteJobRepository(dbPath string) (*SQLiteJobRepository, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Job{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteJobRepository{db: db}, nil
}

// Create creates a new job
func (r *SQLiteJobRepository) Create(job *domain.Job) error {
	return r.db.Create(job).Error
}

// Update updates an existing job
func (r *SQLiteJobRepository) Update(job *domain.Job) error {
	return r.db.Save(job).Error
}

// Delete deletes a job by ID
func (r *SQLiteJobRepository) Delete(id string) error {
	return r.db.Delete(&domain.Job{}, "id = ?", id).Error
}

// FindByID finds a job by ID. A missing row is reported as NotFound.
func (r *SQLiteJobRepository) FindByID(id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.KindNotFound, "repository", "job not found")
		}
		return nil, err
	}
	return &job, nil
}

// FindPending finds all pending jobs ordered by creation time
func (r *SQLiteJobRepository) FindPending() ([]*domain.Job, error) {
	var jobs []*domain.Job
	err := r.db.Where("phase = ?", domain.PhasePending).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// FindAll finds all jobs with optional filters. Unknown filter keys are ignored.
func (r *SQLiteJobRepository) FindAll(filters map[string]interface{}) ([]*domain.Job, error) {
	var jobs []*domain.Job
	query := r.db

	for key, value := range filters {
		if !allowedJobFilters[key] {
			continue
		}
		query = query.Where(fmt.Sprintf("%s = ?", key), value)
	}

	err := query.Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// FailOrphaned marks jobs left running by a previous process as failed.
// Pending jobs are included since their credentials lived only in memory.
func (r *SQLiteJobRepository) FailOrphaned(reason string) (int64, error) {
	phases := append([]domain.Phase{domain.PhasePending}, runningPhases...)
	now := time.Now()
	result := r.db.Model(&domain.Job{}).
		Where("phase IN ?", phases).
		Updates(map[string]interface{}{
			"phase":         domain.PhaseFailed,
			"error_kind":    domain.KindCancelled,
			"error_message": reason,
			"completed_at":  now,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

// GetStats returns job statistics
func (r *SQLiteJobRepository) GetStats() (*domain.JobStats, error) {
	stats := &domain.JobStats{}

	if err := r.db.Model(&domain.Job{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	phaseCounts := []struct {
		Phase domain.Phase
		Count int64
	}{}

	if err := r.db.Model(&domain.Job{}).
		Select("phase, count(*) as count").
		Group("phase").
		Scan(&phaseCounts).Error; err != nil {
		return nil, err
	}

	for _, pc := range phaseCounts {
		switch pc.Phase {
		case domain.PhasePending:
			stats.Pending = pc.Count
		case domain.PhaseSucceeded:
			stats.Succeeded = pc.Count
		case domain.PhasePartial:
			stats.Partial = pc.Count
		case domain.PhaseFailed:
			stats.Failed = pc.Count
		default:
			stats.Running += pc.Count
		}
	}

	return stats, nil
}

// Close closes the database connection
func (r *SQLiteJobRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
