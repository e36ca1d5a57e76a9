package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase represents the current state of a job
type Phase string

const (
	PhasePending     Phase = "PENDING"
	PhaseClassifying Phase = "CLASSIFYING"
	PhaseResolving   Phase = "RESOLVING"
	PhaseParsing     Phase = "PARSING"
	PhaseFetching    Phase = "FETCHING"
	PhaseAssembling  Phase = "ASSEMBLING"
	PhaseSucceeded   Phase = "SUCCEEDED"
	PhasePartial     Phase = "PARTIAL"
	PhaseFailed      Phase = "FAILED"
)

var phaseTransitions = map[Phase][]Phase{
	PhasePending:     {PhaseClassifying, PhaseFailed},
	PhaseClassifying: {PhaseResolving, PhaseParsing, PhaseFailed},
	PhaseResolving:   {PhaseParsing, PhaseFailed},
	PhaseParsing:     {PhaseFetching, PhaseFailed},
	PhaseFetching:    {PhaseAssembling, PhaseFailed},
	PhaseAssembling:  {PhaseSucceeded, PhasePartial, PhaseFailed},
}

// IsTerminal checks if the phase ends a job
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhasePartial || p == PhaseFailed
}

// CanTransitionTo checks whether next is a legal successor of p
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidatePhase checks if a phase name is known
func ValidatePhase(p Phase) bool {
	switch p {
	case PhasePending, PhaseClassifying, PhaseResolving, PhaseParsing, PhaseFetching,
		PhaseAssembling, PhaseSucceeded, PhasePartial, PhaseFailed:
		return true
	}
	return false
}

// Thresholds decide the outcome of a job from its completion ratio
type Thresholds struct {
	Success float64 `json:"success"`
	Partial float64 `json:"partial"`
}

// DefaultThresholds returns the 80% acceptance and 50% partial floor
func DefaultThresholds() Thresholds {
	return Thresholds{Success: 0.80, Partial: 0.50}
}

// Evaluate maps a completion ratio to a terminal phase. A job with no
// completed segments is always failed.
func (t Thresholds) Evaluate(okCount, total int) Phase {
	if okCount <= 0 || total <= 0 {
		return PhaseFailed
	}
	ratio := CompletionRatio(okCount, total)
	switch {
	case ratio >= t.Success:
		return PhaseSucceeded
	case ratio >= t.Partial:
		return PhasePartial
	default:
		return PhaseFailed
	}
}

// CompletionRatio returns okCount/total clamped to [0,1]
func CompletionRatio(okCount, total int) float64 {
	if total <= 0 || okCount <= 0 {
		return 0
	}
	if okCount >= total {
		return 1
	}
	return float64(okCount) / float64(total)
}

// Job is the persisted summary of a download job. Credentials and media
// bytes are never stored.
type Job struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	URL             string     `json:"url" gorm:"not null"`
	Platform        Platform   `json:"platform,omitempty"`
	LinkKind        LinkKind   `json:"link_kind,omitempty"`
	Phase           Phase      `json:"phase" gorm:"not null;index"`
	ErrorKind       ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ManifestURL     string     `json:"manifest_url,omitempty"`
	Title           string     `json:"title,omitempty"`
	SegmentsTotal   int        `json:"segments_total"`
	SegmentsOK      int        `json:"segments_ok"`
	SegmentsFailed  int        `json:"segments_failed"`
	CompletionRatio float64    `json:"completion_ratio"`
	Degraded        bool       `json:"degraded"`
	ArtifactPath    string     `json:"artifact_path,omitempty"`
	ArtifactBytes   int64      `json:"artifact_bytes"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a new pending job
func NewJob(url string) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		URL:       url,
		Phase:     PhasePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkStarted records the start of processing
func (j *Job) MarkStarted() {
	now := time.Now()
	j.StartedAt = &now
	j.UpdatedAt = now
}

// ApplyProgress copies a progress snapshot onto the job
func (j *Job) ApplyProgress(p JobProgress) {
	j.Phase = p.Phase
	if p.Classification != nil {
		j.Platform = p.Classification.Platform
		j.LinkKind = p.Classification.Kind
	}
	if p.Source != nil {
		j.ManifestURL = p.Source.ManifestURL
		j.Title = p.Source.Title
	}
	j.SegmentsTotal = p.SegmentsTotal
	j.SegmentsOK = p.SegmentsOK
	j.SegmentsFailed = p.SegmentsFailed
	j.CompletionRatio = CompletionRatio(p.SegmentsOK, p.SegmentsTotal)
	j.UpdatedAt = time.Now()
}

// ApplyResult copies a terminal result onto the job
func (j *Job) ApplyResult(r *JobResult) {
	j.Phase = r.Phase
	j.ErrorKind = r.ErrorKind
	j.ErrorMessage = r.ErrorMessage
	if r.Classification != nil {
		j.Platform = r.Classification.Platform
		j.LinkKind = r.Classification.Kind
	}
	if r.Source != nil {
		j.ManifestURL = r.Source.ManifestURL
		j.Title = r.Source.Title
	}
	j.SegmentsTotal = r.SegmentsTotal
	j.SegmentsOK = r.SegmentsOK
	j.SegmentsFailed = r.SegmentsTotal - r.SegmentsOK
	j.CompletionRatio = r.CompletionRatio
	j.Degraded = r.Degraded
	j.ArtifactPath = r.ArtifactRef
	j.ArtifactBytes = r.ArtifactBytes
	now := time.Now()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed marks the job as failed with a typed error
func (j *Job) MarkFailed(err error) {
	de := AsError(err)
	j.Phase = PhaseFailed
	j.ErrorKind = de.Kind
	j.ErrorMessage = de.PublicMessage()
	now := time.Now()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// IsTerminal checks if the job is in a terminal phase
func (j *Job) IsTerminal() bool {
	return j.Phase.IsTerminal()
}

// IsPending checks if the job is waiting in the queue
func (j *Job) IsPending() bool {
	return j.Phase == PhasePending
}

// JobRequest is the input of one job run
type JobRequest struct {
	ID          string
	URL         string
	Credentials Credentials
}

// JobProgress is a snapshot reported while a job runs
type JobProgress struct {
	JobID          string
	Phase          Phase
	Classification *Classification
	Source         *ResolvedSource
	SegmentsTotal  int
	SegmentsOK     int
	SegmentsFailed int
}

// JobProgressCallback receives progress snapshots
type JobProgressCallback func(progress JobProgress)

// JobResult is the terminal result of a job
type JobResult struct {
	JobID           string          `json:"job_id"`
	Phase           Phase           `json:"status"`
	ErrorKind       ErrorKind       `json:"error_kind,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Classification  *Classification `json:"classification,omitempty"`
	Source          *ResolvedSource `json:"source,omitempty"`
	SegmentsTotal   int             `json:"segments_total"`
	SegmentsOK      int             `json:"segments_ok"`
	CompletionRatio float64         `json:"completion_ratio"`
	Degraded        bool            `json:"degraded"`
	ArtifactRef     string          `json:"artifact_ref,omitempty"`
	ArtifactBytes   int64           `json:"artifact_bytes"`
}

// SourceInfo describes a link without downloading it
type SourceInfo struct {
	LinkKind     LinkKind `json:"link_kind"`
	Platform     Platform `json:"platform"`
	ManifestURL  string   `json:"manifest_url"`
	KeyHint      string   `json:"key_hint,omitempty"`
	Title        string   `json:"title,omitempty"`
	SegmentCount int      `json:"segment_count"`
	Encrypted    bool     `json:"encrypted"`
	Degraded     bool     `json:"degraded"`

	Access *CourseAccess `json:"access,omitempty"`
}
