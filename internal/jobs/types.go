package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by a JobStore for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeVoice represents transcribing one clip into a ledger target.
	JobTypeVoice JobType = "voice"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed. Voice jobs are never retried automatically.
	JobStatusFailed JobStatus = "failed"
	// JobStatusDiscarded indicates the result arrived after a reset and was ignored.
	JobStatusDiscarded JobStatus = "discarded"
)

// VoiceJob is one recorded clip waiting to be written into the ledger.
type VoiceJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Target is the key of the ledger target, e.g. "info:period" or "smart-add".
	Target string `json:"target"`

	// MIMEType is the encoding of the clip.
	MIMEType string `json:"mime_type"`

	// Clip holds the recorded audio. It is not serialized.
	Clip []byte `json:"-"`

	// Generation is the coordinator generation the job was submitted in.
	Generation uint64 `json:"generation"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// Result is the text or row id written into the ledger.
	Result string `json:"result,omitempty"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *VoiceJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *VoiceJob) GetType() JobType {
	return JobTypeVoice
}

// GetStatus implements the Job interface.
func (j *VoiceJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishVoice publishes a voice job.
	PublishVoice(ctx context.Context, job *VoiceJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// A non-nil error marks the job failed; it is not retried.
type JobHandler func(ctx context.Context, job *VoiceJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *VoiceJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*VoiceJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*VoiceJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Target filters jobs by target key.
	Target string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
