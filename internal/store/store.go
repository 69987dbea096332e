package store

import (
	"time"

	"github.com/nwestra/loopmix/internal/assets"
	"github.com/nwestra/loopmix/internal/jobs"
)

// Store defines the persistence interface for job data.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateJob inserts a new job and returns its assigned ID.
	CreateJob(job *jobs.Job) (int64, error)

	// SaveJob updates an existing job by ID.
	SaveJob(job *jobs.Job) error

	// GetJob retrieves a job by ID. Returns nil if not found.
	GetJob(id int64) (*jobs.Job, error)

	// ListJobs returns jobs newest-first. A limit <= 0 returns all jobs.
	ListJobs(limit int) ([]*jobs.Job, error)

	// GetJobsByStatus returns all jobs with the given status, oldest first.
	GetJobsByStatus(status jobs.Status) ([]*jobs.Job, error)

	// NextQueued returns the oldest queued job, or nil if none exist.
	NextQueued() (*jobs.Job, error)

	// ClaimQueued atomically moves a queued job to running.
	// Returns false when the job was no longer queued (cancelled, claimed
	// by another worker, or deleted).
	ClaimQueued(id int64, startedAt time.Time) (bool, error)

	// FailInterrupted marks every non-terminal job as failed. Called once
	// on startup so that no job ever resumes silently after a restart.
	// Returns the number of jobs failed.
	FailInterrupted(reason string) (int, error)

	// DeleteJob removes a job by ID. Asset records and upload records are
	// removed by cascade. Returns nil if the job doesn't exist.
	DeleteJob(id int64) error

	// AddFile records an uploaded asset. Re-uploading the same filename in
	// the same class replaces the earlier record.
	AddFile(rec *assets.Record) error

	// DeleteFile removes one asset record. Returns the removed record's
	// path, or "" if no record matched.
	DeleteFile(jobID int64, class assets.Class, filename string) (string, error)

	// GetFiles returns a job's asset records for one class, oldest first.
	GetFiles(jobID int64, class assets.Class) ([]assets.Record, error)

	// FileCounts returns per-class asset counts for a job.
	FileCounts(jobID int64) (map[assets.Class]int, error)

	// AddUpload records a published copy of a finished build.
	AddUpload(up *jobs.Upload) (int64, error)

	// ListUploads returns a job's upload records, newest first.
	ListUploads(jobID int64) ([]jobs.Upload, error)

	// CleanupOlderThan deletes terminal jobs created before the cutoff and
	// returns them so the caller can remove their run directories.
	CleanupOlderThan(cutoff time.Time) ([]*jobs.Job, error)

	// Close closes the store and releases resources.
	Close() error
}
